package app

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"reviewsync/internal/domain"
)

const fingerprintSnippetLen = 50

// Fingerprint derives a stable content identity for an upstream review:
// same author, same rating, same time text and the same text prefix is
// sufficient uniqueness in practice, and survives a feed that omits IDs.
func Fingerprint(authorName string, rating int, timeText, text string) string {
	snippet := text
	if len(snippet) > fingerprintSnippetLen {
		snippet = snippet[:fingerprintSnippetLen]
	}
	sig := strings.Join([]string{authorName, strconv.Itoa(rating), timeText, snippet}, "|")
	sum := sha1.Sum([]byte(sig))
	return hex.EncodeToString(sum[:])
}

// RecordFingerprint prefers the upstream native ID when the feed carries
// one, falling back to the computed content fingerprint.
func RecordFingerprint(r domain.RawRecord) string {
	if id := strings.TrimSpace(r.NativeID); id != "" {
		return id
	}
	return Fingerprint(r.AuthorName, r.Rating, r.TimeText, r.Text)
}
