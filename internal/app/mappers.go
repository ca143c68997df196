package app

import (
	"strings"
	"time"

	"reviewsync/internal/domain"
)

// buildReview normalizes one raw upstream record into a Review ready for
// the fingerprint diff. Visible defaults to true; the upsert path never
// touches it on update.
func buildReview(placeRef, platform string, raw domain.RawRecord, now time.Time) domain.Review {
	verified := true
	if raw.Verified != nil {
		verified = *raw.Verified
	}

	var text *string
	if t := strings.TrimSpace(raw.Text); t != "" {
		text = &t
	}

	var resp *domain.Response
	if rt := strings.TrimSpace(raw.ResponseText); rt != "" {
		resp = &domain.Response{Text: rt}
		if raw.RespondedAt != "" {
			at := NormalizeTime(raw.RespondedAt, now)
			resp.RespondedAt = &at
		}
	}

	return domain.Review{
		Fingerprint: RecordFingerprint(raw),
		PlaceRef:    placeRef,
		Platform:    normalizePlatform(platform),
		Author: domain.Author{
			Name:       strings.TrimSpace(raw.AuthorName),
			PhotoURL:   raw.PhotoURL,
			ProfileURL: raw.ProfileURL,
		},
		Rating:     clampRating(raw.Rating),
		Text:       text,
		OccurredAt: NormalizeTime(raw.TimeText, now),
		IngestedAt: now,
		Visible:    true,
		IsManual:   false,
		Source:     domain.SourceAPI,
		Response:   resp,
		Verified:   verified,
	}
}

func clampRating(r int) int {
	if r < 1 {
		return 1
	}
	if r > 5 {
		return 5
	}
	return r
}

func normalizePlatform(p string) string {
	switch s := strings.ToLower(strings.TrimSpace(p)); s {
	case domain.PlatformGoogle, domain.PlatformFacebook,
		domain.PlatformTrustpilot, domain.PlatformYelp:
		return s
	case "":
		return domain.PlatformOther
	default:
		return s
	}
}

// contentChanged implements the skip-if-unchanged comparison: only text,
// rating and occurredAt participate. Author-photo or response changes do
// not count as a content change.
func contentChanged(existing, incoming domain.Review) bool {
	if existing.Rating != incoming.Rating {
		return true
	}
	if derefStr(existing.Text) != derefStr(incoming.Text) {
		return true
	}
	return !existing.OccurredAt.Equal(incoming.OccurredAt)
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
