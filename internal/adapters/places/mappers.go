package places

import (
	"strconv"
	"strings"

	"reviewsync/internal/domain"
)

// The feed's field names drift between provider versions; an alias registry
// keeps the tolerance in one place.
var recordAliases = map[string][]string{
	"native_id":  {"id", "review_id", "reviewId"},
	"author":     {"author_name", "author", "name", "userName", "reviewer", "reviewer.name"},
	"photo":      {"profile_photo_url", "author_photo", "photo", "avatar", "reviewer.photo"},
	"profile":    {"author_url", "profile_url", "reviewer.url"},
	"text":       {"text", "review_text", "snippet", "comment", "content", "body"},
	"time":       {"relative_time_description", "time_text", "time", "date", "created_at"},
	"lang":       {"language", "lang", "locale"},
	"resp_text":  {"reply.text", "response.text", "owner_response"},
	"resp_time":  {"reply.time", "response.time", "owner_response_time"},
	"rating":     {"rating", "rate", "score", "stars"},
	"total":      {"user_ratings_total", "total_reviews", "review_count", "total"},
	"avg_rating": {"rating", "average_rating", "avg_rating"},
}

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return v
	case float64:
		// numeric IDs arrive as JSON numbers
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

func firstNonEmpty(m map[string]any, key string) string {
	for _, p := range recordAliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(m map[string]any, key string) (float64, bool) {
	for _, p := range recordAliases[key] {
		switch v := lookupAny(m, p).(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// mapRecords converts the loose feed payload into typed raw records,
// dropping entries with no author at all (nothing to fingerprint).
func mapRecords(in []map[string]any) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, len(in))
	for _, m := range in {
		rec := domain.RawRecord{
			NativeID:     firstNonEmpty(m, "native_id"),
			AuthorName:   firstNonEmpty(m, "author"),
			PhotoURL:     firstNonEmpty(m, "photo"),
			ProfileURL:   firstNonEmpty(m, "profile"),
			Text:         firstNonEmpty(m, "text"),
			TimeText:     firstNonEmpty(m, "time"),
			Lang:         firstNonEmpty(m, "lang"),
			ResponseText: firstNonEmpty(m, "resp_text"),
			RespondedAt:  firstNonEmpty(m, "resp_time"),
		}
		if rec.AuthorName == "" {
			continue
		}
		if f, ok := firstFloat(m, "rating"); ok {
			rec.Rating = int(f + 0.5)
		}
		if v, ok := m["verified"].(bool); ok {
			rec.Verified = &v
		}
		out = append(out, rec)
	}
	return out
}

func mapMetadata(placeRef string, m map[string]any) domain.PlaceMetadata {
	md := domain.PlaceMetadata{PlaceRef: placeRef}
	if f, ok := firstFloat(m, "total"); ok {
		md.TotalReviews = int(f)
	}
	if f, ok := firstFloat(m, "avg_rating"); ok {
		md.AverageRating = f
	}
	return md
}
