package app

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Upstream time strings arrive either as absolute dates in a handful of
// layouts or as relative language ("3 days ago"). Absolute parses win; a
// sanity floor rejects garbage that happens to parse (epoch zeroes etc.).
var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"02/01/2006",
	"2006/01/02",
}

const sanityFloorYear = 2000

var relativeRe = regexp.MustCompile(`^(a|an|one|\d+)\s+(hour|day|week|month|year)s?\s+ago$`)

// NormalizeTime resolves raw into an instant relative to now. It never
// fails: unparseable input yields now itself, so time ordering downstream
// always has something to work with.
func NormalizeTime(raw string, now time.Time) time.Time {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return now
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			if t.Year() >= sanityFloorYear {
				return t
			}
		}
	}
	// unix seconds
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if t := time.Unix(n, 0).UTC(); t.Year() >= sanityFloorYear {
			return t
		}
	}

	switch s {
	case "today", "just now", "now":
		return now
	case "yesterday":
		return now.AddDate(0, 0, -1)
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n := 1
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
		switch m[2] {
		case "hour":
			return now.Add(-time.Duration(n) * time.Hour)
		case "day":
			return now.AddDate(0, 0, -n)
		case "week":
			return now.AddDate(0, 0, -7*n)
		case "month":
			return now.AddDate(0, -n, 0)
		case "year":
			return now.AddDate(-n, 0, 0)
		}
	}

	return now
}
