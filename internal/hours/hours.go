// Package hours is the read-only business-hours collaborator composed next
// to stats for display. The sync core has no dependency on it; when no
// schedule is configured a Noop implementation is injected instead of
// checking for the capability at runtime.
package hours

import (
	"strings"
	"time"
)

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

type span struct{ open, close int } // minutes since midnight

type Static struct {
	spans map[time.Weekday]span
	raw   map[string]string
	now   func() time.Time
}

// Noop reports closed with an empty schedule.
type Noop struct{}

func (Noop) IsOpenNow() bool                { return false }
func (Noop) WeeklyHours() map[string]string { return map[string]string{} }

// Parse reads a schedule like "mon=09:00-17:00,tue=09:00-17:00,sat=10:00-14:00".
// Unlisted days are closed. An empty spec yields a Noop-equivalent schedule.
func Parse(spec string, now func() time.Time) *Static {
	if now == nil {
		now = time.Now
	}
	s := &Static{spans: map[time.Weekday]span{}, raw: map[string]string{}, now: now}
	for _, part := range strings.Split(spec, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		day, ok := dayNames[strings.ToLower(kv[0])]
		if !ok {
			continue
		}
		rng := strings.SplitN(kv[1], "-", 2)
		if len(rng) != 2 {
			continue
		}
		open, ok1 := parseClock(rng[0])
		close, ok2 := parseClock(rng[1])
		if !ok1 || !ok2 || close <= open {
			continue
		}
		s.spans[day] = span{open: open, close: close}
		s.raw[strings.ToLower(kv[0])] = kv[1]
	}
	return s
}

func parseClock(v string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func (s *Static) IsOpenNow() bool {
	t := s.now()
	sp, ok := s.spans[t.Weekday()]
	if !ok {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= sp.open && m < sp.close
}

func (s *Static) WeeklyHours() map[string]string {
	out := make(map[string]string, len(s.raw))
	for d, v := range s.raw {
		out[d] = v
	}
	return out
}
