// Package quota gates outbound provider calls against a monthly hard cap
// and a daily soft cap, backed by a persistent usage ledger.
package quota

import (
	"context"
	"fmt"
	"time"

	"reviewsync/internal/domain"
)

const (
	monthKeyPrefix = "m:"
	dayKeyPrefix   = "d:"

	// The daily cap yields once the projected monthly burn stays under
	// this share of the monthly cap.
	burnRateThreshold = 0.9

	dailyKeysKept = 31
)

type Quota struct {
	ledger       domain.LedgerStore
	monthlyLimit int
	dailyLimit   int
	now          func() time.Time
}

func New(ledger domain.LedgerStore, monthlyLimit, dailyLimit int, now func() time.Time) *Quota {
	if now == nil {
		now = time.Now
	}
	return &Quota{ledger: ledger, monthlyLimit: monthlyLimit, dailyLimit: dailyLimit, now: now}
}

func monthKey(t time.Time) string { return monthKeyPrefix + t.Format("2006-01") }
func dayKey(t time.Time) string   { return dayKeyPrefix + t.Format("2006-01-02") }

func daysInMonth(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, 1, -1).Day()
}

func (q *Quota) usage(ctx context.Context) (monthly, daily int, err error) {
	t := q.now()
	counts, err := q.ledger.Counts(ctx, []string{monthKey(t), dayKey(t)})
	if err != nil {
		return 0, 0, fmt.Errorf("read usage ledger: %w", err)
	}
	return counts[monthKey(t)], counts[dayKey(t)], nil
}

// CanCall reports whether n more outbound calls fit the budget. The monthly
// cap is hard; the daily cap only denies while the projected monthly burn
// rate already crowds the monthly budget.
func (q *Quota) CanCall(ctx context.Context, n int) (bool, string, error) {
	monthly, daily, err := q.usage(ctx)
	if err != nil {
		return false, "", err
	}
	t := q.now()

	if monthly+n > q.monthlyLimit {
		reset := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
		return false, fmt.Sprintf(
			"monthly API quota exhausted (%d/%d used); resets %s",
			monthly, q.monthlyLimit, reset.Format("2006-01-02")), nil
	}

	if daily+n > q.dailyLimit {
		projected := float64(monthly) / float64(t.Day()) * float64(daysInMonth(t))
		if projected > burnRateThreshold*float64(q.monthlyLimit) {
			return false, fmt.Sprintf(
				"daily API limit reached (%d/%d) and monthly burn rate is high (%d/%d used)",
				daily, q.dailyLimit, monthly, q.monthlyLimit), nil
		}
	}

	return true, "", nil
}

// Debit records n calls against the current month and day, exactly once per
// successful outbound call (never per record returned). Stale ledger keys
// are trimmed on the same write path to bound storage growth.
func (q *Quota) Debit(ctx context.Context, n int) error {
	t := q.now()
	if err := q.ledger.Increment(ctx, []string{monthKey(t), dayKey(t)}, n); err != nil {
		return fmt.Errorf("debit usage ledger: %w", err)
	}

	// step back from the first of the month so short months don't
	// normalize the key forward again
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	keepMonths := []string{monthKey(t), monthKey(first.AddDate(0, -1, 0))}
	keepDays := make([]string, 0, dailyKeysKept)
	for i := 0; i < dailyKeysKept; i++ {
		keepDays = append(keepDays, dayKey(t.AddDate(0, 0, -i)))
	}
	return q.ledger.Prune(ctx, keepMonths, keepDays)
}

func (q *Quota) Stats(ctx context.Context) (domain.QuotaStats, error) {
	monthly, daily, err := q.usage(ctx)
	if err != nil {
		return domain.QuotaStats{}, err
	}
	t := q.now()
	return domain.QuotaStats{
		MonthlyUsed:  monthly,
		MonthlyLimit: q.monthlyLimit,
		DailyUsed:    daily,
		DailyLimit:   q.dailyLimit,
		DaysInMonth:  daysInMonth(t),
		CurrentDay:   t.Day(),
	}, nil
}
