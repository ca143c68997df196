package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"reviewsync/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func reviewArgs(r domain.Review) []any {
	var respText, respAt any
	if r.Response != nil {
		respText = nullableStr(r.Response.Text)
		if r.Response.RespondedAt != nil {
			respAt = r.Response.RespondedAt.UTC()
		}
	}
	return []any{
		r.Fingerprint,
		r.PlaceRef,
		r.Platform,
		r.Author.Name,
		nullableStr(r.Author.PhotoURL),
		nullableStr(r.Author.ProfileURL),
		r.Rating,
		valStr(r.Text),
		r.OccurredAt.UTC(),
		r.IngestedAt.UTC(),
		r.Visible,
		r.IsManual,
		r.Source,
		respText,
		respAt,
		r.Verified,
	}
}

func (r *Repo) Upsert(ctx context.Context, rv domain.Review) error {
	_, err := r.db.ExecContext(ctx, upsertReviewSQL, reviewArgs(rv)...)
	return err
}

func (r *Repo) AddManual(ctx context.Context, rv domain.Review) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertManualSQL, reviewArgs(rv)...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanReview(sc interface{ Scan(...any) error }) (domain.Review, error) {
	var rv domain.Review
	var (
		text, photo, profile, respText sql.NullString
		respondedAt                    sql.NullTime
	)
	if err := sc.Scan(
		&rv.ID,
		&rv.Fingerprint,
		&rv.PlaceRef,
		&rv.Platform,
		&rv.Author.Name,
		&photo,
		&profile,
		&rv.Rating,
		&text,
		&rv.OccurredAt,
		&rv.IngestedAt,
		&rv.Visible,
		&rv.IsManual,
		&rv.Source,
		&respText,
		&respondedAt,
		&rv.Verified,
	); err != nil {
		return domain.Review{}, err
	}
	if photo.Valid {
		rv.Author.PhotoURL = photo.String
	}
	if profile.Valid {
		rv.Author.ProfileURL = profile.String
	}
	if text.Valid {
		t := text.String
		rv.Text = &t
	}
	if respText.Valid {
		rv.Response = &domain.Response{Text: respText.String}
		if respondedAt.Valid {
			at := respondedAt.Time
			rv.Response.RespondedAt = &at
		}
	}
	return rv, nil
}

func (r *Repo) GetByFingerprint(ctx context.Context, fp string) (domain.Review, error) {
	rv, err := scanReview(r.db.QueryRowContext(ctx, getByFingerprintSQL, fp))
	if err == sql.ErrNoRows {
		return domain.Review{}, domain.ErrNotFound
	}
	return rv, err
}

func (r *Repo) ExistingFingerprints(ctx context.Context, placeRef string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, existingFingerprintsSQL, placeRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out[fp] = struct{}{}
	}
	return out, rows.Err()
}

func (r *Repo) Query(ctx context.Context, q domain.ReviewQuery) ([]domain.Review, error) {
	var (
		where = []string{"(place_ref = ? OR is_manual = 1)"}
		args  = []any{q.PlaceRef}
	)
	if q.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, q.Platform)
	}
	if q.MinRating > 0 {
		where = append(where, "rating >= ?")
		args = append(args, q.MinRating)
	}
	if q.VisibleOnly {
		where = append(where, "visible = 1")
	}
	if q.TextOnly {
		where = append(where, "`text` IS NOT NULL AND `text` != ''")
	}

	order := "occurred_at DESC, id DESC"
	switch q.OrderBy {
	case "oldest":
		order = "occurred_at ASC, id ASC"
	case "highest":
		order = "rating DESC, occurred_at DESC"
	case "lowest":
		order = "rating ASC, occurred_at DESC"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, q.Offset)

	sqlStr := "SELECT " + selectReviewCols + " FROM reviews WHERE " +
		strings.Join(where, " AND ") + " ORDER BY " + order + " LIMIT ? OFFSET ?"

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *Repo) SetVisibility(ctx context.Context, id int64, visible bool) error {
	return r.execOne(ctx, setVisibilitySQL, visible, id)
}

func (r *Repo) UpdateText(ctx context.Context, id int64, text string) error {
	return r.execOne(ctx, updateTextSQL, nullableStr(text), id)
}

func (r *Repo) Delete(ctx context.Context, id int64) error {
	return r.execOne(ctx, deleteReviewSQL, id)
}

func (r *Repo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repo) LatestAPIIngestedAt(ctx context.Context, placeRef string) (*time.Time, error) {
	var t sql.NullTime
	if err := r.db.QueryRowContext(ctx, latestAPIIngestedSQL, placeRef).Scan(&t); err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

func (r *Repo) RecordSyncAttempt(ctx context.Context, placeRef string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, recordSyncAttemptSQL, placeRef, at.UTC())
	return err
}

func (r *Repo) LastSyncAttempt(ctx context.Context, placeRef string) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx, lastSyncAttemptSQL, placeRef).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repo) Stats(ctx context.Context, placeRef string) (domain.ReviewStats, error) {
	var (
		st     domain.ReviewStats
		avg    float64
		hist   [5]sql.NullInt64
		latest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, statsAggregateSQL, placeRef).Scan(
		&st.Total, &avg,
		&hist[0], &hist[1], &hist[2], &hist[3], &hist[4],
		&latest,
	); err != nil {
		return domain.ReviewStats{}, err
	}
	// one-decimal rounding happens here so every reader agrees
	st.AverageRating = float64(int(avg*10+0.5)) / 10
	for i, h := range hist {
		if h.Valid {
			st.RatingHistogram[i] = int(h.Int64)
		}
	}
	if latest.Valid {
		t := latest.Time
		st.LatestOccurredAt = &t
	}

	rows, err := r.db.QueryContext(ctx, statsPlatformSQL, placeRef)
	if err != nil {
		return domain.ReviewStats{}, err
	}
	defer rows.Close()
	st.PlatformBreakdown = make(map[string]int)
	for rows.Next() {
		var platform string
		var n int
		if err := rows.Scan(&platform, &n); err != nil {
			return domain.ReviewStats{}, err
		}
		st.PlatformBreakdown[platform] = n
	}
	if err := rows.Err(); err != nil {
		return domain.ReviewStats{}, err
	}

	last, err := r.LatestAPIIngestedAt(ctx, placeRef)
	if err != nil {
		return domain.ReviewStats{}, err
	}
	st.LastSyncAt = last
	return st, nil
}

func (r *Repo) SaveMetadata(ctx context.Context, m domain.PlaceMetadata) error {
	_, err := r.db.ExecContext(ctx, upsertMetadataSQL,
		m.PlaceRef, m.TotalReviews, m.AverageRating, m.FetchedAt.UTC())
	return err
}

func (r *Repo) GetMetadata(ctx context.Context, placeRef string) (domain.PlaceMetadata, error) {
	var m domain.PlaceMetadata
	err := r.db.QueryRowContext(ctx, getMetadataSQL, placeRef).
		Scan(&m.PlaceRef, &m.TotalReviews, &m.AverageRating, &m.FetchedAt)
	if err == sql.ErrNoRows {
		return domain.PlaceMetadata{}, domain.ErrNotFound
	}
	return m, err
}

// ---- usage ledger ----

type Ledger struct{ db *sql.DB }

func NewLedger(db *sql.DB) *Ledger { return &Ledger{db: db} }

func (l *Ledger) Increment(ctx context.Context, keys []string, n int) error {
	for _, k := range keys {
		if _, err := l.db.ExecContext(ctx, ledgerIncrementSQL, k, n); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) Counts(ctx context.Context, keys []string) (map[string]int, error) {
	if len(keys) == 0 {
		return map[string]int{}, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT period_key, count FROM usage_ledger WHERE period_key IN (%s)", ph),
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int, len(keys))
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

func (l *Ledger) Prune(ctx context.Context, keepMonths, keepDays []string) error {
	prune := func(base string, keep []string) error {
		if len(keep) == 0 {
			return nil
		}
		ph := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
		args := make([]any, len(keep))
		for i, k := range keep {
			args[i] = k
		}
		_, err := l.db.ExecContext(ctx, base+" ("+ph+")", args...)
		return err
	}
	if err := prune(ledgerPruneMonthsSQL, keepMonths); err != nil {
		return err
	}
	return prune(ledgerPruneDaysSQL, keepDays)
}
