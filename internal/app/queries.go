package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reviewsync/internal/domain"
)

// metadataStaleness bounds how old an upstream-reported aggregate may be
// before the locally computed stats win again.
const metadataStaleness = 24 * time.Hour

type QueryService struct {
	store    domain.ReviewStore
	cache    domain.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

func NewQueryService(s domain.ReviewStore, cache domain.Cache, ttl time.Duration, now func() time.Time) *QueryService {
	if now == nil {
		now = time.Now
	}
	return &QueryService{store: s, cache: cache, cacheTTL: ttl, now: now}
}

func (s *QueryService) ListReviews(ctx context.Context, q domain.ReviewQuery) ([]domain.Review, error) {
	key := listCacheKey(q)
	if key != "" && s.cache != nil {
		var out []domain.Review
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}

	out, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if key != "" && s.cache != nil {
		_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
	}
	return out, nil
}

// cachedListLimits is the closed set of listing shapes worth caching; the
// invalidation paths delete exactly these keys, so any limit outside the
// set must bypass the cache entirely.
var cachedListLimits = []int{20, 50, 100}

// Only the plain newest-first listings are worth caching; filtered variants
// go straight to the store.
func listCacheKey(q domain.ReviewQuery) string {
	if q.Platform != "" || q.MinRating > 0 || q.TextOnly || q.Offset > 0 || !q.VisibleOnly {
		return ""
	}
	if q.OrderBy != "" && q.OrderBy != "newest" {
		return ""
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	for _, l := range cachedListLimits {
		if limit == l {
			return fmt.Sprintf("reviews:%s:%d:newest", q.PlaceRef, limit)
		}
	}
	return ""
}

// Stats aggregates visible rows for a place, with the upstream-reported
// total/average superseding the local sample while the stored metadata
// snapshot is fresher than 24h. An official count sees the whole
// population; the local table may hold a partial sample.
func (s *QueryService) Stats(ctx context.Context, placeRef string) (domain.ReviewStats, error) {
	key := "stats:" + placeRef
	if s.cache != nil {
		var st domain.ReviewStats
		if ok, _ := s.cache.Get(ctx, key, &st); ok {
			return st, nil
		}
	}

	st, err := s.store.Stats(ctx, placeRef)
	if err != nil {
		return domain.ReviewStats{}, err
	}

	md, err := s.store.GetMetadata(ctx, placeRef)
	switch {
	case err == nil:
		if s.now().Sub(md.FetchedAt) < metadataStaleness {
			st.Total = md.TotalReviews
			st.AverageRating = float64(int(md.AverageRating*10+0.5)) / 10
			st.OfficialOverride = true
		}
	case errors.Is(err, domain.ErrNotFound):
		// no snapshot; local stats stand
	default:
		return domain.ReviewStats{}, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, st, int(s.cacheTTL.Seconds()))
	}
	return st, nil
}
