package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/domain"
	"reviewsync/internal/quota"
)

// DefaultCooldown is the minimum gap between billed fetches for one place.
// The provider bills per call and reviews arrive slowly; re-fetching hourly
// buys nothing.
const DefaultCooldown = 48 * time.Hour

type SyncService struct {
	provider domain.UpstreamProvider
	store    domain.ReviewStore
	quota    *quota.Quota
	cache    domain.Cache
	platform string
	now      func() time.Time
	cooldown time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSyncService(p domain.UpstreamProvider, s domain.ReviewStore, q *quota.Quota, cache domain.Cache, platform string, now func() time.Time, cooldown time.Duration) *SyncService {
	if now == nil {
		now = time.Now
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if platform == "" {
		platform = domain.PlatformGoogle
	}
	return &SyncService{
		provider: p,
		store:    s,
		quota:    q,
		cache:    cache,
		platform: platform,
		now:      now,
		cooldown: cooldown,
		locks:    map[string]*sync.Mutex{},
	}
}

// placeLock serializes overlapping syncs for the same place, closing the
// quota admission-check-then-debit race between an admin click and a
// simultaneous cron tick.
func (s *SyncService) placeLock(placeRef string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[placeRef]
	if !ok {
		l = &sync.Mutex{}
		s.locks[placeRef] = l
	}
	return l
}

// Sync runs one quota-gated fetch-and-merge pass for a place. Gate refusals
// come back as *domain.AdmissionError; an upstream failure aborts before any
// quota is spent; a single row failing to persist never aborts the batch.
func (s *SyncService) Sync(ctx context.Context, placeRef string, force bool) (domain.SyncOutcome, error) {
	if placeRef == "" || placeRef == domain.PlaceRefManual {
		return domain.SyncOutcome{}, domain.ErrNoPlace
	}
	// manual-only deployments wire no provider at all
	if s.provider == nil {
		return domain.SyncOutcome{}, domain.ErrNoPlace
	}

	l := s.placeLock(placeRef)
	l.Lock()
	defer l.Unlock()

	now := s.now()

	// 1) cooldown gate. The attempt timestamp, not the last written row, is
	// what holds the gate: a caught-up sync writes nothing but still made a
	// billed call.
	if !force {
		last, err := s.store.LastSyncAttempt(ctx, placeRef)
		if err != nil {
			return domain.SyncOutcome{}, fmt.Errorf("read last sync time: %w", err)
		}
		if last == nil {
			// rows that predate attempt tracking still hold the gate
			if last, err = s.store.LatestAPIIngestedAt(ctx, placeRef); err != nil {
				return domain.SyncOutcome{}, fmt.Errorf("read last sync time: %w", err)
			}
		}
		if last != nil {
			if elapsed := now.Sub(*last); elapsed < s.cooldown {
				remaining := s.cooldown - elapsed
				return domain.SyncOutcome{}, &domain.AdmissionError{
					Reason: fmt.Sprintf("synced recently; try again in %dh or use force",
						int(remaining.Hours()+0.5)),
				}
			}
		}
	}

	// 2) quota gate
	ok, reason, err := s.quota.CanCall(ctx, 1)
	if err != nil {
		return domain.SyncOutcome{}, err
	}
	if !ok {
		return domain.SyncOutcome{}, &domain.AdmissionError{Reason: reason}
	}

	// 3) fetch — the known set is a provider-side skip hint only; the diff
	// below re-validates every record regardless.
	known, err := s.store.ExistingFingerprints(ctx, placeRef)
	if err != nil {
		return domain.SyncOutcome{}, fmt.Errorf("load fingerprints: %w", err)
	}
	records, err := s.provider.Fetch(ctx, placeRef, known)
	if err != nil {
		observability.ObserveSync(placeRef, "fetch_error")
		return domain.SyncOutcome{}, fmt.Errorf("upstream fetch: %w", err)
	}

	// 4) a call was made; debit exactly one regardless of record count and
	// start the cooldown even when nothing comes back
	if err := s.quota.Debit(ctx, 1); err != nil {
		log.Error().Err(err).Str("place", placeRef).Msg("quota debit failed")
	}
	if err := s.store.RecordSyncAttempt(ctx, placeRef, now); err != nil {
		log.Error().Err(err).Str("place", placeRef).Msg("record sync attempt failed")
	}

	// 5) per-record upsert
	out := domain.SyncOutcome{TotalSeen: len(records)}
	for _, raw := range records {
		incoming := buildReview(placeRef, s.platform, raw, now)

		existing, err := s.store.GetByFingerprint(ctx, incoming.Fingerprint)
		switch {
		case err == nil:
			if existing.IsManual {
				// parallel population; never diffed against the feed
				out.Skipped++
				continue
			}
			if !contentChanged(existing, incoming) {
				out.Skipped++
				continue
			}
			if err := s.store.Upsert(ctx, incoming); err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("update %s: %v", incoming.Fingerprint, err))
				continue
			}
			out.Updated++
		case errors.Is(err, domain.ErrNotFound):
			if err := s.store.Upsert(ctx, incoming); err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("insert %s: %v", incoming.Fingerprint, err))
				continue
			}
			out.Inserted++
		default:
			out.Errors = append(out.Errors, fmt.Sprintf("lookup %s: %v", incoming.Fingerprint, err))
		}
	}

	s.invalidatePlace(ctx, placeRef)
	observability.ObserveSync(placeRef, "ok")
	observability.ObserveSyncOutcome(out.Inserted, out.Updated, out.Skipped, len(out.Errors))
	log.Info().
		Str("place", placeRef).
		Int("inserted", out.Inserted).
		Int("updated", out.Updated).
		Int("skipped", out.Skipped).
		Int("errors", len(out.Errors)).
		Msg("sync completed")
	return out, nil
}

// RefreshMetadata fetches the upstream-reported aggregate for a place and
// stores it for the stats override. It spends one quota unit; the sync
// cooldown does not apply.
func (s *SyncService) RefreshMetadata(ctx context.Context, placeRef string) (domain.PlaceMetadata, error) {
	if placeRef == "" || placeRef == domain.PlaceRefManual {
		return domain.PlaceMetadata{}, domain.ErrNoPlace
	}
	if s.provider == nil {
		return domain.PlaceMetadata{}, domain.ErrNoPlace
	}

	ok, reason, err := s.quota.CanCall(ctx, 1)
	if err != nil {
		return domain.PlaceMetadata{}, err
	}
	if !ok {
		return domain.PlaceMetadata{}, &domain.AdmissionError{Reason: reason}
	}

	md, err := s.provider.FetchPlaceMetadata(ctx, placeRef)
	if err != nil {
		return domain.PlaceMetadata{}, fmt.Errorf("fetch place metadata: %w", err)
	}
	if err := s.quota.Debit(ctx, 1); err != nil {
		log.Error().Err(err).Str("place", placeRef).Msg("quota debit failed")
	}

	md.FetchedAt = s.now()
	if err := s.store.SaveMetadata(ctx, md); err != nil {
		return domain.PlaceMetadata{}, fmt.Errorf("save place metadata: %w", err)
	}
	s.invalidatePlace(ctx, placeRef)
	return md, nil
}

func (s *SyncService) invalidatePlace(ctx context.Context, placeRef string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, "stats:"+placeRef)
	for _, lim := range cachedListLimits {
		_ = s.cache.Del(ctx, fmt.Sprintf("reviews:%s:%d:newest", placeRef, lim))
	}
}
