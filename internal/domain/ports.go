package domain

import (
	"context"
	"time"
)

type ReviewStore interface {
	// Write paths
	Upsert(ctx context.Context, r Review) error
	AddManual(ctx context.Context, r Review) (int64, error)
	SetVisibility(ctx context.Context, id int64, visible bool) error
	UpdateText(ctx context.Context, id int64, text string) error
	Delete(ctx context.Context, id int64) error
	SaveMetadata(ctx context.Context, m PlaceMetadata) error
	RecordSyncAttempt(ctx context.Context, placeRef string, at time.Time) error

	// Read paths
	GetByFingerprint(ctx context.Context, fp string) (Review, error)
	ExistingFingerprints(ctx context.Context, placeRef string) (map[string]struct{}, error)
	Query(ctx context.Context, q ReviewQuery) ([]Review, error)
	Stats(ctx context.Context, placeRef string) (ReviewStats, error)
	LatestAPIIngestedAt(ctx context.Context, placeRef string) (*time.Time, error)
	LastSyncAttempt(ctx context.Context, placeRef string) (*time.Time, error)
	GetMetadata(ctx context.Context, placeRef string) (PlaceMetadata, error)
}

// UpstreamProvider is the external review feed. Fetch is the billed call;
// known fingerprints are passed as a skip hint only — callers must still
// re-validate against the store.
type UpstreamProvider interface {
	Fetch(ctx context.Context, placeRef string, known map[string]struct{}) ([]RawRecord, error)
	FetchPlaceMetadata(ctx context.Context, placeRef string) (PlaceMetadata, error)
}

// LedgerStore persists call-usage counters keyed by period
// (m:YYYY-MM / d:YYYY-MM-DD). Increment must be atomic at the storage layer.
type LedgerStore interface {
	Increment(ctx context.Context, keys []string, n int) error
	Counts(ctx context.Context, keys []string) (map[string]int, error)
	Prune(ctx context.Context, keepMonths, keepDays []string) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// HoursClock is the business-hours collaborator, read-only and optional.
// A no-op implementation is injected when hours are not configured.
type HoursClock interface {
	IsOpenNow() bool
	WeeklyHours() map[string]string
}
