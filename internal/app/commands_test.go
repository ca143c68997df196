package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"reviewsync/internal/app"
	"reviewsync/internal/domain"
	"reviewsync/internal/quota"
)

// ---- fakes ----

type memStore struct {
	mu       sync.Mutex
	seq      int64
	rows     map[string]domain.Review // keyed by fingerprint
	metadata map[string]domain.PlaceMetadata
	attempts map[string]time.Time
	failFPs  map[string]bool // fingerprints whose writes fail
}

func newMemStore() *memStore {
	return &memStore{
		rows:     map[string]domain.Review{},
		metadata: map[string]domain.PlaceMetadata{},
		attempts: map[string]time.Time{},
		failFPs:  map[string]bool{},
	}
}

func (m *memStore) Upsert(ctx context.Context, r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFPs[r.Fingerprint] {
		return fmt.Errorf("simulated write failure")
	}
	if old, ok := m.rows[r.Fingerprint]; ok {
		r.ID = old.ID
		r.Visible = old.Visible // content update must not touch visibility
		r.IsManual = old.IsManual
		r.Source = old.Source
	} else {
		m.seq++
		r.ID = m.seq
	}
	m.rows[r.Fingerprint] = r
	return nil
}

func (m *memStore) AddManual(ctx context.Context, r domain.Review) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.ID = m.seq
	m.rows[r.Fingerprint] = r
	return r.ID, nil
}

func (m *memStore) SetVisibility(ctx context.Context, id int64, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fp, r := range m.rows {
		if r.ID == id {
			r.Visible = visible
			m.rows[fp] = r
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) UpdateText(ctx context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fp, r := range m.rows {
		if r.ID == id {
			r.Text = &text
			m.rows[fp] = r
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fp, r := range m.rows {
		if r.ID == id {
			delete(m.rows, fp)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) SaveMetadata(ctx context.Context, md domain.PlaceMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[md.PlaceRef] = md
	return nil
}

func (m *memStore) GetByFingerprint(ctx context.Context, fp string) (domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[fp]
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ExistingFingerprints(ctx context.Context, placeRef string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]struct{}{}
	for fp, r := range m.rows {
		if r.Source == domain.SourceAPI && r.PlaceRef == placeRef {
			out[fp] = struct{}{}
		}
	}
	return out, nil
}

func (m *memStore) Query(ctx context.Context, q domain.ReviewQuery) ([]domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Review
	for _, r := range m.rows {
		if r.PlaceRef != q.PlaceRef && !r.IsManual {
			continue
		}
		if q.VisibleOnly && !r.Visible {
			continue
		}
		if q.MinRating > 0 && r.Rating < q.MinRating {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) Stats(ctx context.Context, placeRef string) (domain.ReviewStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := domain.ReviewStats{PlatformBreakdown: map[string]int{}}
	sum := 0
	for _, r := range m.rows {
		if !r.Visible || (r.PlaceRef != placeRef && !r.IsManual) {
			continue
		}
		st.Total++
		sum += r.Rating
		st.RatingHistogram[r.Rating-1]++
		st.PlatformBreakdown[r.Platform]++
	}
	if st.Total > 0 {
		st.AverageRating = float64(int(float64(sum)/float64(st.Total)*10+0.5)) / 10
	}
	return st, nil
}

func (m *memStore) LatestAPIIngestedAt(ctx context.Context, placeRef string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, r := range m.rows {
		if r.Source != domain.SourceAPI || r.PlaceRef != placeRef {
			continue
		}
		t := r.IngestedAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

func (m *memStore) RecordSyncAttempt(ctx context.Context, placeRef string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[placeRef] = at
	return nil
}

func (m *memStore) LastSyncAttempt(ctx context.Context, placeRef string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.attempts[placeRef]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memStore) GetMetadata(ctx context.Context, placeRef string) (domain.PlaceMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	md, ok := m.metadata[placeRef]
	if !ok {
		return domain.PlaceMetadata{}, domain.ErrNotFound
	}
	return md, nil
}

type memLedger struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemLedger() *memLedger { return &memLedger{counts: map[string]int{}} }

func (l *memLedger) Increment(ctx context.Context, keys []string, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		l.counts[k] += n
	}
	return nil
}

func (l *memLedger) Counts(ctx context.Context, keys []string) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]int{}
	for _, k := range keys {
		out[k] = l.counts[k]
	}
	return out, nil
}

func (l *memLedger) Prune(ctx context.Context, keepMonths, keepDays []string) error {
	keep := map[string]bool{}
	for _, k := range append(keepMonths, keepDays...) {
		keep[k] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.counts {
		if !keep[k] {
			delete(l.counts, k)
		}
	}
	return nil
}

type fakeProvider struct {
	records    []domain.RawRecord
	metadata   domain.PlaceMetadata
	err        error
	fetchCalls int
	lastKnown  map[string]struct{}
}

func (p *fakeProvider) Fetch(ctx context.Context, placeRef string, known map[string]struct{}) ([]domain.RawRecord, error) {
	p.fetchCalls++
	p.lastKnown = known
	if p.err != nil {
		return nil, p.err
	}
	return p.records, nil
}

func (p *fakeProvider) FetchPlaceMetadata(ctx context.Context, placeRef string) (domain.PlaceMetadata, error) {
	if p.err != nil {
		return domain.PlaceMetadata{}, p.err
	}
	return p.metadata, nil
}

// ---- helpers ----

var t0 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func rawRecords(n int) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.RawRecord{
			AuthorName: fmt.Sprintf("Reviewer %d", i),
			Rating:     4,
			Text:       fmt.Sprintf("Review number %d, quite pleasant overall.", i),
			TimeText:   "3 days ago",
		})
	}
	return out
}

func newEngine(p domain.UpstreamProvider, s domain.ReviewStore, l domain.LedgerStore) *app.SyncService {
	q := quota.New(l, 100, 3, fixedNow)
	return app.NewSyncService(p, s, q, nil, "google", fixedNow, 48*time.Hour)
}

// ---- tests ----

func TestSync_Idempotent(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{records: rawRecords(3)}
	engine := newEngine(provider, store, newMemLedger())

	out, err := engine.Sync(context.Background(), "place-1", false)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if out.Inserted != 3 || out.Updated != 0 || out.Skipped != 0 {
		t.Fatalf("first run: %+v", out)
	}

	out, err = engine.Sync(context.Background(), "place-1", true)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if out.Inserted != 0 || out.Updated != 0 || out.Skipped != 3 {
		t.Fatalf("second run: %+v", out)
	}
}

func TestSync_UpdatePreservesVisibility(t *testing.T) {
	store := newMemStore()
	// a native ID keeps the identity stable across the text edit below;
	// without one the content fingerprint would change and re-insert
	records := rawRecords(1)
	records[0].NativeID = "rv-100"
	provider := &fakeProvider{records: records}
	engine := newEngine(provider, store, newMemLedger())

	if _, err := engine.Sync(context.Background(), "place-1", false); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	// curator hides the row
	if err := store.SetVisibility(context.Background(), 1, false); err != nil {
		t.Fatalf("hide: %v", err)
	}

	// upstream edits the text, same identity
	provider.records[0].Text = "Edited upstream text for the same review."
	out, err := engine.Sync(context.Background(), "place-1", true)
	if err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	if out.Updated != 1 {
		t.Fatalf("expected 1 update, got %+v", out)
	}

	fp := app.RecordFingerprint(provider.records[0])
	got, err := store.GetByFingerprint(context.Background(), fp)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Visible {
		t.Fatalf("visibility was reset by sync")
	}
	if got.Text == nil || !strings.Contains(*got.Text, "Edited upstream") {
		t.Fatalf("text not updated: %+v", got.Text)
	}
}

func TestSync_CooldownBlocksAndForceBypasses(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{records: rawRecords(1)}
	ledger := newMemLedger()
	q := quota.New(ledger, 100, 3, fixedNow)

	// first sync at t0
	engine := app.NewSyncService(provider, store, q, nil, "google", fixedNow, 48*time.Hour)
	if _, err := engine.Sync(context.Background(), "place-1", false); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	// one hour later, same engine wiring but a later clock
	later := func() time.Time { return t0.Add(time.Hour) }
	engine = app.NewSyncService(provider, store, q, nil, "google", later, 48*time.Hour)

	calls := provider.fetchCalls
	_, err := engine.Sync(context.Background(), "place-1", false)
	if !domain.Denied(err) {
		t.Fatalf("expected admission denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "47h") {
		t.Fatalf("expected remaining hours in message, got %q", err.Error())
	}
	if provider.fetchCalls != calls {
		t.Fatalf("cooldown refusal still contacted the provider")
	}

	if _, err := engine.Sync(context.Background(), "place-1", true); err != nil {
		t.Fatalf("force should bypass cooldown: %v", err)
	}
}

func TestSync_QuotaDeniedBeforeFetch(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{records: rawRecords(1)}
	ledger := newMemLedger()
	ledger.counts["m:2024-01"] = 100

	engine := newEngine(provider, store, ledger)
	_, err := engine.Sync(context.Background(), "place-1", true)
	if !domain.Denied(err) {
		t.Fatalf("expected admission denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "100/100") {
		t.Fatalf("expected usage in message, got %q", err.Error())
	}
	if provider.fetchCalls != 0 {
		t.Fatalf("quota refusal still contacted the provider")
	}
	if ledger.counts["m:2024-01"] != 100 {
		t.Fatalf("denied call was debited")
	}
}

func TestSync_UpstreamFailureConsumesNoQuota(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{err: errors.New("connection reset")}
	ledger := newMemLedger()

	engine := newEngine(provider, store, ledger)
	_, err := engine.Sync(context.Background(), "place-1", false)
	if err == nil || domain.Denied(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if ledger.counts["m:2024-01"] != 0 {
		t.Fatalf("failed fetch was debited: %v", ledger.counts)
	}
}

func TestSync_DebitsOncePerCallNotPerRecord(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{records: rawRecords(25)}
	ledger := newMemLedger()

	engine := newEngine(provider, store, ledger)
	if _, err := engine.Sync(context.Background(), "place-1", false); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ledger.counts["m:2024-01"] != 1 || ledger.counts["d:2024-01-10"] != 1 {
		t.Fatalf("expected exactly one debit, got %v", ledger.counts)
	}
}

func TestSync_ZeroRecordsIsSuccess(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{}
	ledger := newMemLedger()

	engine := newEngine(provider, store, ledger)
	out, err := engine.Sync(context.Background(), "place-1", false)
	if err != nil {
		t.Fatalf("caught-up sync must succeed: %v", err)
	}
	if out.TotalSeen != 0 || out.Inserted != 0 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if ledger.counts["m:2024-01"] != 1 {
		t.Fatalf("the call still happened and must be debited: %v", ledger.counts)
	}
}

func TestSync_CaughtUpSyncStillStartsCooldown(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{} // nothing new upstream
	ledger := newMemLedger()
	q := quota.New(ledger, 100, 3, fixedNow)

	engine := app.NewSyncService(provider, store, q, nil, "google", fixedNow, 48*time.Hour)
	if _, err := engine.Sync(context.Background(), "place-1", false); err != nil {
		t.Fatalf("caught-up sync: %v", err)
	}

	// no rows were written, but the billed call happened; an hourly cron
	// tick must not burn another quota unit
	later := func() time.Time { return t0.Add(time.Hour) }
	engine = app.NewSyncService(provider, store, q, nil, "google", later, 48*time.Hour)
	_, err := engine.Sync(context.Background(), "place-1", false)
	if !domain.Denied(err) {
		t.Fatalf("expected admission denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "47h") {
		t.Fatalf("expected remaining hours in message, got %q", err.Error())
	}
	if provider.fetchCalls != 1 {
		t.Fatalf("expected 1 fetch, got %d", provider.fetchCalls)
	}
	if ledger.counts["m:2024-01"] != 1 {
		t.Fatalf("expected 1 debit, got %v", ledger.counts)
	}
}

func TestSync_NoProviderConfigured(t *testing.T) {
	store := newMemStore()
	ledger := newMemLedger()
	engine := newEngine(nil, store, ledger)

	if _, err := engine.Sync(context.Background(), "place-1", false); !errors.Is(err, domain.ErrNoPlace) {
		t.Fatalf("expected ErrNoPlace, got %v", err)
	}
	if _, err := engine.RefreshMetadata(context.Background(), "place-1"); !errors.Is(err, domain.ErrNoPlace) {
		t.Fatalf("expected ErrNoPlace from metadata refresh, got %v", err)
	}
	if ledger.counts["m:2024-01"] != 0 {
		t.Fatalf("refused call was debited: %v", ledger.counts)
	}
}

func TestSync_SingleRowFailureDoesNotAbortBatch(t *testing.T) {
	store := newMemStore()
	records := rawRecords(5)
	provider := &fakeProvider{records: records}
	store.failFPs[app.RecordFingerprint(records[2])] = true

	engine := newEngine(provider, store, newMemLedger())
	out, err := engine.Sync(context.Background(), "place-1", false)
	if err != nil {
		t.Fatalf("batch must not fail as a whole: %v", err)
	}
	if out.Inserted != 4 || len(out.Errors) != 1 {
		t.Fatalf("expected 4 inserts and 1 error, got %+v", out)
	}
}

func TestSync_PassesKnownFingerprintsAsHint(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{records: rawRecords(2)}
	engine := newEngine(provider, store, newMemLedger())

	if _, err := engine.Sync(context.Background(), "place-1", false); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	if _, err := engine.Sync(context.Background(), "place-1", true); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(provider.lastKnown) != 2 {
		t.Fatalf("expected 2 known fingerprints passed, got %d", len(provider.lastKnown))
	}
}

func TestSync_ManualOnlyRefRefused(t *testing.T) {
	engine := newEngine(&fakeProvider{}, newMemStore(), newMemLedger())
	for _, ref := range []string{"", domain.PlaceRefManual} {
		if _, err := engine.Sync(context.Background(), ref, false); !errors.Is(err, domain.ErrNoPlace) {
			t.Fatalf("ref %q: expected ErrNoPlace, got %v", ref, err)
		}
	}
}

func TestRefreshMetadata_StoresSnapshot(t *testing.T) {
	store := newMemStore()
	provider := &fakeProvider{metadata: domain.PlaceMetadata{PlaceRef: "place-1", TotalReviews: 412, AverageRating: 4.6}}
	ledger := newMemLedger()

	engine := newEngine(provider, store, ledger)
	md, err := engine.RefreshMetadata(context.Background(), "place-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if md.TotalReviews != 412 || !md.FetchedAt.Equal(t0) {
		t.Fatalf("unexpected metadata: %+v", md)
	}
	if ledger.counts["m:2024-01"] != 1 {
		t.Fatalf("metadata fetch must be debited: %v", ledger.counts)
	}
	if _, err := store.GetMetadata(context.Background(), "place-1"); err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
}
