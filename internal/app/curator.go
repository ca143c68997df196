package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"reviewsync/internal/domain"
)

// CuratorService covers the record paths a site curator drives directly:
// manual testimonials and per-row moderation. None of them touch
// fingerprint, source or is_manual, and none go near the sync diff.
type CuratorService struct {
	store    domain.ReviewStore
	cache    domain.Cache
	validate *validator.Validate
	now      func() time.Time
}

func NewCuratorService(s domain.ReviewStore, cache domain.Cache, now func() time.Time) *CuratorService {
	if now == nil {
		now = time.Now
	}
	return &CuratorService{
		store:    s,
		cache:    cache,
		validate: validator.New(),
		now:      now,
	}
}

// AddManual inserts a curator-authored review. Each row gets a generated
// identity that can never collide with a content fingerprint.
func (c *CuratorService) AddManual(ctx context.Context, placeRef string, in domain.ManualReview) (domain.Review, error) {
	if err := c.validate.Struct(in); err != nil {
		return domain.Review{}, fmt.Errorf("invalid manual review: %w", err)
	}
	if placeRef == "" {
		placeRef = domain.PlaceRefManual
	}

	now := c.now()
	rv := domain.Review{
		Fingerprint: "manual:" + uuid.NewString(),
		PlaceRef:    placeRef,
		Platform:    normalizePlatform(in.Platform),
		Author:      domain.Author{Name: strings.TrimSpace(in.AuthorName)},
		Rating:      in.Rating,
		OccurredAt:  NormalizeTime(in.OccurredAt, now),
		IngestedAt:  now,
		Visible:     true,
		IsManual:    true,
		Source:      domain.SourceManual,
		Verified:    false,
	}
	if t := strings.TrimSpace(in.Text); t != "" {
		rv.Text = &t
	}

	id, err := c.store.AddManual(ctx, rv)
	if err != nil {
		return domain.Review{}, fmt.Errorf("insert manual review: %w", err)
	}
	rv.ID = id
	c.invalidate(ctx, placeRef)
	return rv, nil
}

func (c *CuratorService) SetVisibility(ctx context.Context, id int64, visible bool) error {
	if err := c.store.SetVisibility(ctx, id, visible); err != nil {
		return err
	}
	c.invalidateAll(ctx)
	return nil
}

func (c *CuratorService) UpdateText(ctx context.Context, id int64, text string) error {
	if err := c.store.UpdateText(ctx, id, text); err != nil {
		return err
	}
	c.invalidateAll(ctx)
	return nil
}

func (c *CuratorService) Delete(ctx context.Context, id int64) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidateAll(ctx)
	return nil
}

func (c *CuratorService) invalidate(ctx context.Context, placeRef string) {
	if c.cache == nil {
		return
	}
	_ = c.cache.Del(ctx, "stats:"+placeRef)
	for _, lim := range cachedListLimits {
		_ = c.cache.Del(ctx, fmt.Sprintf("reviews:%s:%d:newest", placeRef, lim))
	}
}

// Moderation by row id has no place ref in hand; clear the shared keys for
// the manual population and let place keys expire by TTL.
func (c *CuratorService) invalidateAll(ctx context.Context) {
	c.invalidate(ctx, domain.PlaceRefManual)
}
