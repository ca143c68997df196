package domain

import "time"

// PlaceRefManual marks rows that belong to no configured upstream place.
// Manual reviews created before a place is connected carry this ref.
const PlaceRefManual = "manual"

// Source of a review row.
const (
	SourceAPI    = "api"
	SourceManual = "manual"
)

// Known platform labels. Anything else is stored verbatim.
const (
	PlatformGoogle     = "google"
	PlatformFacebook   = "facebook"
	PlatformTrustpilot = "trustpilot"
	PlatformYelp       = "yelp"
	PlatformOther      = "other"
)

type Author struct {
	Name       string `json:"name"`
	PhotoURL   string `json:"photo_url,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

type Response struct {
	Text        string     `json:"text"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

type Review struct {
	ID          int64     `json:"id"`
	Fingerprint string    `json:"-"`
	PlaceRef    string    `json:"place_ref"`
	Platform    string    `json:"platform"`
	Author      Author    `json:"author"`
	Rating      int       `json:"rating"`
	Text        *string   `json:"text"`
	OccurredAt  time.Time `json:"occurred_at"`
	IngestedAt  time.Time `json:"ingested_at"`
	Visible     bool      `json:"visible"`
	IsManual    bool      `json:"is_manual"`
	Source      string    `json:"source"`
	Response    *Response `json:"response,omitempty"`
	Verified    bool      `json:"verified"`
}

// RawRecord is one review as delivered by the upstream provider, before
// normalization. Field presence is best-effort: the feed sometimes omits
// the native ID and ships only a relative time string.
type RawRecord struct {
	NativeID     string
	AuthorName   string
	PhotoURL     string
	ProfileURL   string
	Rating       int
	Text         string
	TimeText     string
	Lang         string
	Verified     *bool
	ResponseText string
	RespondedAt  string
}

// PlaceMetadata is the upstream-reported aggregate for a place, fetched
// separately from the review feed.
type PlaceMetadata struct {
	PlaceRef      string    `json:"place_ref"`
	TotalReviews  int       `json:"total_reviews"`
	AverageRating float64   `json:"average_rating"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// SyncOutcome summarizes one Sync invocation.
type SyncOutcome struct {
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	TotalSeen int      `json:"total_seen"`
	Errors    []string `json:"errors,omitempty"`
}

// QuotaStats is the current usage snapshot exposed to callers.
type QuotaStats struct {
	MonthlyUsed  int `json:"monthly_used"`
	MonthlyLimit int `json:"monthly_limit"`
	DailyUsed    int `json:"daily_used"`
	DailyLimit   int `json:"daily_limit"`
	DaysInMonth  int `json:"days_in_month"`
	CurrentDay   int `json:"current_day"`
}

// ReviewQuery filters a listing. PlaceRef matches inclusively: rows scoped
// to the place OR manual rows, so curated testimonials surface even when no
// upstream integration is configured.
type ReviewQuery struct {
	PlaceRef    string
	Platform    string
	MinRating   int
	VisibleOnly bool
	TextOnly    bool
	Limit       int
	Offset      int
	OrderBy     string // newest (default) | oldest | highest | lowest
}

// ReviewStats is the aggregate over visible rows for one place.
type ReviewStats struct {
	Total             int            `json:"total"`
	AverageRating     float64        `json:"average_rating"`
	RatingHistogram   [5]int         `json:"rating_histogram"` // index 0 = 1 star
	PlatformBreakdown map[string]int `json:"platform_breakdown"`
	LatestOccurredAt  *time.Time     `json:"latest_occurred_at,omitempty"`
	LastSyncAt        *time.Time     `json:"last_sync_at,omitempty"`
	// OfficialOverride is true when total/average come from upstream-reported
	// place metadata rather than the local sample.
	OfficialOverride bool `json:"official_override"`
}

// ManualReview is a curator-authored submission, validated at the boundary
// before it touches the store.
type ManualReview struct {
	Platform   string `json:"platform" validate:"required,max=50"`
	AuthorName string `json:"author_name" validate:"required,min=1,max=190"`
	Rating     int    `json:"rating" validate:"required,min=1,max=5"`
	Text       string `json:"text" validate:"max=10000"`
	OccurredAt string `json:"occurred_at" validate:"omitempty"`
}
