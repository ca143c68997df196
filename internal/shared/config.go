package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv       string
	HTTPAddr     string
	MetricsAddr  string
	MySQLDSN     string
	RedisAddr    string
	RedisDB      int
	RedisPass    string
	PlacesBase   string
	PlacesKey    string
	PlaceRef     string
	Platform     string
	MonthlyQuota int
	DailyQuota   int
	Cooldown     time.Duration
	SyncSpec     string // cron spec for the background sync daemon
	HoursSpec    string // weekly business hours, e.g. "mon=09:00-17:00"
	CacheTTL     time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:       env("APP_ENV", "prod"),
		HTTPAddr:     env("HTTP_ADDR", ":8080"),
		MetricsAddr:  env("METRICS_ADDR", ":9100"),
		MySQLDSN:     env("MYSQL_DSN", "root:root@tcp(localhost:3306)/reviewsync?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		RedisPass:    env("REDIS_PASSWORD", ""),
		RedisDB:      atoi("REDIS_DB", 0),
		PlacesBase:   env("PLACES_BASE_URL", "https://places-feed.example.com/v1"),
		PlacesKey:    env("PLACES_API_KEY", ""),
		PlaceRef:     env("PLACE_REF", ""),
		Platform:     env("PLACE_PLATFORM", "google"),
		MonthlyQuota: atoi("QUOTA_MONTHLY", 100),
		DailyQuota:   atoi("QUOTA_DAILY", 3),
		Cooldown:     time.Duration(atoi("SYNC_COOLDOWN_HOURS", 48)) * time.Hour,
		SyncSpec:     env("SYNC_CRON", "0 */6 * * *"),
		HoursSpec:    env("BUSINESS_HOURS", ""),
		CacheTTL:     time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
	}
	if c.PlacesKey == "" {
		log.Warn().Msg("PLACES_API_KEY is empty")
	}
	if c.PlaceRef == "" {
		log.Warn().Msg("PLACE_REF is empty; running manual-only")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
