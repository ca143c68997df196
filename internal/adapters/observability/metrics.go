package observability

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reviewsync", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "sync_runs_total", Help: "Sync attempts by result."},
		[]string{"place", "result"}, // result: ok|fetch_error
	)
	SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "sync_records_total", Help: "Per-record sync outcomes."},
		[]string{"outcome"}, // outcome: inserted|updated|skipped|error
	)
	QuotaUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "reviewsync", Name: "quota_used", Help: "Outbound call budget used."},
		[]string{"period"}, // period: month|day
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "reviewsync", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, SyncRuns, SyncRecords, QuotaUsed, CacheEvents)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveSync(place, result string) {
	SyncRuns.WithLabelValues(place, result).Inc()
}

func ObserveSyncOutcome(inserted, updated, skipped, errors int) {
	SyncRecords.WithLabelValues("inserted").Add(float64(inserted))
	SyncRecords.WithLabelValues("updated").Add(float64(updated))
	SyncRecords.WithLabelValues("skipped").Add(float64(skipped))
	SyncRecords.WithLabelValues("error").Add(float64(errors))
}

func SetQuotaUsage(monthlyUsed, dailyUsed int) {
	QuotaUsed.WithLabelValues("month").Set(float64(monthlyUsed))
	QuotaUsed.WithLabelValues("day").Set(float64(dailyUsed))
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
