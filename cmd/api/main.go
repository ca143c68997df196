package main

import (
	"database/sql"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	server "reviewsync/internal/adapters/http_server"
	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/adapters/places"
	redisad "reviewsync/internal/adapters/redis"
	"reviewsync/internal/app"
	"reviewsync/internal/domain"
	"reviewsync/internal/hours"
	"reviewsync/internal/quota"
	"reviewsync/internal/shared"
	mysqlrepo "reviewsync/internal/storage/mysql"
)

func main() {
	_ = godotenv.Load()
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	repo := mysqlrepo.New(db)
	ledger := mysqlrepo.NewLedger(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	q := quota.New(ledger, cfg.MonthlyQuota, cfg.DailyQuota, time.Now)

	provider, err := places.New(cfg.PlacesBase, cfg.PlacesKey, 2)
	if err != nil {
		log.Warn().Err(err).Msg("upstream provider unavailable; sync endpoints will fail")
	}

	var upstream domain.UpstreamProvider
	if provider != nil {
		upstream = provider
	}
	syncSvc := app.NewSyncService(upstream, repo, q, cache, cfg.Platform, time.Now, cfg.Cooldown)
	querySvc := app.NewQueryService(repo, cache, cfg.CacheTTL, time.Now)
	curator := app.NewCuratorService(repo, cache, time.Now)

	var hoursClock domain.HoursClock = hours.Noop{}
	if cfg.HoursSpec != "" {
		hoursClock = hours.Parse(cfg.HoursSpec, time.Now)
	}

	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Q:       querySvc,
		Sync:    syncSvc,
		Curator: curator,
		Quota:   q,
		Hours:   hoursClock,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
