package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"reviewsync/internal/adapters/observability"
	"reviewsync/internal/adapters/places"
	redisad "reviewsync/internal/adapters/redis"
	"reviewsync/internal/app"
	"reviewsync/internal/domain"
	"reviewsync/internal/quota"
	"reviewsync/internal/shared"
	mysqlrepo "reviewsync/internal/storage/mysql"
)

// syncd ticks on a cron spec and asks the engine to sync each configured
// place. The engine's own cooldown and quota gates are the real throttle;
// the cadence here is just an upper bound.
func main() {
	_ = godotenv.Load()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv)

	placeRefs := splitRefs(cfg.PlaceRef)
	if len(placeRefs) == 0 {
		log.Fatal().Msg("PLACE_REF is empty; nothing to sync")
	}

	log.Info().
		Str("base", cfg.PlacesBase).
		Strs("places", placeRefs).
		Str("cron", cfg.SyncSpec).
		Msg("syncd starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	ledger := mysqlrepo.NewLedger(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	q := quota.New(ledger, cfg.MonthlyQuota, cfg.DailyQuota, time.Now)

	client, err := places.New(cfg.PlacesBase, cfg.PlacesKey, 2)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize places client")
	}
	eng := app.NewSyncService(client, repo, q, cache, cfg.Platform, time.Now, cfg.Cooldown)

	sem := semaphore.NewWeighted(2)
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for _, ref := range placeRefs {
			if err := sem.Acquire(ctx, 1); err != nil {
				log.Warn().Err(err).Msg("semaphore acquire failed")
				return
			}
			go func(ref string) {
				defer sem.Release(1)
				out, err := eng.Sync(ctx, ref, false)
				switch {
				case err == nil:
					log.Info().Str("place", ref).
						Int("inserted", out.Inserted).
						Int("updated", out.Updated).
						Int("skipped", out.Skipped).
						Msg("scheduled sync ok")
				case domain.Denied(err):
					log.Debug().Str("place", ref).Str("reason", err.Error()).Msg("sync not admitted")
				default:
					log.Warn().Str("place", ref).Err(err).Msg("scheduled sync failed")
				}
				if st, err := q.Stats(ctx); err == nil {
					observability.SetQuotaUsage(st.MonthlyUsed, st.DailyUsed)
				}
			}(ref)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.SyncSpec, run); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.SyncSpec).Msg("invalid cron spec")
	}
	c.Start()
	defer c.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("syncd stopping")
}

func splitRefs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
