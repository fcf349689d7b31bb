package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turfboard.app/internal/access"
	"turfboard.app/internal/auth"
	"turfboard.app/internal/board"
	"turfboard.app/internal/cache"
	"turfboard.app/internal/config"
	"turfboard.app/internal/events"
	"turfboard.app/internal/httpapi"
	"turfboard.app/internal/obs"
	"turfboard.app/internal/store/pg"
	"turfboard.app/internal/turf"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	if cfg.AuthSecret != "" {
		auth.SetSecret(cfg.AuthSecret)
	}

	var (
		db      *sql.DB
		rows    turf.Store
		members access.MembershipStore
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		rows, members = store, store
	} else {
		mem := turf.NewInMemory()
		rows = mem
		members = access.NewMemoryStore(func(ctx context.Context, id string) (string, string) {
			orgs, _ := mem.Organizations(ctx)
			for _, o := range orgs {
				if o.ID == id {
					return o.Name, o.CompanyName
				}
			}
			return "", ""
		})
		obs.Warn("TURF_PG_DSN not set, using in-memory store", nil)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		p, err := events.DialAMQP(cfg.AMQPURL, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("amqp: %v", err)
		}
		publisher = p
	}

	evaluator, err := access.NewEvaluator(members)
	if err != nil {
		log.Fatalf("access: %v", err)
	}
	svc, err := board.New(rows, evaluator,
		board.WithCache(cache.New(cfg.CacheTTL)),
		board.WithPublisher(publisher),
	)
	if err != nil {
		log.Fatalf("board: %v", err)
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithRequireIdentity(cfg.RequireIdentity),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("starting turfboard-api", map[string]any{
		"version":          version,
		"addr":             srv.Addr,
		"cache_ttl_ms":     cfg.CacheTTL.Milliseconds(),
		"require_identity": cfg.RequireIdentity,
		"token_auth":       auth.Enabled(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if err := publisher.Close(); err != nil {
		obs.Error("close publisher", err, nil)
	}
	if db != nil {
		_ = db.Close()
	}
	obs.Info("stopped", nil)
}
