package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agricart/agricart-ops/internal/config"
	"github.com/agricart/agricart-ops/internal/heartbeat"
	"github.com/agricart/agricart-ops/internal/httpx"
	"github.com/agricart/agricart-ops/internal/postgres"
	"github.com/agricart/agricart-ops/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Str("service", cfg.ServiceName+"-heartbeat").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	clock := &heartbeat.Clock{
		Shared:     &heartbeat.PGStore{DB: db},
		Queue:      &heartbeat.RedisQueue{Client: rdb, Max: cfg.HeartbeatQueueMax},
		Cache:      &heartbeat.RedisFallback{Client: rdb, TTL: cfg.FallbackTTL},
		Source:     heartbeat.SourceDesktop,
		Interval:   cfg.HeartbeatInterval,
		SyncEvery:  cfg.HeartbeatSyncEvery,
		MaxRetries: cfg.HeartbeatRetries,
		RetryBase:  cfg.HeartbeatRetryBase,
	}

	go clock.Run(ctx)
	log.Info().Dur("interval", cfg.HeartbeatInterval).Msg("heartbeat publisher started")

	// metrics + health endpoint
	router := httpx.NewRouter()
	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		failures, last := clock.Status()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"consecutive_failures":%d,"last_published_epoch_ms":%d}`, failures, last)
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")
	cancel() // stops the publish loop and any pending retry timers

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
}
