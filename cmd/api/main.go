package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agricart/agricart-ops/internal/config"
	"github.com/agricart/agricart-ops/internal/heartbeat"
	"github.com/agricart/agricart-ops/internal/httpx"
	kafkax "github.com/agricart/agricart-ops/internal/kafka"
	"github.com/agricart/agricart-ops/internal/orders"
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
	log.Logger = log.With().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	pCreate := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCreate.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	pStatus.Start(ctx)

	// Cooperative time, read side only.
	coop := &heartbeat.Clock{
		Shared: &heartbeat.PGStore{DB: db},
		Cache:  &heartbeat.RedisFallback{Client: rdb, TTL: cfg.FallbackTTL},
	}

	repo := &orders.Repo{DB: db}
	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Repo:           repo,
		ProducerCreate: pCreate,
		ProducerStatus: pStatus,
		Cache:          &redisx.Cache{Client: rdb},
		CoopTime:       coop,
		Service:        cfg.ServiceName,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pCreate.Close() // close inbox -> flush & close writer
	pStatus.Close()
	cancel() // stop producer loops
	pCreate.WaitClosed()
	pStatus.WaitClosed()
}
