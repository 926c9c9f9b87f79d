package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/agricart/agricart-ops/internal/config"
	"github.com/agricart/agricart-ops/internal/inventory"
	kafkax "github.com/agricart/agricart-ops/internal/kafka"
	"github.com/agricart/agricart-ops/internal/orders"
	"github.com/agricart/agricart-ops/internal/postgres"
	"github.com/agricart/agricart-ops/internal/redisx"
	"github.com/agricart/agricart-ops/internal/stock"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Str("service", cfg.ServiceName+"-inventory").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: reserved, rejected, and the status change a rejection causes.
	pOK := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockReserved, 1024)
	pOK.Start(ctx)
	pRJ := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockRejected, 1024)
	pRJ.Start(ctx)
	pST := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	pST.Start(ctx)

	svc := &inventory.Service{
		Store:          &stock.PGStore{DB: db},
		Orders:         &orders.Repo{DB: db},
		Dedup:          &redisx.Dedup{Client: rdb},
		ProducerOK:     pOK,
		ProducerReject: pRJ,
		ProducerStatus: pST,
		ServiceName:    cfg.ServiceName + "-inventory",
	}

	group := getenv("INVENTORY_GROUP", "inventory-svc")
	workers := mustAtoi(os.Getenv("INVENTORY_WORKERS"), "8")
	consCreated := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderCreated, workers)
	consStatus := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderStatusChanged, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("group", group).Str("topic", orders.TopicOrderCreated).
			Int("workers", workers).Msg("reservation consumer started")
		return consCreated.Start(gctx, svc.HandleOrderCreated)
	})
	g.Go(func() error {
		log.Info().Str("group", group).Str("topic", orders.TopicOrderStatusChanged).
			Int("workers", workers).Msg("restoration consumer started")
		return consStatus.Start(gctx, svc.HandleStatusChanged)
	})

	go func() {
		if err := g.Wait(); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumers...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pOK.Close()
	pRJ.Close()
	pST.Close()
	pOK.WaitClosed()
	pRJ.WaitClosed()
	pST.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
