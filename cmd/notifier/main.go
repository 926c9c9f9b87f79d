package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/agricart/agricart-ops/internal/config"
	kafkax "github.com/agricart/agricart-ops/internal/kafka"
	"github.com/agricart/agricart-ops/internal/notify"
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
	log.Logger = log.With().Str("service", cfg.ServiceName+"-notifier").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	sender, err := notify.NewFCMSender(ctx, cfg.FCMCredentialsFile, cfg.PushChannelID)
	if err != nil {
		log.Fatal().Err(err).Msg("fcm init")
	}

	svc := &notify.Service{
		Repo:        &orders.Repo{DB: db},
		Sender:      sender,
		Dedup:       &redisx.Dedup{Client: rdb},
		ServiceName: cfg.ServiceName + "-notifier",
	}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderStatusChanged, workers)

	go func() {
		log.Info().Str("group", group).Str("topic", orders.TopicOrderStatusChanged).
			Int("workers", workers).Msg("notifier consumer started")
		if err := cons.Start(ctx, svc.HandleStatusChanged); err != nil {
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
	log.Info().Msg("shutting down notifier...")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

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
