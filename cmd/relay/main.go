package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xxz807/finscale/settlement/internal/platform/config"
	"github.com/xxz807/finscale/settlement/internal/platform/database"
	"github.com/xxz807/finscale/settlement/internal/platform/logger"
	"github.com/xxz807/finscale/settlement/internal/settlement/adapter/events"
	"github.com/xxz807/finscale/settlement/internal/settlement/adapter/repo"
)

// relay 把 settlement_outbox 中未发布的事件推送到 Kafka
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %s", err)
	}
	appLogger, err := logger.NewLogger(cfg.Server.Mode, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Error building logger: %s", err)
	}
	defer func() { _ = appLogger.Sync() }()

	db, err := database.Open(cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		appLogger.Fatal("Database migration failed", zap.Error(err))
	}

	publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		appLogger.Fatal("Kafka publisher setup failed", zap.Error(err))
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := events.NewOutboxRelay(appLogger, repo.NewOutboxRepo(db), publisher, cfg.Kafka.RelayInterval, cfg.Kafka.BatchSize)
	appLogger.Info("🚀 Outbox relay started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Fatal("Outbox relay stopped", zap.Error(err))
	}
	appLogger.Info("Outbox relay stopped")
}
