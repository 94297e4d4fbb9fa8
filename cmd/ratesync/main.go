package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/xxz807/finscale/settlement/internal/platform/config"
	"github.com/xxz807/finscale/settlement/internal/platform/database"
	"github.com/xxz807/finscale/settlement/internal/platform/logger"
	"github.com/xxz807/finscale/settlement/internal/settlement/adapter/repo"
	"github.com/xxz807/finscale/settlement/internal/settlement/service"
)

// ratesync 批量更新汇率表 (rates 段)，供定时任务调用
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	actor := flag.String("actor", "ratesync", "actor recorded on the update")
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

	rates := cfg.RateTable(time.Now())
	if len(rates) == 0 {
		appLogger.Warn("No rates configured, nothing to sync")
		return
	}

	db, err := database.Open(cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		appLogger.Fatal("Database migration failed", zap.Error(err))
	}

	svc := service.NewOrchestrator(db, service.Repositories{
		Rates: repo.NewRateRepo(db),
	}, nil, appLogger, service.Options{Tax: cfg.Settlement.TaxPolicy()})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.UpsertRates(ctx, *actor, rates); err != nil {
		appLogger.Fatal("Rate sync failed", zap.Error(err))
	}
}
