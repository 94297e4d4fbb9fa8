package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xxz807/finscale/settlement/internal/platform/config"
	"github.com/xxz807/finscale/settlement/internal/platform/database"
	"github.com/xxz807/finscale/settlement/internal/platform/lock"
	"github.com/xxz807/finscale/settlement/internal/platform/logger"
	"github.com/xxz807/finscale/settlement/internal/platform/server"
	"github.com/xxz807/finscale/settlement/internal/settlement/adapter/repo"
	"github.com/xxz807/finscale/settlement/internal/settlement/api"
	"github.com/xxz807/finscale/settlement/internal/settlement/service"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %s", err)
	}

	// 2. 初始化基础设施 (Infra)
	// Logger
	appLogger, err := logger.NewLogger(cfg.Server.Mode, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Error building logger: %s", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// Database
	db, err := database.Open(cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		appLogger.Fatal("Database migration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := repo.SeedSequences(ctx, db); err != nil {
		appLogger.Fatal("Invoice sequence seeding failed", zap.Error(err))
	}

	// Lock: 配置了 redis 用分布式锁，否则进程内锁
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal("Redis connection failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, 0)
		appLogger.Info("Using redis settlement locks", zap.String("addr", cfg.Redis.Addr))
	} else {
		appLogger.Warn("redis.addr not set, settlement locks are process-local")
	}

	// 3. 依赖注入 (Wiring)
	// -- Settlement Module --
	rates := repo.NewCachedRateRepo(repo.NewRateRepo(db), cfg.Settlement.RateCacheSize, cfg.Settlement.RateCacheTTL)
	orchestrator := service.NewOrchestrator(db, service.Repositories{
		DRRs:        repo.NewDRRRepo(),
		Validations: repo.NewValidationRepo(),
		Invoices:    repo.NewInvoiceRepo(),
		Sequences:   repo.NewSequenceRepo(),
		Rates:       rates,
		Outbox:      repo.NewOutboxRepo(db),
	}, locker, appLogger, service.Options{
		Tax:     cfg.Settlement.TaxPolicy(),
		DueDays: cfg.Settlement.InvoiceDueDays,
	})
	settlementHandler := api.NewSettlementHandler(orchestrator, appLogger)

	// 4. 初始化 Server (Gateway)
	srv := server.NewServer(appLogger, cfg.Server, settlementHandler)

	// 5. 启动服务
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			appLogger.Fatal("Server startup failed", zap.Error(err))
		}
	case <-ctx.Done():
		appLogger.Info("Shutting down settlement gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}
}
