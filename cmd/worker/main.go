package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/branch-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/branch-ledger/internal/jobs"
	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/platform/cache"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/subscriptions"
	"github.com/odyssey-erp/branch-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	stockLedger := ledger.NewLedger(ledger.NewRepository(pool), ledger.PolicyFor(cfg.LedgerStrict), ledger.Options{Logger: logger})
	subscriptionService := subscriptions.NewService(subscriptions.NewRepository(pool), stockLedger, subscriptions.Options{
		Audit:  shared.NewAuditLogger(pool),
		Logger: logger,
	})

	lowStock := jobs.NewLowStockJob(redisClient, jobs.LogSink{Logger: logger}, logger, metrics)
	lowStock.Cooldown = cfg.LowStockCooldown
	expiry := jobs.NewSubscriptionExpiryJob(subscriptionService, logger, metrics)
	cleanup := &jobs.IdempotencyCleanupJob{
		Store:     shared.NewIdempotencyStore(pool),
		Retention: cfg.IdempotencyRetention,
		Logger:    logger,
		Metrics:   metrics,
	}

	expireTask, err := jobs.NewSubscriptionsExpireTask()
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockNotice, Handler: lowStock.Handle},
			{Type: jobs.TaskSubscriptionsExpire, Handler: expiry.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "5 0 * * *", Task: expireTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
