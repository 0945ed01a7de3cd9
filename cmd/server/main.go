package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/branch-ledger/internal/app"
	"github.com/odyssey-erp/branch-ledger/internal/catalog"
	"github.com/odyssey-erp/branch-ledger/internal/damage"
	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/observability"
	"github.com/odyssey-erp/branch-ledger/internal/platform/cache"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/sales"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/subscriptions"
	"github.com/odyssey-erp/branch-ledger/internal/transfers"
	"github.com/odyssey-erp/branch-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var catalogCache *cache.Versioned
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, catalog cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		catalogCache = cache.NewVersioned(redisClient, "catalog", cfg.CatalogCacheTTL)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	stockLedger := ledger.NewLedger(ledger.NewRepository(pool), ledger.PolicyFor(cfg.LedgerStrict), ledger.Options{
		Audit:    auditLogger,
		Observer: metrics,
		Logger:   logger,
	})
	logger.Info("stock policy", slog.String("policy", stockLedger.Policy().Name()))

	catalogService := catalog.NewService(catalog.NewRepository(pool), catalogCache, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	salesService := sales.NewService(sales.NewRepository(pool), stockLedger, sales.Options{
		Catalog:           catalogService,
		Notifier:          jobClient,
		Idempotency:       idempotencyStore,
		Audit:             auditLogger,
		Logger:            logger,
		LowStockThreshold: cfg.LowStockThreshold,
	})
	transferService := transfers.NewService(transfers.NewRepository(pool), stockLedger, transfers.Options{
		Observer: metrics,
		Logger:   logger,
	})
	subscriptionService := subscriptions.NewService(subscriptions.NewRepository(pool), stockLedger, subscriptions.Options{
		Observer: metrics,
		Audit:    auditLogger,
		Logger:   logger,
	})
	damageService := damage.NewService(damage.NewRepository(pool), stockLedger, catalogService, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Metrics:             metrics,
		DB:                  pool,
		LedgerHandler:       ledger.NewHandler(logger, stockLedger),
		CatalogHandler:      catalog.NewHandler(logger, catalogService),
		SalesHandler:        sales.NewHandler(logger, salesService),
		TransfersHandler:    transfers.NewHandler(logger, transferService),
		SubscriptionHandler: subscriptions.NewHandler(logger, subscriptionService),
		DamageHandler:       damage.NewHandler(logger, damageService),
		JobHandler:          jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
