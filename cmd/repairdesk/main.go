package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/repairdesk/internal/app"
	"github.com/odyssey-erp/repairdesk/internal/catalog"
	"github.com/odyssey-erp/repairdesk/internal/observability"
	"github.com/odyssey-erp/repairdesk/internal/platform/cache"
	"github.com/odyssey-erp/repairdesk/internal/platform/db"
	"github.com/odyssey-erp/repairdesk/internal/repairs"
	"github.com/odyssey-erp/repairdesk/internal/shared"
	"github.com/odyssey-erp/repairdesk/jobs"
)

// statusRecheckDelay lets concurrent reception edits settle before the
// worker re-derives an order status.
const statusRecheckDelay = 30 * time.Second

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

	logger := app.NewLogger(cfg, "api")

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	permissions := shared.DefaultRolePermissions()

	catalogService := catalog.NewService(
		catalog.NewPGStore(dbpool),
		catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		logger,
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts, statusRecheckDelay)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
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

	repairsRepo := repairs.NewPGRepository(dbpool)
	orderService := repairs.NewOrderService(repairsRepo, catalogService, permissions, repairs.Options{
		Lock:       repairs.NewRedisNumberLock(redisClient, cfg.NumberLockTTL, logger),
		Metrics:    metrics,
		Audit:      auditLogger,
		Logger:     logger,
		HardDelete: cfg.OrderHardDelete,
	})
	ledger := repairs.NewLedger(repairsRepo, permissions, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		RepairsHandler: repairs.NewHandler(logger, orderService, ledger),
		JobsHandler:    jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Ready: func(r *http.Request) error {
			if err := dbpool.Ping(r.Context()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
