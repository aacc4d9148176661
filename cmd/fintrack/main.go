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

	"github.com/fintrack/fintrack/internal/access"
	"github.com/fintrack/fintrack/internal/app"
	"github.com/fintrack/fintrack/internal/dashboard"
	ledgerhttp "github.com/fintrack/fintrack/internal/ledger/http"
	"github.com/fintrack/fintrack/internal/observability"
	"github.com/fintrack/fintrack/jobs"
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

	keys, err := access.ParseKeys(cfg.AccessKeys)
	if err != nil {
		logger.Error("parse access keys", slog.Any("error", err))
		os.Exit(1)
	}
	authenticator := access.NewAuthenticator(keys)
	if !authenticator.Enabled() {
		logger.Warn("no ACCESS_KEYS configured, API authentication disabled")
	}

	ledgerRuntime, err := app.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("open ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := ledgerRuntime.Close(); err != nil {
			logger.Warn("ledger close", slog.Any("error", err))
		}
	}()

	redisClient := app.OpenRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	dashboardCache := dashboard.NewCache(redisClient, cfg.DashboardCacheTTL)
	dashboardService := dashboard.NewService(ledgerRuntime.Service, dashboardCache, logger)
	ledgerRuntime.Service.Observe(dashboard.NewInvalidator(dashboardCache, logger))
	ledgerRuntime.Service.Observe(metrics)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Authenticator: authenticator,
		LedgerHandler: ledgerhttp.NewHandler(logger, ledgerRuntime.Service, dashboardService),
		JobHandler:    jobHandler,
		Metrics:       metrics,
		Ready: func(ctx context.Context) error {
			if ledgerRuntime.Pool != nil {
				return ledgerRuntime.Pool.Ping(ctx)
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
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.LedgerStore))
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
