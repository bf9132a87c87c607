package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiusdt/email-analytics/internal/analytics"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/database"
	"github.com/radiusdt/email-analytics/internal/httpserver"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/middleware"
	"github.com/radiusdt/email-analytics/internal/storage"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting email analytics",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("rollup_backend", cfg.Storage.RollupBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conns, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to storage", zap.Error(err))
	}
	defer conns.Close()

	events, rollups, err := storage.Open(conns.Pool(), conns.RedisClient(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to open stores", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace)
	}

	services := analytics.NewServices(events, rollups, cfg, m, logger)

	var worker *analytics.ReconcileWorker
	if cfg.Reconcile.Enabled {
		worker = analytics.NewReconcileWorker(analytics.WorkerConfig{
			Reconciler: services.Reconciler,
			Logger:     logger.Named("reconcile-worker"),
			Interval:   cfg.Reconcile.Interval,
			Lookback:   cfg.Reconcile.Lookback,
		})
		go worker.Start(ctx)
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Services: services,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
	})

	// Outermost first: recovery, logging, rate limit, auth.
	handler = middleware.NewAuthMiddleware(cfg.Auth, logger).Handler(handler)
	handler = middleware.NewRateLimitMiddleware(cfg.RateLimit, m, logger).Handler(handler)
	handler = middleware.NewLoggingMiddleware(logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if worker != nil {
		worker.Stop()
	}

	logger.Info("server stopped")
}
