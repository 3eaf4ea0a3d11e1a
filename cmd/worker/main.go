// Package main provides the snapshot worker entry point.
// The worker logs a snapshot streak event at 00:00 UTC for every vault position held across midnight.
//
// Usage:
//
//	worker              run the daily scheduler
//	worker run [DATE]   capture one midnight (default: the most recent) and exit
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vault-streak/internal/api"
	"github.com/vault-streak/internal/config"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/service"
	"github.com/vault-streak/internal/storage"
	"github.com/vault-streak/internal/streak"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("process", "snapshot_worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	backends, err := storage.Open(ctx, cfg, storage.StoreOptions{Logger: logger, Metrics: m})
	if err != nil {
		logger.WithError(err).Fatal("Failed to open streak store")
	}
	defer backends.Close()

	// Positions always come from Postgres, whatever the store backend
	if err := backends.EnsurePostgres(ctx, cfg); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}

	var archive service.EventArchiver
	if a := backends.Archive(); a != nil {
		archive = service.NewGuardedArchive(a, nil)
	}

	streaks := service.NewStreakService(backends.Store, archive, m, logger)
	scheduler := service.NewSnapshotScheduler(
		storage.NewPositionRepository(backends.Postgres.Pool()),
		streaks,
		cfg.Snapshot.Timeout,
		m,
		logger,
	)

	// One-time run mode
	if len(os.Args) > 1 && os.Args[1] == "run" {
		midnight := service.LastMidnight(time.Now())
		if len(os.Args) > 2 {
			parsed, err := time.Parse(streak.DayKeyLayout, os.Args[2])
			if err != nil {
				logger.WithError(err).Fatal("Invalid date, expected YYYY-MM-DD")
			}
			midnight = parsed
		}

		runCtx, runCancel := context.WithTimeout(ctx, cfg.Snapshot.Timeout)
		defer runCancel()

		result, err := scheduler.RunOnce(runCtx, midnight)
		if err != nil {
			logger.WithError(err).Fatal("Snapshot run failed")
		}
		logger.WithFields(map[string]interface{}{
			"accepted":     result.Accepted,
			"deduplicated": result.Deduplicated,
			"failed":       result.Failed,
		}).Info("Snapshot complete")
		return
	}

	go func() {
		if err := backends.Listen(ctx); err != nil {
			logger.WithError(err).Error("Store change listener stopped")
		}
	}()

	var metricsServer *http.Server
	if cfg.Snapshot.MetricsAddr != "" {
		metricsServer = api.NewMetricsServer(cfg.Snapshot.MetricsAddr, prometheus.DefaultGatherer)
		go func() {
			logger.WithField("addr", cfg.Snapshot.MetricsAddr).Info("Serving worker metrics")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if err := scheduler.Start(ctx, cfg.Snapshot.RunOnStart); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down snapshot worker")
	if err := scheduler.Stop(); err != nil {
		logger.WithError(err).Warn("Scheduler stop")
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown")
		}
		shutdownCancel()
	}
	cancel()
	logger.Info("Worker stopped")
}
