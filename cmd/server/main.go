// Package main provides the API server entry point for the vault streak service.
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
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.WithError(err).Fatal("Failed to load configuration")
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"store":   cfg.Store.Backend,
		"archive": cfg.Archive.Enabled,
	}).Info("Vault streak API server starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	backends, err := storage.Open(ctx, cfg, storage.StoreOptions{Logger: logger, Metrics: m})
	if err != nil {
		logger.WithError(err).Fatal("Failed to open streak store")
	}
	defer backends.Close()

	// Follow writes from other instances sharing the Redis blob
	go func() {
		if err := backends.Listen(ctx); err != nil {
			logger.WithError(err).Error("Store change listener stopped")
		}
	}()

	var archive service.EventArchiver
	deps := api.ServerDeps{
		Checks:  make(map[string]api.HealthChecker),
		Metrics: m,
		Logger:  logger,
	}
	if a := backends.Archive(); a != nil {
		archive = service.NewGuardedArchive(a, nil)
		deps.Activity = a
		deps.Checks["clickhouse"] = backends.ClickHouse
	}
	if backends.Postgres != nil {
		deps.Checks["postgres"] = backends.Postgres
	}
	if backends.Redis != nil {
		deps.Checks["redis"] = backends.Redis
	}

	streaks := service.NewStreakService(backends.Store, archive, m, logger)

	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimitRPS:    cfg.RateLimit.RPS,
		RateLimitBurst:  cfg.RateLimit.Burst,
	}, streaks, deps)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}
