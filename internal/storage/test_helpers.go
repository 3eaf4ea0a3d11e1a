package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/vault-streak/internal/config"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/types"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testStoreOptions returns quiet store options with private collectors
func testStoreOptions() StoreOptions {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	return StoreOptions{Logger: logger, Metrics: metrics.NewUnregistered()}
}

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "vault_streak",
		User:           "streak",
		Password:       "streak_dev_password",
		MaxConnections: 5,
	}
}

func testClickHouseConfig() *config.ClickHouseConfig {
	return &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "vault_streak",
		User:     "default",
		Password: "clickhouse_dev_password",
	}
}

func testEvent(wallet, vaultID string, eventType types.QualifyingEvent, day string) types.StreakEvent {
	at, _ := time.Parse("2006-01-02", day)
	return types.StreakEvent{
		VaultID: vaultID,
		Wallet:  wallet,
		Type:    eventType,
		At:      at.Add(12 * time.Hour).UnixMilli(),
		DayKey:  day,
	}
}
