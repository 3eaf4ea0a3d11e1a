package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vault-streak/internal/types"
)

// EventArchive appends accepted streak events to ClickHouse for analytics
type EventArchive struct {
	db *ClickHouseDB
}

// NewEventArchive creates a new event archive
func NewEventArchive(db *ClickHouseDB) *EventArchive {
	return &EventArchive{db: db}
}

// Append writes events to the archive table in one batch
func (a *EventArchive) Append(ctx context.Context, events ...types.StreakEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := a.db.Conn().PrepareBatch(ctx, `
		INSERT INTO streak_events_archive (
			id, vault_id, wallet, type, occurred_at, day_key, amount_usd
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare archive batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.ID,
			e.VaultID,
			e.Wallet,
			string(e.Type),
			time.UnixMilli(e.At).UTC(),
			e.DayKey,
			e.AmountUSD,
		); err != nil {
			return fmt.Errorf("failed to append event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send archive batch: %w", err)
	}

	return nil
}

// DailyActiveWallets counts distinct wallets with a qualifying event per day for a vault
func (a *EventArchive) DailyActiveWallets(ctx context.Context, vaultID string, from, to string) (map[string]uint64, error) {
	rows, err := a.db.Conn().Query(ctx, `
		SELECT day_key, uniqExact(wallet) AS wallets
		FROM streak_events_archive
		WHERE vault_id = ? AND day_key >= ? AND day_key <= ?
		GROUP BY day_key
		ORDER BY day_key
	`, vaultID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily active wallets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var day string
		var wallets uint64
		if err := rows.Scan(&day, &wallets); err != nil {
			return nil, fmt.Errorf("failed to scan daily active wallets: %w", err)
		}
		out[day] = wallets
	}

	return out, rows.Err()
}
