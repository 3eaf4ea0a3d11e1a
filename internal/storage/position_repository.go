package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vault-streak/internal/models"
)

// PositionRepository reads vault positions maintained by the indexer
type PositionRepository struct {
	pool *pgxpool.Pool
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(pool *pgxpool.Pool) *PositionRepository {
	return &PositionRepository{pool: pool}
}

// ListHeldAt returns the positions with a positive balance that were opened at or before asOf
func (r *PositionRepository) ListHeldAt(ctx context.Context, asOf time.Time) ([]*models.VaultPosition, error) {
	query := `
		SELECT wallet, vault_id, shares::text, opened_at, updated_at
		FROM vault_positions
		WHERE shares > 0
			AND opened_at <= $1
		ORDER BY wallet, vault_id
	`

	rows, err := r.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.VaultPosition
	for rows.Next() {
		var p models.VaultPosition
		if err := rows.Scan(&p.Wallet, &p.VaultID, &p.Shares, &p.OpenedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vault position: %w", err)
		}
		positions = append(positions, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vault positions: %w", err)
	}

	return positions, nil
}

// Upsert stores or updates a position
func (r *PositionRepository) Upsert(ctx context.Context, p *models.VaultPosition) error {
	query := `
		INSERT INTO vault_positions (wallet, vault_id, shares, opened_at, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4, NOW())
		ON CONFLICT (wallet, vault_id)
		DO UPDATE SET
			shares = EXCLUDED.shares,
			updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, p.Wallet, p.VaultID, p.Shares, p.OpenedAt); err != nil {
		return fmt.Errorf("failed to upsert vault position: %w", err)
	}
	return nil
}
