package storage

import (
	"context"
	"fmt"

	"github.com/vault-streak/internal/config"
)

// Backends holds the store selected by configuration and the connections it opened
type Backends struct {
	Store      Store
	Postgres   *PostgresDB
	Redis      *RedisCache
	ClickHouse *ClickHouseDB

	redisStore *RedisStore
}

// Open connects the configured store backend and, when enabled, the ClickHouse archive
func Open(ctx context.Context, cfg *config.Config, opts StoreOptions) (*Backends, error) {
	b := &Backends{}

	switch cfg.Store.Backend {
	case config.StoreMemory:
		b.Store = NewMemoryStore()

	case config.StoreRedis:
		cache, err := NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		b.Redis = cache

		store, err := NewRedisStore(ctx, cache, cfg.Store.RedisKey, opts)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Store = store
		b.redisStore = store

	case config.StorePostgres:
		if err := b.EnsurePostgres(ctx, cfg); err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, b.Postgres.Pool(), opts)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Store = store

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.Archive.Enabled {
		ch, err := NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.ClickHouse = ch
	}

	return b, nil
}

// EnsurePostgres opens the Postgres pool unless it is already open
func (b *Backends) EnsurePostgres(ctx context.Context, cfg *config.Config) error {
	if b.Postgres != nil {
		return nil
	}
	db, err := NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return err
	}
	b.Postgres = db
	return nil
}

// Archive returns the event archive, or nil when archiving is disabled
func (b *Backends) Archive() *EventArchive {
	if b.ClickHouse == nil {
		return nil
	}
	return NewEventArchive(b.ClickHouse)
}

// Listen follows changes made by other instances when the store is shared through Redis.
// It returns immediately for other backends.
func (b *Backends) Listen(ctx context.Context) error {
	if b.redisStore == nil {
		return nil
	}
	return b.redisStore.Listen(ctx)
}

// Close closes every open connection
func (b *Backends) Close() {
	if b.ClickHouse != nil {
		_ = b.ClickHouse.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Postgres != nil {
		b.Postgres.Close()
	}
}
