package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/types"
)

const backendPostgres = "postgres"

const (
	insertEventSQL = `
		INSERT INTO streak_events (id, vault_id, wallet, type, at_ms, day_key, amount_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (vault_id, wallet, day_key, type) DO NOTHING
	`

	upsertRecordSQL = `
		INSERT INTO streak_records (record_key, current_streak, longest_streak, last_counted_day, last_event_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (record_key)
		DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_counted_day = EXCLUDED.last_counted_day,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = NOW()
	`
)

// PostgresStore keeps events and records in Postgres tables.
//
// Events are append-only: a Put inserts the events it has not written yet and
// upserts the records that changed. Reads are served from the in-process copy.
type PostgresStore struct {
	pool *pgxpool.Pool

	state     snapshotState
	listeners listenerSet
	logger    *logging.Logger
	metrics   *metrics.Metrics

	persistMu        sync.Mutex
	persistedSlots   map[string]struct{}
	persistedRecords map[string]types.StreakRecord
}

// NewPostgresStore creates a store over pool and loads the existing rows
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts StoreOptions) (*PostgresStore, error) {
	opts = opts.withDefaults(backendPostgres)

	s := &PostgresStore{
		pool:             pool,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		persistedSlots:   make(map[string]struct{}),
		persistedRecords: make(map[string]types.StreakRecord),
	}

	snapshot, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range snapshot.Events {
		s.persistedSlots[slotKey(e)] = struct{}{}
	}
	for k, r := range snapshot.Records {
		s.persistedRecords[k] = r
	}
	s.state.replace(snapshot)

	return s, nil
}

func slotKey(e types.StreakEvent) string {
	return e.VaultID + "|" + e.Wallet + "|" + e.DayKey + "|" + string(e.Type)
}

func (s *PostgresStore) fetch(ctx context.Context) (*types.Snapshot, error) {
	snapshot := types.NewSnapshot()

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, vault_id, wallet, type, at_ms, day_key, amount_usd
		FROM streak_events
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query streak events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.StreakEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.VaultID, &e.Wallet, &eventType, &e.At, &e.DayKey, &e.AmountUSD); err != nil {
			return nil, fmt.Errorf("failed to scan streak event: %w", err)
		}
		e.Type = types.QualifyingEvent(eventType)
		snapshot.Events = append(snapshot.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streak events: %w", err)
	}

	recordRows, err := s.pool.Query(ctx, `
		SELECT record_key, current_streak, longest_streak, last_counted_day, last_event_at
		FROM streak_records
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query streak records: %w", err)
	}
	defer recordRows.Close()

	for recordRows.Next() {
		var key string
		var r types.StreakRecord
		if err := recordRows.Scan(&key, &r.Current, &r.Longest, &r.LastCountedDay, &r.LastEventAt); err != nil {
			return nil, fmt.Errorf("failed to scan streak record: %w", err)
		}
		snapshot.Records[key] = r
	}
	if err := recordRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating streak records: %w", err)
	}

	return snapshot, nil
}

// Get returns a copy of the current snapshot
func (s *PostgresStore) Get(ctx context.Context) (*types.Snapshot, error) {
	return s.state.load(), nil
}

// Put replaces the snapshot, writes the difference to Postgres and notifies subscribers
func (s *PostgresStore) Put(ctx context.Context, snapshot *types.Snapshot) error {
	next := s.state.replace(snapshot)

	if err := s.persist(ctx, next); err != nil {
		s.metrics.PersistFailures.WithLabelValues(backendPostgres).Inc()
		s.logger.WithError(err).Error("Failed to persist snapshot")
	}

	s.listeners.notify(next)
	return nil
}

func (s *PostgresStore) persist(ctx context.Context, snapshot *types.Snapshot) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	batch := &pgx.Batch{}
	var newSlots []string
	for _, e := range snapshot.Events {
		key := slotKey(e)
		if _, ok := s.persistedSlots[key]; ok {
			continue
		}
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(insertEventSQL, id, e.VaultID, e.Wallet, string(e.Type), e.At, e.DayKey, e.AmountUSD)
		newSlots = append(newSlots, key)
	}

	changed := make(map[string]types.StreakRecord)
	for k, r := range snapshot.Records {
		if prev, ok := s.persistedRecords[k]; ok && prev == r {
			continue
		}
		batch.Queue(upsertRecordSQL, k, r.Current, r.Longest, r.LastCountedDay, r.LastEventAt)
		changed[k] = r
	}

	if batch.Len() == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write snapshot batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	for _, key := range newSlots {
		s.persistedSlots[key] = struct{}{}
	}
	for k, r := range changed {
		s.persistedRecords[k] = r
	}
	return nil
}

// Subscribe registers fn for change notifications
func (s *PostgresStore) Subscribe(fn Listener) Unsubscribe {
	return s.listeners.add(fn)
}

// Clear truncates both tables and empties the snapshot
func (s *PostgresStore) Clear(ctx context.Context) error {
	s.persistMu.Lock()
	if _, err := s.pool.Exec(ctx, `TRUNCATE streak_events, streak_records`); err != nil {
		s.persistMu.Unlock()
		return fmt.Errorf("failed to clear streak tables: %w", err)
	}
	s.persistedSlots = make(map[string]struct{})
	s.persistedRecords = make(map[string]types.StreakRecord)
	s.persistMu.Unlock()

	next := s.state.replace(types.NewSnapshot())
	s.listeners.notify(next)
	return nil
}
