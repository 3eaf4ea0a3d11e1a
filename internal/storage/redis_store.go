package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/types"
)

const backendRedis = "redis"

// RedisStore keeps the snapshot as one JSON blob in Redis.
//
// Reads are served from the in-process copy. Every Put publishes the writer's
// instance id on a change channel so other instances can reload.
type RedisStore struct {
	client     *redis.Client
	key        string
	channel    string
	instanceID string

	state     snapshotState
	listeners listenerSet
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewRedisStore creates a store under key and hydrates it from Redis
func NewRedisStore(ctx context.Context, cache *RedisCache, key string, opts StoreOptions) (*RedisStore, error) {
	opts = opts.withDefaults(backendRedis)

	s := &RedisStore{
		client:     cache.Client(),
		key:        key,
		channel:    key + ":changes",
		instanceID: uuid.NewString(),
		logger:     opts.Logger.WithField("key", key),
		metrics:    opts.Metrics,
	}

	snapshot, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.state.replace(snapshot)

	return s, nil
}

// fetch reads the blob from Redis. A missing or unreadable blob yields an empty snapshot.
func (s *RedisStore) fetch(ctx context.Context) (*types.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot from redis: %w", err)
	}

	snapshot := types.NewSnapshot()
	if err := json.Unmarshal(raw, snapshot); err != nil {
		s.logger.WithError(err).Warn("Discarding unreadable snapshot blob")
		return types.NewSnapshot(), nil
	}
	if snapshot.Records == nil {
		snapshot.Records = make(map[string]types.StreakRecord)
	}
	if snapshot.Events == nil {
		snapshot.Events = []types.StreakEvent{}
	}
	return snapshot, nil
}

// Get returns a copy of the current snapshot
func (s *RedisStore) Get(ctx context.Context) (*types.Snapshot, error) {
	return s.state.load(), nil
}

// Put replaces the snapshot, persists it and notifies subscribers
func (s *RedisStore) Put(ctx context.Context, snapshot *types.Snapshot) error {
	next := s.state.replace(snapshot)

	if err := s.persist(ctx, next); err != nil {
		s.metrics.PersistFailures.WithLabelValues(backendRedis).Inc()
		s.logger.WithError(err).Error("Failed to persist snapshot")
	}

	s.listeners.notify(next)
	return nil
}

func (s *RedisStore) persist(ctx context.Context, snapshot *types.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key, raw, 0)
	pipe.Publish(ctx, s.channel, s.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Subscribe registers fn for change notifications
func (s *RedisStore) Subscribe(fn Listener) Unsubscribe {
	return s.listeners.add(fn)
}

// Listen reloads the snapshot whenever another instance publishes a change.
// It blocks until ctx is done.
func (s *RedisStore) Listen(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if msg.Payload == s.instanceID {
				continue
			}
			if err := s.Reload(ctx); err != nil {
				s.logger.WithError(err).Warn("Failed to reload snapshot after remote change")
			}
		}
	}
}

// Reload replaces the in-process copy with the blob stored in Redis and notifies subscribers
func (s *RedisStore) Reload(ctx context.Context) error {
	snapshot, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	next := s.state.replace(snapshot)
	s.listeners.notify(next)
	return nil
}

// Clear deletes the stored blob and empties the snapshot
func (s *RedisStore) Clear(ctx context.Context) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	pipe.Publish(ctx, s.channel, s.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	next := s.state.replace(types.NewSnapshot())
	s.listeners.notify(next)
	return nil
}
