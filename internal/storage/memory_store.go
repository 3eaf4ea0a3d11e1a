package storage

import (
	"context"

	"github.com/vault-streak/internal/types"
)

// MemoryStore keeps the snapshot in process memory only
type MemoryStore struct {
	state     snapshotState
	listeners listenerSet
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.state.replace(types.NewSnapshot())
	return s
}

// Get returns a copy of the current snapshot
func (s *MemoryStore) Get(ctx context.Context) (*types.Snapshot, error) {
	return s.state.load(), nil
}

// Put replaces the snapshot and notifies subscribers
func (s *MemoryStore) Put(ctx context.Context, snapshot *types.Snapshot) error {
	next := s.state.replace(snapshot)
	s.listeners.notify(next)
	return nil
}

// Subscribe registers fn for change notifications
func (s *MemoryStore) Subscribe(fn Listener) Unsubscribe {
	return s.listeners.add(fn)
}

// Clear drops every event and record
func (s *MemoryStore) Clear(ctx context.Context) error {
	return s.Put(ctx, types.NewSnapshot())
}
