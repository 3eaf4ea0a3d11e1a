// Package storage provides the streak event stores, database connections and
// repository implementations.
package storage

import (
	"context"
	"sync"

	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/types"
)

// Store holds the streak events and derived records as a single snapshot.
//
// Put replaces the whole snapshot and notifies subscribers once the new state
// is visible. Durability is best-effort: a backend that fails to persist logs
// and counts the failure but does not return it.
type Store interface {
	Get(ctx context.Context) (*types.Snapshot, error)
	Put(ctx context.Context, snapshot *types.Snapshot) error
	Subscribe(fn Listener) Unsubscribe
}

// Listener receives a private copy of the snapshot after every change
type Listener func(snapshot *types.Snapshot)

// Unsubscribe removes a listener registered with Subscribe
type Unsubscribe func()

// StoreOptions holds the ambient dependencies shared by store implementations
type StoreOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

func (o StoreOptions) withDefaults(backend string) StoreOptions {
	if o.Logger == nil {
		o.Logger = logging.GetGlobalLogger()
	}
	o.Logger = o.Logger.WithField("store", backend)
	if o.Metrics == nil {
		o.Metrics = metrics.NewUnregistered()
	}
	return o
}

// listenerSet fans a snapshot out to subscribers
type listenerSet struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]Listener
}

func (l *listenerSet) add(fn Listener) Unsubscribe {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[int]Listener)
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// notify calls every listener outside the lock so listeners may subscribe or unsubscribe
func (l *listenerSet) notify(snapshot *types.Snapshot) {
	l.mu.Lock()
	fns := make([]Listener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot.Clone())
	}
}

// snapshotState is the in-process copy of the snapshot every store serves reads from
type snapshotState struct {
	mu       sync.RWMutex
	snapshot *types.Snapshot
}

func (s *snapshotState) load() *types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

func (s *snapshotState) replace(snapshot *types.Snapshot) *types.Snapshot {
	next := snapshot.Clone()
	s.mu.Lock()
	s.snapshot = next
	s.mu.Unlock()
	return next
}
