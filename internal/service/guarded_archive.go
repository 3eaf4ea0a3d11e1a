package service

import (
	"context"

	"github.com/vault-streak/internal/circuitbreaker"
	"github.com/vault-streak/internal/types"
)

// GuardedArchive wraps an archive with a circuit breaker so that an unreachable
// archive stops adding latency to every logged event.
type GuardedArchive struct {
	inner   EventArchiver
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedArchive wraps inner. A nil breaker config uses the defaults.
func NewGuardedArchive(inner EventArchiver, config *circuitbreaker.Config) *GuardedArchive {
	if config == nil {
		config = circuitbreaker.DefaultConfig("event_archive")
	}
	return &GuardedArchive{
		inner:   inner,
		breaker: circuitbreaker.NewCircuitBreaker(config),
	}
}

// Append forwards to the wrapped archive unless the circuit is open
func (g *GuardedArchive) Append(ctx context.Context, events ...types.StreakEvent) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.Append(ctx, events...)
	})
}

// State reports the breaker state
func (g *GuardedArchive) State() circuitbreaker.State {
	return g.breaker.State()
}
