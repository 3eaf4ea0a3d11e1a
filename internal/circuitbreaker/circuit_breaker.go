// Package circuitbreaker stops calling a failing dependency for a cool-down period.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vault-streak/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means calls pass through
	StateClosed State = "closed"
	// StateOpen means calls are rejected without reaching the dependency
	StateOpen State = "open"
	// StateHalfOpen means a limited number of trial calls are let through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when the half-open trial budget is used up
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name             string
	MinCalls         int           // Calls observed before the failure rate is considered
	FailureThreshold float64       // Failure rate (0.0-1.0) that opens the circuit
	MaxConsecutive   int           // Consecutive failures that open the circuit regardless of rate
	Timeout          time.Duration // Time spent open before trial calls are allowed
	HalfOpenMaxCalls int           // Successful trial calls needed to close again
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MinCalls:         10,
		FailureThreshold: 0.5,
		MaxConsecutive:   5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config *Config
	now    func() time.Time
	logger *logging.Logger

	mu               sync.Mutex
	state            State
	calls            int
	failures         int
	consecutiveFails int
	halfOpenInFlight int
	halfOpenSuccess  int
	openedAt         time.Time
	generation       uint64 // Bumped on every transition; results from older generations are dropped
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		logger: logging.WithField("circuitBreaker", config.Name),
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. ctx is passed through to fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	generation, err := cb.beforeCall()
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.afterCall(generation, err)
	return err
}

func (cb *CircuitBreaker) beforeCall() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return cb.generation, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough

	case StateHalfOpen:
		if cb.halfOpenInFlight+cb.halfOpenSuccess >= cb.config.HalfOpenMaxCalls {
			return cb.generation, ErrTooManyRequests
		}
		cb.halfOpenInFlight++
	}
	return cb.generation, nil
}

func (cb *CircuitBreaker) afterCall(generation uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return
	}

	if cb.state == StateHalfOpen {
		cb.halfOpenInFlight--
		if err != nil {
			cb.transition(StateOpen)
			return
		}
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.HalfOpenMaxCalls {
			cb.transition(StateClosed)
		}
		return
	}

	if cb.state != StateClosed {
		return
	}

	cb.calls++
	if err == nil {
		cb.consecutiveFails = 0
		return
	}

	cb.failures++
	cb.consecutiveFails++
	if cb.shouldOpen() {
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.config.MaxConsecutive > 0 && cb.consecutiveFails >= cb.config.MaxConsecutive {
		return true
	}
	if cb.calls < cb.config.MinCalls {
		return false
	}
	return float64(cb.failures)/float64(cb.calls) >= cb.config.FailureThreshold
}

// transition changes state and clears the counters of the previous state. Caller holds mu.
func (cb *CircuitBreaker) transition(state State) {
	if state == StateOpen {
		cb.openedAt = cb.now()
	}

	cb.logger.WithFields(map[string]interface{}{
		"from":     cb.state,
		"to":       state,
		"failures": cb.failures,
		"calls":    cb.calls,
	}).Warn("Circuit breaker state changed")

	cb.state = state
	cb.generation++
	cb.calls = 0
	cb.failures = 0
	cb.consecutiveFails = 0
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccess = 0
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
