package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func fail(ctx context.Context) error { return errBackend }
func succeed(ctx context.Context) error { return nil }

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		MinCalls:         4,
		FailureThreshold: 0.5,
		MaxConsecutive:   3,
		Timeout:          10 * time.Second,
		HalfOpenMaxCalls: 2,
	})
	cb.now = func() time.Time { return *now }
	return cb
}

func TestCircuitBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_OpensOnFailureRate(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail) // 2 of 4 failed
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	now = now.Add(11 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	now = now.Add(11 * time.Second)

	// Two trial calls in flight use up the budget
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			done <- cb.Execute(ctx, func(ctx context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

// startTrial runs a call that blocks until release is closed, then returns result
func startTrial(cb *CircuitBreaker, result error) (release chan struct{}, done chan error) {
	release = make(chan struct{})
	done = make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return result
		})
	}()
	<-started
	return release, done
}

// openThenReopen leaves a trial from the first half-open window in flight
// while the breaker sits in a second half-open window.
func openThenReopen(t *testing.T, cb *CircuitBreaker, now *time.Time, staleResult error) (release chan struct{}, done chan error) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	*now = now.Add(11 * time.Second)

	release, done = startTrial(cb, staleResult)
	require.Equal(t, StateHalfOpen, cb.State())

	require.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(11 * time.Second)
	return release, done
}

func TestCircuitBreaker_StaleTrialSuccessIsIgnored(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	staleRelease, staleDone := openThenReopen(t, cb, &now, nil)

	release, done := startTrial(cb, nil)
	assert.Equal(t, StateHalfOpen, cb.State())

	close(staleRelease)
	require.NoError(t, <-staleDone)

	// One trial in flight, none counted yet
	release2, done2 := startTrial(cb, nil)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateHalfOpen, cb.State())

	close(release2)
	require.NoError(t, <-done2)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StaleTrialFailureIsIgnored(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)
	ctx := context.Background()

	staleRelease, staleDone := openThenReopen(t, cb, &now, errBackend)

	require.NoError(t, cb.Execute(ctx, succeed))
	require.Equal(t, StateHalfOpen, cb.State())

	close(staleRelease)
	assert.ErrorIs(t, <-staleDone, errBackend)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	now := time.Unix(0, 0)
	cb := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}
