package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/vault-streak/internal/errors"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/models"
	"github.com/vault-streak/internal/retry"
	"github.com/vault-streak/internal/types"
)

// PositionSource lists the vault positions held at an instant
type PositionSource interface {
	ListHeldAt(ctx context.Context, asOf time.Time) ([]*models.VaultPosition, error)
}

// SnapshotRunResult summarizes one snapshot run
type SnapshotRunResult struct {
	Midnight     time.Time `json:"midnight"`
	Positions    int       `json:"positions"`
	Accepted     int       `json:"accepted"`
	Deduplicated int       `json:"deduplicated"`
	Failed       int       `json:"failed"`
}

// SnapshotScheduler logs a snapshot event for every position held across UTC midnight
type SnapshotScheduler struct {
	positions   PositionSource
	streaks     *StreakService
	retryConfig *retry.Config
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      *logging.Logger
	now         func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewSnapshotScheduler creates a new snapshot scheduler. timeout bounds a single run.
func NewSnapshotScheduler(positions PositionSource, streaks *StreakService, timeout time.Duration, m *metrics.Metrics, logger *logging.Logger) *SnapshotScheduler {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &SnapshotScheduler{
		positions:   positions,
		streaks:     streaks,
		retryConfig: retry.DefaultConfig(),
		timeout:     timeout,
		metrics:     m,
		logger:      logger.WithField("component", "snapshot_scheduler"),
		now:         time.Now,
	}
}

// LastMidnight returns the most recent UTC midnight at or before t
func LastMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextMidnight returns the first UTC midnight strictly after t
func NextMidnight(t time.Time) time.Time {
	return LastMidnight(t).AddDate(0, 0, 1)
}

// Start runs a snapshot at every UTC midnight until Stop is called or ctx is done.
// With runNow set, the most recent midnight is captured immediately as well.
func (s *SnapshotScheduler) Start(ctx context.Context, runNow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, runNow, s.stopChan, s.done)
	return nil
}

func (s *SnapshotScheduler) loop(ctx context.Context, runNow bool, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		// Exiting on ctx leaves the scheduler restartable without a Stop
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
	}()

	if runNow {
		s.runScheduled(ctx, LastMidnight(s.now()))
	}

	for {
		next := NextMidnight(s.now())
		wait := next.Sub(s.now())
		s.logger.WithFields(map[string]interface{}{
			"next": next.Format(time.RFC3339),
			"in":   wait.Round(time.Second).String(),
		}).Info("Next snapshot scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			s.runScheduled(ctx, next)
		case <-stop:
			timer.Stop()
			s.logger.Info("Snapshot scheduler stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Snapshot scheduler context done")
			return
		}
	}
}

func (s *SnapshotScheduler) runScheduled(ctx context.Context, midnight time.Time) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.RunOnce(runCtx, midnight); err != nil {
		s.logger.WithError(err).Error("Snapshot run failed")
	}
}

// Stop stops the scheduler and waits for an in-flight run to finish
func (s *SnapshotScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot scheduler is not running")
	}
	close(s.stopChan)
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
	return nil
}

// RunOnce logs a snapshot event at midnight for every position held at that instant.
// Failing to log one position does not stop the others; an error is returned only
// when the positions could not be listed.
func (s *SnapshotScheduler) RunOnce(ctx context.Context, midnight time.Time) (*SnapshotRunResult, error) {
	midnight = midnight.UTC()
	logger := s.logger.WithField("midnight", midnight.Format(time.RFC3339))
	logger.Info("Starting snapshot run")

	var positions []*models.VaultPosition
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		held, err := s.positions.ListHeldAt(ctx, midnight)
		if err != nil {
			return apperrors.NewDatabaseError("list held positions", err)
		}
		positions = held
		return nil
	})
	if err != nil {
		s.metrics.SnapshotRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to list held positions: %w", err)
	}

	result := &SnapshotRunResult{Midnight: midnight, Positions: len(positions)}
	for _, p := range positions {
		logged, err := s.streaks.LogEvent(ctx, &LogEventInput{
			VaultID: p.VaultID,
			Wallet:  p.Wallet,
			Type:    types.EventSnapshot,
			At:      midnight.UnixMilli(),
		})
		if err != nil {
			result.Failed++
			logger.WithError(err).WithFields(map[string]interface{}{
				"wallet":  p.Wallet,
				"vaultId": p.VaultID,
			}).Warn("Failed to log snapshot event")
			continue
		}
		if logged.Accepted {
			result.Accepted++
		} else {
			result.Deduplicated++
		}
	}

	outcome := "success"
	if result.Failed > 0 {
		outcome = "partial"
	}
	s.metrics.SnapshotRuns.WithLabelValues(outcome).Inc()

	logger.WithFields(map[string]interface{}{
		"positions":    result.Positions,
		"accepted":     result.Accepted,
		"deduplicated": result.Deduplicated,
		"failed":       result.Failed,
	}).Info("Snapshot run completed")

	return result, nil
}
