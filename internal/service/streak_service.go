package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	apperrors "github.com/vault-streak/internal/errors"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/storage"
	"github.com/vault-streak/internal/streak"
	"github.com/vault-streak/internal/types"
)

// Bounds keeping day-keys at ten characters (years 0000-9999)
var (
	minEventTime = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	maxEventTime = time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli() - 1
)

// EventArchiver receives every accepted event for long-term analytics
type EventArchiver interface {
	Append(ctx context.Context, events ...types.StreakEvent) error
}

// LogEventInput is a qualifying action reported by a caller
type LogEventInput struct {
	VaultID   string
	Wallet    string
	Type      types.QualifyingEvent
	At        int64 // Milliseconds since epoch
	AmountUSD *float64
}

// LogEventResult is the outcome of LogEvent
type LogEventResult struct {
	Event    types.StreakEvent  `json:"event"`
	Record   types.StreakRecord `json:"record"`
	Accepted bool               `json:"accepted"` // False when the day slot was already taken
}

// StreakView is a record together with its display-time interpretation
type StreakView struct {
	Wallet    string                  `json:"wallet"`
	VaultID   string                  `json:"vaultId"`
	Record    types.StreakRecord      `json:"record"`
	Effective types.StreakRecord      `json:"effective"`
	Live      bool                    `json:"live"`
	Progress  types.MilestoneProgress `json:"progress"`
}

// StreakService logs qualifying events and maintains streak records in a store.
// Writes are serialized so that read-modify-write cycles on the snapshot never interleave.
type StreakService struct {
	mu      sync.Mutex
	store   storage.Store
	archive EventArchiver
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a StreakService
type Option func(*StreakService)

// WithClock replaces time.Now as the source of "now" for recomputes and liveness checks
func WithClock(now func() time.Time) Option {
	return func(s *StreakService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStreakService creates a new streak service. archive may be nil.
func NewStreakService(store storage.Store, archive EventArchiver, m *metrics.Metrics, logger *logging.Logger, opts ...Option) *StreakService {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &StreakService{
		store:   store,
		archive: archive,
		metrics: m,
		logger:  logger.WithField("component", "streak_service"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogEvent records a qualifying event and recomputes the pair's streak.
// A second event of the same type on the same UTC day is not an error:
// it is dropped and the existing record is returned with Accepted set to false.
func (s *StreakService) LogEvent(ctx context.Context, in *LogEventInput) (*LogEventResult, error) {
	event, err := buildEvent(in)
	if err != nil {
		return nil, err
	}

	result, err := s.apply(ctx, event)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"wallet":  event.Wallet,
		"vaultId": event.VaultID,
		"type":    string(event.Type),
		"dayKey":  event.DayKey,
	})

	if !result.Accepted {
		s.metrics.EventsDeduplicated.WithLabelValues(string(event.Type)).Inc()
		logger.Debug("Duplicate event for day slot ignored")
		return result, nil
	}

	s.metrics.EventsLogged.WithLabelValues(string(event.Type)).Inc()
	logger.WithField("current", result.Record.Current).Info("Streak event logged")

	if s.archive != nil {
		if err := s.archive.Append(ctx, result.Event); err != nil {
			s.metrics.ArchiveFailures.Inc()
			logger.WithError(err).Warn("Failed to archive streak event")
		}
	}

	return result, nil
}

// apply runs the upsert and recompute against the current snapshot and writes the result back
func (s *StreakService) apply(ctx context.Context, event types.StreakEvent) (*LogEventResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.store.Get(ctx)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	key := streak.RecordKey(event.Wallet, event.VaultID)

	events := streak.UpsertEvent(snapshot.Events, event)
	if len(events) == len(snapshot.Events) {
		return &LogEventResult{
			Event:    existingEvent(snapshot.Events, event),
			Record:   snapshot.Records[key],
			Accepted: false,
		}, nil
	}

	record := streak.Recompute(
		snapshot.Records[key],
		streak.DayKeysFor(events, event.Wallet, event.VaultID),
		s.now(),
	)

	snapshot.Events = events
	snapshot.Records[key] = record

	if err := s.store.Put(ctx, snapshot); err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	return &LogEventResult{Event: event, Record: record, Accepted: true}, nil
}

// GetStreak returns the record of a (wallet, vault) pair. An unknown pair has a zero record.
func (s *StreakService) GetStreak(ctx context.Context, wallet, vaultID string) (*StreakView, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	vaultID = strings.TrimSpace(vaultID)
	if err := validateVaultID(vaultID); err != nil {
		return nil, err
	}

	snapshot, err := s.store.Get(ctx)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	now := s.now()
	record := snapshot.Records[streak.RecordKey(wallet, vaultID)]
	effective := streak.Effective(record, now)

	return &StreakView{
		Wallet:    wallet,
		VaultID:   vaultID,
		Record:    record,
		Effective: effective,
		Live:      streak.IsLive(record, now),
		Progress:  streak.Progress(effective.Current),
	}, nil
}

// ListEvents returns the events of a (wallet, vault) pair, most recent first.
// A limit of zero or less returns every event.
func (s *StreakService) ListEvents(ctx context.Context, wallet, vaultID string, limit int) ([]types.StreakEvent, error) {
	wallet, err := normalizeWallet(wallet)
	if err != nil {
		return nil, err
	}
	vaultID = strings.TrimSpace(vaultID)
	if err := validateVaultID(vaultID); err != nil {
		return nil, err
	}

	snapshot, err := s.store.Get(ctx)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError(err)
	}

	pair := make([]types.StreakEvent, 0)
	for _, e := range snapshot.Events {
		if e.Wallet == wallet && e.VaultID == vaultID {
			pair = append(pair, e)
		}
	}

	sorted := streak.SortEventsDescending(pair)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func buildEvent(in *LogEventInput) (types.StreakEvent, error) {
	if in == nil {
		return types.StreakEvent{}, apperrors.NewValidationError(apperrors.CodeInvalidVault, "vaultId", "vault id is required")
	}

	wallet, err := normalizeWallet(in.Wallet)
	if err != nil {
		return types.StreakEvent{}, err
	}
	vaultID := strings.TrimSpace(in.VaultID)
	if err := validateVaultID(vaultID); err != nil {
		return types.StreakEvent{}, err
	}
	if !in.Type.Valid() {
		return types.StreakEvent{}, apperrors.NewValidationError(
			apperrors.CodeInvalidEventType, "type",
			fmt.Sprintf("unknown event type %q (must be %s or %s)", in.Type, types.EventDeposit, types.EventSnapshot),
		)
	}
	if in.At < minEventTime || in.At > maxEventTime {
		return types.StreakEvent{}, apperrors.NewValidationError(
			apperrors.CodeInvalidTimestamp, "at", "timestamp must fall within years 0000 to 9999",
		)
	}

	var amount *float64
	if in.AmountUSD != nil {
		v := *in.AmountUSD
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return types.StreakEvent{}, apperrors.NewValidationError(
				apperrors.CodeInvalidAmount, "amountUsd", "amount must be a finite, non-negative number",
			)
		}
		amount = &v
	}

	return types.StreakEvent{
		ID:        uuid.NewString(),
		VaultID:   vaultID,
		Wallet:    wallet,
		Type:      in.Type,
		At:        in.At,
		DayKey:    streak.DayKey(in.At),
		AmountUSD: amount,
	}, nil
}

// normalizeWallet accepts a 0x-prefixed 20-byte address or 32-byte account id and lower-cases it
func normalizeWallet(wallet string) (string, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	raw, err := hexutil.Decode(wallet)
	if err != nil || (len(raw) != 20 && len(raw) != 32) {
		return "", apperrors.NewValidationError(
			apperrors.CodeInvalidWallet, "wallet", "wallet must be a 0x-prefixed 20 or 32 byte hex string",
		)
	}
	return wallet, nil
}

func validateVaultID(vaultID string) error {
	if strings.TrimSpace(vaultID) == "" {
		return apperrors.NewValidationError(apperrors.CodeInvalidVault, "vaultId", "vault id is required")
	}
	if strings.Contains(vaultID, streak.RecordKeySeparator) {
		return apperrors.NewValidationError(
			apperrors.CodeInvalidVault, "vaultId",
			fmt.Sprintf("vault id must not contain %q", streak.RecordKeySeparator),
		)
	}
	return nil
}

func existingEvent(events []types.StreakEvent, candidate types.StreakEvent) types.StreakEvent {
	for _, e := range events {
		if e.VaultID == candidate.VaultID && e.Wallet == candidate.Wallet &&
			e.DayKey == candidate.DayKey && e.Type == candidate.Type {
			return e
		}
	}
	return candidate
}
