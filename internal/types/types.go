// Package types provides common type definitions for the vault streak system.
package types

// QualifyingEvent represents an action that counts toward a streak
type QualifyingEvent string

const (
	// EventDeposit represents an explicit user deposit into a vault
	EventDeposit QualifyingEvent = "deposit"
	// EventSnapshot represents a position held across UTC midnight
	EventSnapshot QualifyingEvent = "snapshot"
)

// Valid reports whether the event type is one of the known qualifying events
func (e QualifyingEvent) Valid() bool {
	switch e {
	case EventDeposit, EventSnapshot:
		return true
	default:
		return false
	}
}

// StreakEvent represents one qualifying action by a wallet on a vault on a UTC day
type StreakEvent struct {
	ID        string          `json:"id,omitempty"`
	VaultID   string          `json:"vaultId"`
	Wallet    string          `json:"wallet"`
	Type      QualifyingEvent `json:"type"`
	At        int64           `json:"at"`                  // Milliseconds since epoch
	DayKey    string          `json:"dayKey"`              // UTC calendar day, YYYY-MM-DD
	AmountUSD *float64        `json:"amountUsd,omitempty"` // Informational, deposits only
}

// StreakRecord is the derived summary for one (wallet, vault) pair
type StreakRecord struct {
	Current        int    `json:"current"`
	Longest        int    `json:"longest"`
	LastCountedDay string `json:"lastCountedDay"`
	LastEventAt    int64  `json:"lastEventAt"` // Milliseconds since epoch of the last recompute
}

// Snapshot is the full state held by an event store
type Snapshot struct {
	Events  []StreakEvent           `json:"events"`
	Records map[string]StreakRecord `json:"records"`
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Events:  []StreakEvent{},
		Records: make(map[string]StreakRecord),
	}
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return NewSnapshot()
	}

	out := &Snapshot{
		Events:  make([]StreakEvent, len(s.Events)),
		Records: make(map[string]StreakRecord, len(s.Records)),
	}
	for i, e := range s.Events {
		if e.AmountUSD != nil {
			amount := *e.AmountUSD
			e.AmountUSD = &amount
		}
		out.Events[i] = e
	}
	for k, v := range s.Records {
		out.Records[k] = v
	}
	return out
}

// MilestoneProgress describes progress from the last reached milestone to the next one
type MilestoneProgress struct {
	Current    int     `json:"current"`
	Previous   int     `json:"previous"`
	Next       int     `json:"next"`
	Percent    float64 `json:"percent"`    // 0..100
	MaxReached bool    `json:"maxReached"` // True once the top milestone is reached
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
