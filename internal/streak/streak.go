// Package streak implements the day-bucketed event deduplication and
// consecutive-day streak accounting for vault wallets.
//
// Every function in this package is pure. Persistence and clocks belong to
// the caller.
package streak

import (
	"sort"
	"time"

	"github.com/vault-streak/internal/types"
)

// DayKeyLayout is the layout of a day-key (UTC calendar date)
const DayKeyLayout = "2006-01-02"

// RecordKeySeparator joins wallet and vault id in a record key
const RecordKeySeparator = "::"

const day = 24 * time.Hour

// DayKey returns the UTC calendar date of a millisecond timestamp as YYYY-MM-DD
func DayKey(atMillis int64) string {
	return time.UnixMilli(atMillis).UTC().Format(DayKeyLayout)
}

// RecordKey returns the store key of the record for a (wallet, vault) pair
func RecordKey(wallet, vaultID string) string {
	return wallet + RecordKeySeparator + vaultID
}

// sameSlot reports whether two events share the dedup tuple
func sameSlot(a, b types.StreakEvent) bool {
	return a.VaultID == b.VaultID &&
		a.Wallet == b.Wallet &&
		a.DayKey == b.DayKey &&
		a.Type == b.Type
}

// UpsertEvent adds candidate to events unless an event with the same
// (vault, wallet, day, type) already exists.
//
// On a duplicate the input slice itself is returned, so callers can detect a
// no-op by comparing lengths. Otherwise the result is a freshly allocated
// slice that never shares the input's backing array.
func UpsertEvent(events []types.StreakEvent, candidate types.StreakEvent) []types.StreakEvent {
	for _, e := range events {
		if sameSlot(e, candidate) {
			return events
		}
	}

	next := make([]types.StreakEvent, len(events), len(events)+1)
	copy(next, events)
	return append(next, candidate)
}

// DayKeysFor returns the distinct day-keys of the events logged by wallet on vaultID
func DayKeysFor(events []types.StreakEvent, wallet, vaultID string) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	for _, e := range events {
		if e.Wallet != wallet || e.VaultID != vaultID {
			continue
		}
		if _, ok := seen[e.DayKey]; ok {
			continue
		}
		seen[e.DayKey] = struct{}{}
		keys = append(keys, e.DayKey)
	}
	return keys
}

// Recompute rebuilds a streak record from the complete set of day-keys of a pair.
// base carries the longest streak seen so far; now stamps LastEventAt.
func Recompute(base types.StreakRecord, dayKeys []string, now time.Time) types.StreakRecord {
	if len(dayKeys) == 0 {
		return types.StreakRecord{
			Current:        0,
			Longest:        base.Longest,
			LastCountedDay: "",
			LastEventAt:    0,
		}
	}

	sorted := distinctSorted(dayKeys)

	current := 0
	longest := base.Longest
	var prev time.Time
	prevValid := false

	for i, key := range sorted {
		d, err := time.Parse(DayKeyLayout, key)
		valid := err == nil

		if i > 0 && valid && prevValid && d.Sub(prev) == day {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}

		prev = d
		prevValid = valid
	}

	return types.StreakRecord{
		Current:        current,
		Longest:        longest,
		LastCountedDay: sorted[len(sorted)-1],
		LastEventAt:    now.UnixMilli(),
	}
}

// distinctSorted returns the keys sorted ascending with duplicates removed.
// Lexicographic order equals date order for zero-padded ISO dates.
func distinctSorted(keys []string) []string {
	out := make([]string, len(keys))
	copy(out, keys)
	sort.Strings(out)

	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// IsLive reports whether the record's last counted day is today or yesterday (UTC) relative to now
func IsLive(record types.StreakRecord, now time.Time) bool {
	if record.LastCountedDay == "" {
		return false
	}
	today := DayKey(now.UnixMilli())
	yesterday := DayKey(now.Add(-day).UnixMilli())
	return record.LastCountedDay == today || record.LastCountedDay == yesterday
}

// Effective returns the record as it should be displayed at now: a streak
// whose last counted day is older than yesterday shows a current of zero.
// The stored record is not modified.
func Effective(record types.StreakRecord, now time.Time) types.StreakRecord {
	if !IsLive(record, now) {
		record.Current = 0
	}
	return record
}

// SortEventsDescending returns a copy of events ordered by At, most recent first
func SortEventsDescending(events []types.StreakEvent) []types.StreakEvent {
	out := make([]types.StreakEvent, len(events))
	copy(out, events)
	sort.Slice(out, func(i, j int) bool {
		return out[i].At > out[j].At
	})
	return out
}
