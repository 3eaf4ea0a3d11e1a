package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vault-streak/internal/types"
)

const testWallet = "0x1234567890123456789012345678901234567890"

func millis(t *testing.T, value string) int64 {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts.UnixMilli()
}

func event(vaultID string, typ types.QualifyingEvent, at int64) types.StreakEvent {
	return types.StreakEvent{
		VaultID: vaultID,
		Wallet:  testWallet,
		Type:    typ,
		At:      at,
		DayKey:  DayKey(at),
	}
}

func TestDayKey(t *testing.T) {
	tests := []struct {
		name string
		at   string
		want string
	}{
		{name: "midnight", at: "2024-08-28T00:00:00Z", want: "2024-08-28"},
		{name: "last millisecond of day", at: "2024-08-28T23:59:59.999Z", want: "2024-08-28"},
		{name: "offset zone is converted to UTC", at: "2024-08-28T22:30:00-05:00", want: "2024-08-29"},
		{name: "leap day", at: "2024-02-29T12:00:00Z", want: "2024-02-29"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DayKey(millis(t, tt.at)))
		})
	}

	t.Run("epoch", func(t *testing.T) {
		assert.Equal(t, "1970-01-01", DayKey(0))
	})

	t.Run("before epoch", func(t *testing.T) {
		assert.Equal(t, "1969-12-31", DayKey(-1))
	})
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, testWallet+"::vault-1", RecordKey(testWallet, "vault-1"))
}

func TestUpsertEvent(t *testing.T) {
	at := millis(t, "2024-08-28T09:00:00Z")
	deposit := event("vault-1", types.EventDeposit, at)

	t.Run("appends to empty list", func(t *testing.T) {
		out := UpsertEvent(nil, deposit)
		require.Len(t, out, 1)
		assert.Equal(t, deposit, out[0])
	})

	t.Run("repeat on same day returns the same slice", func(t *testing.T) {
		events := []types.StreakEvent{deposit}
		later := event("vault-1", types.EventDeposit, at+3*int64(time.Hour/time.Millisecond))

		out := UpsertEvent(events, later)
		require.Len(t, out, 1)
		assert.True(t, &out[0] == &events[0], "expected the input slice to be returned")
		assert.Equal(t, at, out[0].At, "original timestamp must be kept")
	})

	t.Run("distinct types on the same day coexist", func(t *testing.T) {
		snapshot := event("vault-1", types.EventSnapshot, at+1000)
		out := UpsertEvent([]types.StreakEvent{deposit}, snapshot)
		assert.Len(t, out, 2)
	})

	t.Run("other vault is not a duplicate", func(t *testing.T) {
		out := UpsertEvent([]types.StreakEvent{deposit}, event("vault-2", types.EventDeposit, at))
		assert.Len(t, out, 2)
	})

	t.Run("other wallet is not a duplicate", func(t *testing.T) {
		other := deposit
		other.Wallet = "0x0000000000000000000000000000000000000001"
		out := UpsertEvent([]types.StreakEvent{deposit}, other)
		assert.Len(t, out, 2)
	})

	t.Run("next day is not a duplicate", func(t *testing.T) {
		next := event("vault-1", types.EventDeposit, at+int64(day/time.Millisecond))
		out := UpsertEvent([]types.StreakEvent{deposit}, next)
		require.Len(t, out, 2)
		assert.Equal(t, next, out[1])
	})

	t.Run("does not write into spare capacity of the input", func(t *testing.T) {
		events := make([]types.StreakEvent, 1, 4)
		events[0] = deposit
		spare := events[:2]

		out := UpsertEvent(events, event("vault-9", types.EventDeposit, at))
		require.Len(t, out, 2)
		assert.Empty(t, spare[1].VaultID)
		assert.Len(t, events, 1)
	})
}

func TestDayKeysFor(t *testing.T) {
	at := millis(t, "2024-08-28T09:00:00Z")
	next := at + int64(day/time.Millisecond)

	events := []types.StreakEvent{
		event("vault-1", types.EventDeposit, at),
		event("vault-1", types.EventSnapshot, at),
		event("vault-1", types.EventSnapshot, next),
		event("vault-2", types.EventDeposit, next),
	}

	keys := DayKeysFor(events, testWallet, "vault-1")
	assert.ElementsMatch(t, []string{"2024-08-28", "2024-08-29"}, keys)

	assert.Empty(t, DayKeysFor(events, testWallet, "vault-3"))
}

func TestRecompute(t *testing.T) {
	now := time.Date(2024, 9, 10, 12, 0, 0, 0, time.UTC)

	t.Run("empty day-keys", func(t *testing.T) {
		base := types.StreakRecord{Current: 4, Longest: 7, LastCountedDay: "2024-09-01", LastEventAt: 123}
		got := Recompute(base, nil, now)
		assert.Equal(t, types.StreakRecord{Current: 0, Longest: 7, LastCountedDay: "", LastEventAt: 0}, got)
	})

	t.Run("consecutive days", func(t *testing.T) {
		got := Recompute(types.StreakRecord{}, []string{"2024-08-28", "2024-08-29", "2024-08-30"}, now)
		assert.Equal(t, 3, got.Current)
		assert.Equal(t, 3, got.Longest)
		assert.Equal(t, "2024-08-30", got.LastCountedDay)
		assert.Equal(t, now.UnixMilli(), got.LastEventAt)
	})

	t.Run("gap resets current and preserves longest", func(t *testing.T) {
		got := Recompute(types.StreakRecord{Longest: 5}, []string{"2024-09-05", "2024-09-07", "2024-09-08"}, now)
		assert.Equal(t, 2, got.Current)
		assert.Equal(t, 5, got.Longest)
		assert.Equal(t, "2024-09-08", got.LastCountedDay)
	})

	t.Run("unsorted input", func(t *testing.T) {
		got := Recompute(types.StreakRecord{}, []string{"2024-08-30", "2024-08-28", "2024-08-29"}, now)
		assert.Equal(t, 3, got.Current)
		assert.Equal(t, "2024-08-30", got.LastCountedDay)
	})

	t.Run("longest comes from an earlier run", func(t *testing.T) {
		keys := []string{"2024-08-01", "2024-08-02", "2024-08-03", "2024-08-04", "2024-08-10"}
		got := Recompute(types.StreakRecord{}, keys, now)
		assert.Equal(t, 1, got.Current)
		assert.Equal(t, 4, got.Longest)
	})

	t.Run("month and year boundaries are consecutive", func(t *testing.T) {
		got := Recompute(types.StreakRecord{}, []string{"2023-12-31", "2024-01-01", "2024-01-31", "2024-02-01"}, now)
		assert.Equal(t, 2, got.Current)
		assert.Equal(t, 2, got.Longest)

		leap := Recompute(types.StreakRecord{}, []string{"2024-02-28", "2024-02-29", "2024-03-01"}, now)
		assert.Equal(t, 3, leap.Current)
	})

	t.Run("duplicate keys count once", func(t *testing.T) {
		got := Recompute(types.StreakRecord{}, []string{"2024-08-28", "2024-08-28", "2024-08-29"}, now)
		assert.Equal(t, 2, got.Current)
		assert.Equal(t, 2, got.Longest)
	})

	t.Run("stale history still reports the last run", func(t *testing.T) {
		got := Recompute(types.StreakRecord{}, []string{"2020-01-01", "2020-01-02"}, now)
		assert.Equal(t, 2, got.Current)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		keys := []string{"2024-08-30", "2024-08-28"}
		Recompute(types.StreakRecord{}, keys, now)
		assert.Equal(t, []string{"2024-08-30", "2024-08-28"}, keys)
	})
}

func TestEffective(t *testing.T) {
	now := time.Date(2024, 9, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastDay  string
		wantLive bool
	}{
		{name: "today", lastDay: "2024-09-10", wantLive: true},
		{name: "yesterday", lastDay: "2024-09-09", wantLive: true},
		{name: "two days ago", lastDay: "2024-09-08", wantLive: false},
		{name: "never", lastDay: "", wantLive: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := types.StreakRecord{Current: 4, Longest: 6, LastCountedDay: tt.lastDay}
			assert.Equal(t, tt.wantLive, IsLive(record, now))

			effective := Effective(record, now)
			if tt.wantLive {
				assert.Equal(t, 4, effective.Current)
			} else {
				assert.Equal(t, 0, effective.Current)
			}
			assert.Equal(t, 6, effective.Longest)
			assert.Equal(t, 4, record.Current)
		})
	}
}

func TestSortEventsDescending(t *testing.T) {
	events := []types.StreakEvent{
		event("vault-1", types.EventDeposit, 100),
		event("vault-1", types.EventDeposit, 300),
		event("vault-1", types.EventDeposit, 200),
	}

	out := SortEventsDescending(events)
	require.Len(t, out, 3)
	assert.Equal(t, []int64{300, 200, 100}, []int64{out[0].At, out[1].At, out[2].At})
	assert.Equal(t, []int64{100, 300, 200}, []int64{events[0].At, events[1].At, events[2].At})

	assert.Empty(t, SortEventsDescending(nil))
}
