package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "state.json"))
}

func TestLoad_MissingFileMeansFreshState(t *testing.T) {
	s := tempStore(t)

	state, err := s.Load()
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := tempStore(t)

	state := types.NewState()
	state.Users["alice"] = &types.User{
		Username:    "alice",
		Role:        types.RoleAdmin,
		DailyBudget: 100,
		Balance:     42.5,
		Enabled:     true,
	}
	state.Config.DayTransitionHour = 6
	day := types.NewDay("2026-08-26", types.DayStatusExecuting, []string{"2026-08-26T09:00"})
	day.Slots["2026-08-26T09:00"].GpuPrices[3].Winner = "alice"
	day.Slots["2026-08-26T09:00"].GpuPrices[3].Price = 4
	day.Slots["2026-08-26T09:00"].GpuPrices[3].Bids = []types.Bid{
		{Username: "alice", Price: 4, Timestamp: time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)},
	}
	state.Days["2026-08-26"] = day

	require.NoError(t, s.Save(state))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, 6, loaded.Config.DayTransitionHour)
	require.Equal(t, 42.5, loaded.Users["alice"].Balance)
	require.Equal(t, types.RoleAdmin, loaded.Users["alice"].Role)

	entry := loaded.Days["2026-08-26"].Slots["2026-08-26T09:00"].GpuPrices[3]
	require.Equal(t, "alice", entry.Winner)
	require.Equal(t, 4, entry.Price)
	require.Len(t, entry.Bids, 1)
}

func TestSave_ReplacesAtomically(t *testing.T) {
	s := tempStore(t)

	require.NoError(t, s.Save(types.NewState()))
	require.NoError(t, s.Save(types.NewState()))

	// No temp file left behind after the rename.
	_, err := os.Stat(s.Path() + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestLoad_MigratesLegacyWeeksDocument(t *testing.T) {
	s := tempStore(t)
	legacy := `{
	  "users": {},
	  "weeks": {
	    "2026-08-26": {
	      "week_start": "2026-08-26",
	      "status": "executing",
	      "slots": {}
	    }
	  }
	}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o644))

	state, err := s.Load()
	require.NoError(t, err)
	require.Contains(t, state.Days, "2026-08-26")
	require.Equal(t, "2026-08-26", state.Days["2026-08-26"].DayStart)
	require.Equal(t, types.DayStatusExecuting, state.Days["2026-08-26"].Status)
}

func TestLoad_CorruptFileErrors(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	require.Error(t, err)
}

func TestTrackingWireConversion(t *testing.T) {
	tracking := types.UsageTracking{
		"2026-08-26": {
			"2026-08-26T09:00": {
				0: {"alice": 3},
				5: {"bob": 1},
			},
		},
	}

	wire := TrackingToWire(tracking)
	require.Equal(t, 3, wire["2026-08-26"]["2026-08-26T09:00"]["0"]["alice"])
	require.Equal(t, 1, wire["2026-08-26"]["2026-08-26T09:00"]["5"]["bob"])

	// Non-numeric GPU keys are dropped on the way back in.
	wire["2026-08-26"]["2026-08-26T09:00"]["junk"] = map[string]int{"x": 9}
	restored := TrackingFromWire(wire)
	require.Equal(t, tracking, restored)
}
