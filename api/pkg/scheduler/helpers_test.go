package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/config"
	"github.com/causalai/gpu-scheduler/api/pkg/store"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// testNow is mid-morning on the executing day: 2026-08-26 10:30 ET.
var testNow = time.Date(2026, 8, 26, 10, 30, 0, 0, calendar.Location)

const (
	executingDay = "2026-08-26"
	firstOpenDay = "2026-08-27"
)

func testConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	return config.ServerConfig{
		StateFile:                filepath.Join(t.TempDir(), "state.json"),
		SessionTTL:               12 * time.Hour,
		BulkReleaseRefundCredits: 0.34,
	}
}

// newTestScheduler boots a scheduler from a pre-built snapshot so tests skip
// the expensive default-user seeding. Accounts get budget and balance 100.
func newTestScheduler(t *testing.T, usernames ...string) (*Scheduler, *calendar.FakeClock) {
	t.Helper()

	cfg := testConfig(t)
	st := types.NewState()
	for _, username := range usernames {
		st.Users[username] = &types.User{
			Username:    username,
			Role:        types.RoleUser,
			DailyBudget: 100,
			Balance:     100,
			Enabled:     true,
		}
	}

	fileStore := store.NewFileStore(cfg.StateFile)
	require.NoError(t, fileStore.Save(st))

	clock := calendar.NewFakeClock(testNow)
	s, err := New(cfg, fileStore, clock)
	require.NoError(t, err)
	return s, clock
}

func (s *Scheduler) testUser(t *testing.T, username string) *types.User {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.state.Users[username]
	require.True(t, ok, "user %s not found", username)
	return user
}

func (s *Scheduler) testEntry(t *testing.T, dayKey, slotKey string, gpu int) *types.GpuEntry {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	day, ok := s.state.Days[dayKey]
	require.True(t, ok, "day %s not found", dayKey)
	slot, ok := day.Slots[slotKey]
	require.True(t, ok, "slot %s not found", slotKey)
	return slot.GpuPrices[gpu]
}

func (s *Scheduler) setBalance(username string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Users[username].Balance = balance
}

// setWinner plants an existing assignment without going through the bid path.
func (s *Scheduler) setWinner(dayKey, slotKey string, gpu int, username string, price int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.state.Days[dayKey].Slots[slotKey].GpuPrices[gpu]
	entry.Winner = username
	entry.Price = price
}
