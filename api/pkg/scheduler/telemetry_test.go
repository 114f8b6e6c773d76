package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func usagePayload(t *testing.T, usage map[string][]string) types.GPUStatusRequest {
	t.Helper()
	raw := map[string]json.RawMessage{}
	for gpu, users := range usage {
		data, err := json.Marshal(users)
		require.NoError(t, err)
		raw[gpu] = data
	}
	return types.GPUStatusRequest{Usage: raw}
}

func TestProcessGPUStatus_CountsSamplesAndReplacesLiveView(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")

	result, err := s.ProcessGPUStatus(usagePayload(t, map[string][]string{
		"0": {"alice", "bob"},
		"1": {},
		"2": {"alice", ""},
	}))
	require.Nil(t, err)
	require.True(t, result.OK)
	require.Equal(t, 3, result.Processed)
	require.Equal(t, calendar.SlotKey(executingDay, 10), result.Slot)

	live := s.LiveStatus()
	require.Equal(t, []string{"alice", "bob"}, live.Usage["0"])
	require.Empty(t, live.Usage["1"])
	require.Equal(t, []string{"alice"}, live.Usage["2"])
	require.NotNil(t, live.Timestamp)
	require.Equal(t, types.NumGPUs, live.GPUCount)

	// A second poll replaces the live view wholesale but accumulates samples.
	_, err = s.ProcessGPUStatus(usagePayload(t, map[string][]string{"0": {"alice"}}))
	require.Nil(t, err)

	live = s.LiveStatus()
	require.NotContains(t, live.Usage, "2")

	s.trackingMu.Lock()
	counts := s.tracking[executingDay][calendar.SlotKey(executingDay, 10)][0]
	s.trackingMu.Unlock()
	require.Equal(t, 2, counts["alice"])
	require.Equal(t, 1, counts["bob"])
}

func TestProcessGPUStatus_SkipsMalformedEntries(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	req := usagePayload(t, map[string][]string{"0": {"alice"}})
	req.Usage["not-a-gpu"] = json.RawMessage(`["x"]`)
	req.Usage["9"] = json.RawMessage(`["y"]`)
	req.Usage["1"] = json.RawMessage(`"not a list"`)

	result, err := s.ProcessGPUStatus(req)
	require.Nil(t, err)
	require.Equal(t, 1, result.Processed)

	live := s.LiveStatus()
	require.Len(t, live.Usage, 1)
}

func TestProcessGPUStatus_MissingUsageRejected(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	_, err := s.ProcessGPUStatus(types.GPUStatusRequest{})
	require.NotNil(t, err)
	require.Equal(t, KindBadRequest, err.Kind)
}

func TestProcessGPUStatus_ClockSkewIsReportedNotRejected(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	req := usagePayload(t, map[string][]string{"0": {"alice"}})
	req.Timestamp = testNow.Add(-20 * time.Minute).Format(time.RFC3339)

	result, err := s.ProcessGPUStatus(req)
	require.Nil(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, "1200.0s", result.ClockSkew)
}

// seedSamples plants a histogram for a past hour directly.
func (s *Scheduler) seedSamples(dayKey, slotKey string, gpu int, counts map[string]int, order []string) {
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()
	if s.tracking[dayKey] == nil {
		s.tracking[dayKey] = map[string]map[int]map[string]int{}
	}
	if s.tracking[dayKey][slotKey] == nil {
		s.tracking[dayKey][slotKey] = map[int]map[string]int{}
	}
	s.tracking[dayKey][slotKey][gpu] = counts
	for _, user := range order {
		s.recordSampleOrderLocked(dayKey, slotKey, gpu, user)
	}
}

func TestFinalize_WritesArgmaxOnce(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	slotKey := calendar.SlotKey(executingDay, 8)

	s.setWinner(executingDay, slotKey, 0, "alice", 1)
	s.seedSamples(executingDay, slotKey, 0, map[string]int{"alice": 2, "bob": 5}, []string{"alice", "bob"})

	s.UpdateSystemState()

	entry := s.testEntry(t, executingDay, slotKey, 0)
	require.NotNil(t, entry.ActualUser)
	require.Equal(t, "bob", *entry.ActualUser)

	// Later samples never rewrite the attribution.
	s.seedSamples(executingDay, slotKey, 0, map[string]int{"alice": 100}, nil)
	s.UpdateSystemState()
	require.Equal(t, "bob", *s.testEntry(t, executingDay, slotKey, 0).ActualUser)
}

func TestFinalize_TieBreaksByFirstSeen(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	slotKey := calendar.SlotKey(executingDay, 8)

	s.seedSamples(executingDay, slotKey, 0, map[string]int{"bob": 3, "alice": 3}, []string{"bob", "alice"})

	s.UpdateSystemState()

	entry := s.testEntry(t, executingDay, slotKey, 0)
	require.NotNil(t, entry.ActualUser)
	require.Equal(t, "bob", *entry.ActualUser)
}

func TestFinalize_SkipsHoursStillRunning(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	// 10:00 is the current hour at testNow (10:30); 13:00 is the future.
	for _, hour := range []int{10, 13} {
		s.seedSamples(executingDay, calendar.SlotKey(executingDay, hour), 0, map[string]int{"alice": 1}, nil)
	}

	s.UpdateSystemState()

	require.Nil(t, s.testEntry(t, executingDay, calendar.SlotKey(executingDay, 10), 0).ActualUser)
	require.Nil(t, s.testEntry(t, executingDay, calendar.SlotKey(executingDay, 13), 0).ActualUser)
}

func TestFinalize_PrunesHistogramsPastRetention(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	s.seedSamples("2026-08-10", calendar.SlotKey("2026-08-10", 8), 0, map[string]int{"alice": 1}, nil)
	s.seedSamples(executingDay, calendar.SlotKey(executingDay, 8), 0, map[string]int{"alice": 1}, nil)

	s.UpdateSystemState()

	s.trackingMu.Lock()
	_, staleKept := s.tracking["2026-08-10"]
	_, freshKept := s.tracking[executingDay]
	s.trackingMu.Unlock()
	require.False(t, staleKept)
	require.True(t, freshKept)
}
