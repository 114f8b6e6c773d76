package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func TestExportDayCSV_RendersScheduleRows(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	slotKey := calendar.SlotKey(executingDay, 9)
	s.setWinner(executingDay, slotKey, 2, "alice", 4)

	csv, err := s.ExportDayCSV(executingDay)
	require.Nil(t, err)

	lines := strings.Split(csv, "\n")
	require.Equal(t,
		"slot_id,gpu_index,start_time_utc,end_time_utc,winner_username,final_price",
		lines[0])
	// Header plus 24 hours by 8 GPUs.
	require.Len(t, lines, 1+24*types.NumGPUs)

	// 09:00 ET is 13:00 UTC in August.
	require.Contains(t, csv,
		slotKey+"_gpu2,2,2026-08-26T13:00:00Z,2026-08-26T14:00:00Z,alice,4")
	require.Contains(t, csv,
		slotKey+"_gpu3,3,2026-08-26T13:00:00Z,2026-08-26T14:00:00Z,,0")
}

func TestExportDayCSV_OpenDaysRejected(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	_, err := s.ExportDayCSV(firstOpenDay)
	require.NotNil(t, err)
	require.Equal(t, KindBadRequest, err.Kind)

	_, err = s.ExportDayCSV("2030-01-01")
	require.NotNil(t, err)
	require.Equal(t, KindBadRequest, err.Kind)
}

func TestUsageMatchStatus(t *testing.T) {
	require.Equal(t, "empty", usageMatchStatus("", ""))
	require.Equal(t, "squatter", usageMatchStatus("", "bob"))
	require.Equal(t, "no_show", usageMatchStatus("alice", ""))
	require.Equal(t, "match", usageMatchStatus("alice", "alice"))
	require.Equal(t, "mismatch", usageMatchStatus("alice", "bob"))
}

func TestExportUsageCSV_AuditsAssignedAgainstActual(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	slotKey := calendar.SlotKey(executingDay, 8)

	s.setWinner(executingDay, slotKey, 0, "alice", 2)
	s.seedSamples(executingDay, slotKey, 0, map[string]int{"bob": 4, "alice": 1}, []string{"bob", "alice"})

	// Finalizing attributes the entry to bob, the dominant sampled user.
	s.UpdateSystemState()

	csv, err := s.ExportUsageCSV(executingDay)
	require.Nil(t, err)

	lines := strings.Split(csv, "\n")
	require.Equal(t,
		"slot_id,gpu_index,start_time_utc,end_time_utc,assigned_user,actual_user,"+
			"match_status,all_users_detected,sample_counts",
		lines[0])

	require.Contains(t, csv,
		slotKey+`_gpu0,0,2026-08-26T12:00:00Z,2026-08-26T13:00:00Z,alice,bob,mismatch,"bob(4), alice(1)","bob:4;alice:1"`)

	// Untracked entries carry empty histogram columns.
	require.Contains(t, csv, slotKey+"_gpu1,1,2026-08-26T12:00:00Z,2026-08-26T13:00:00Z,,,empty,,")
}
