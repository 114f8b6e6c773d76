package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/causalai/gpu-scheduler/api/pkg/auth"
	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func intPtr(n int) *int { return &n }

func TestCreateUser_DefaultsAndDuplicates(t *testing.T) {
	s, _ := newTestScheduler(t)

	result, err := s.CreateUser(types.CreateUserRequest{Username: "  carol  "})
	require.Nil(t, err)
	require.Equal(t, "carol", result.User.Username)
	require.Equal(t, types.RoleUser, result.User.Role)
	require.Equal(t, 100, result.User.DailyBudget)
	require.Equal(t, 100, result.User.Balance)

	// Omitted password defaults to the username.
	carol := s.testUser(t, "carol")
	require.True(t, auth.VerifyPassword("carol", carol.Salt, carol.PasswordHash))

	_, err = s.CreateUser(types.CreateUserRequest{Username: "carol"})
	require.NotNil(t, err)
	require.Equal(t, KindBadRequest, err.Kind)

	_, err = s.CreateUser(types.CreateUserRequest{Username: "dave", Role: "owner"})
	require.NotNil(t, err)
	require.Equal(t, KindBadRequest, err.Kind)
}

func TestUpdateUser_ClampsAndPartialFields(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	enabled := false
	result, err := s.UpdateUser(types.UpdateUserRequest{
		Username:     "alice",
		DailyBudget:  intPtr(-5),
		BalanceDelta: intPtr(-150),
		Enabled:      &enabled,
	})
	require.Nil(t, err)
	require.Equal(t, 0, result.User.DailyBudget)
	require.Equal(t, 0, result.User.Balance)

	alice := s.testUser(t, "alice")
	require.False(t, alice.Enabled)

	// Absent fields leave state alone.
	_, err = s.UpdateUser(types.UpdateUserRequest{Username: "alice", BalanceDelta: intPtr(30)})
	require.Nil(t, err)
	alice = s.testUser(t, "alice")
	require.Equal(t, float64(30), alice.Balance)
	require.False(t, alice.Enabled)

	_, err = s.UpdateUser(types.UpdateUserRequest{Username: "nobody"})
	require.Equal(t, KindNotFound, err.Kind)
}

func TestBulkUpdateUsers_TouchesEveryAccount(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")

	result, err := s.BulkUpdateUsers(types.BulkUpdateUsersRequest{
		BalanceDelta: intPtr(50),
		DailyBudget:  intPtr(200),
	})
	require.Nil(t, err)
	require.Equal(t, "Updated 2 users.", result.Message)

	for _, username := range []string{"alice", "bob"} {
		user := s.testUser(t, username)
		require.Equal(t, float64(150), user.Balance)
		require.Equal(t, 200, user.DailyBudget)
	}
}

func TestPasswords_ResetAndSelfService(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	_, err := s.ResetPassword(types.ResetPasswordRequest{Username: "alice", Password: "hunter2"})
	require.Nil(t, err)
	alice := s.testUser(t, "alice")
	require.True(t, auth.VerifyPassword("hunter2", alice.Salt, alice.PasswordHash))

	// Self-service requires the current password.
	changeErr := s.ChangePassword("alice", types.ChangePasswordRequest{
		OldPassword: "wrong", NewPassword: "hunter3",
	})
	require.NotNil(t, changeErr)
	require.Equal(t, KindBadRequest, changeErr.Kind)

	changeErr = s.ChangePassword("alice", types.ChangePasswordRequest{
		OldPassword: "hunter2", NewPassword: "hunter3",
	})
	require.Nil(t, changeErr)
	alice = s.testUser(t, "alice")
	require.True(t, auth.VerifyPassword("hunter3", alice.Salt, alice.PasswordHash))
}

func TestUpdatePolicy_CapClampAndClear(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	result, err := s.UpdatePolicy(types.UpdatePolicyRequest{
		HourlyGPUCapSet: true,
		HourlyGPUCap:    intPtr(0),
	})
	require.Nil(t, err)
	require.NotNil(t, result.Policy.HourlyGPUCap)
	require.Equal(t, 1, *result.Policy.HourlyGPUCap)

	// Absent field leaves the cap alone.
	result, err = s.UpdatePolicy(types.UpdatePolicyRequest{})
	require.Nil(t, err)
	require.NotNil(t, result.Policy.HourlyGPUCap)

	// Explicit null clears it.
	result, err = s.UpdatePolicy(types.UpdatePolicyRequest{HourlyGPUCapSet: true})
	require.Nil(t, err)
	require.Nil(t, result.Policy.HourlyGPUCap)
}

func TestCleanupOldDays_ProtectsActiveWindow(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	for _, key := range []string{"2026-08-20", "2026-08-21", "2026-08-22"} {
		s.mu.Lock()
		day := s.ensureDayExistsLocked(key, types.DayStatusFinal)
		day.Status = types.DayStatusFinal
		s.mu.Unlock()
	}

	result, err := s.CleanupOldDays(types.CleanupDaysRequest{KeepCount: 1})
	require.Nil(t, err)

	// keep_count 1 retains only the newest unprotected day, 2026-09-01.
	require.Equal(t, []string{
		"2026-08-31", "2026-08-30", "2026-08-29", "2026-08-28",
		"2026-08-22", "2026-08-21", "2026-08-20",
	}, result.DeletedDays)

	s.mu.Lock()
	_, executingKept := s.state.Days[executingDay]
	_, firstOpenKept := s.state.Days[firstOpenDay]
	s.mu.Unlock()
	require.True(t, executingKept)
	require.True(t, firstOpenKept)

	_, err = s.CleanupOldDays(types.CleanupDaysRequest{KeepCount: -1})
	require.Equal(t, KindBadRequest, err.Kind)
}

func TestListAdminUsers_SortedWithCommitted(t *testing.T) {
	s, _ := newTestScheduler(t, "bob", "alice")

	_, err := s.PlaceBid("bob", bidReq(firstOpenDay, 9, 0))
	require.Nil(t, err)

	users := s.ListAdminUsers()
	require.Len(t, users, 2)
	require.Equal(t, "alice", users[0].Username)
	require.Equal(t, "bob", users[1].Username)
	require.Equal(t, 0, users[0].Committed)
	require.Equal(t, 1, users[1].Committed)
}

func TestSetDayStatus_Validation(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	result, err := s.SetDayStatus(types.SetDayStatusRequest{
		Day: firstOpenDay, Status: types.DayStatusFinal,
	})
	require.Nil(t, err)
	require.Equal(t, types.DayStatusOpen, result.OldStatus)
	require.Equal(t, "Changed 2026-08-27 from 'open' to 'final'.", result.Message)

	_, err = s.SetDayStatus(types.SetDayStatusRequest{Day: firstOpenDay, Status: "bogus"})
	require.Equal(t, KindBadRequest, err.Kind)

	_, err = s.SetDayStatus(types.SetDayStatusRequest{Day: "2030-01-01", Status: types.DayStatusOpen})
	require.Equal(t, KindNotFound, err.Kind)
}

func TestClearDayBids_KeepsAttribution(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	slotKey := calendar.SlotKey(executingDay, 9)

	s.setWinner(executingDay, slotKey, 0, "alice", 3)
	actual := "alice"
	s.mu.Lock()
	s.state.Days[executingDay].Slots[slotKey].GpuPrices[0].ActualUser = &actual
	s.mu.Unlock()

	result, err := s.ClearDayBids(executingDay)
	require.Nil(t, err)
	require.Equal(t, 1, result.Cleared)

	entry := s.testEntry(t, executingDay, slotKey, 0)
	require.Equal(t, "", entry.Winner)
	require.Equal(t, 0, entry.Price)
	require.NotNil(t, entry.ActualUser)
}

func TestResetAllDays_RebuildsWindow(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	openSlot := calendar.SlotKey(firstOpenDay, 9)
	s.setWinner(firstOpenDay, openSlot, 0, "alice", 3)

	_, err := s.ResetAllDays()
	require.Nil(t, err)

	executing, open := s.calendarShape(t)
	require.Equal(t, executingDay, executing)
	require.Len(t, open, 6)

	s.mu.Lock()
	winner := s.state.Days[firstOpenDay].Slots[openSlot].GpuPrices[0].Winner
	s.mu.Unlock()
	require.Equal(t, "", winner)
}

func TestTransitionHour_GetAndSet(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	require.Equal(t, 0, s.GetTransitionHour().TransitionHour)

	result, err := s.SetTransitionHour(6)
	require.Nil(t, err)
	require.Equal(t, "Day transition hour set to 6:00. Days now start at this hour.", result.Message)
	require.Equal(t, 6, s.GetTransitionHour().TransitionHour)

	_, err = s.SetTransitionHour(24)
	require.Equal(t, KindBadRequest, err.Kind)
}

func TestDemoData_PopulateAndClear(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")

	result, err := s.PopulateDemoData()
	require.Nil(t, err)
	require.Equal(t, executingDay, result.Day)
	require.Greater(t, result.Assigned, 0)

	// Seeded generator: a second scheduler produces the identical layout.
	other, _ := newTestScheduler(t, "alice", "bob")
	otherResult, err := other.PopulateDemoData()
	require.Nil(t, err)
	require.Equal(t, result.Assigned, otherResult.Assigned)

	clearResult, clearErr := s.ClearDemoData()
	require.Nil(t, clearErr)
	require.Equal(t, result.Assigned, clearResult.Cleared)
}

func TestExportState_SnapshotsEverything(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	s.seedSamples(executingDay, calendar.SlotKey(executingDay, 9), 0, map[string]int{"alice": 2}, nil)

	data, filename, err := s.ExportState()
	require.Nil(t, err)
	require.Contains(t, filename, "gpu_scheduler_full_backup_20260826_")
	require.Contains(t, string(data), `"alice"`)
	require.Contains(t, string(data), executingDay)
}
