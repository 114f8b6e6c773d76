package scheduler

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/auth"
	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/store"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// createUserLocked provisions an account with the given credentials. The
// starting balance equals the daily budget.
func (s *Scheduler) createUserLocked(username, password string, role types.UserRole, dailyBudget int) (*types.User, *Error) {
	if username == "" {
		return nil, newError(KindBadRequest, "Username is required.")
	}
	if _, ok := s.state.Users[username]; ok {
		return nil, newError(KindBadRequest, "Username already exists.")
	}
	if password == "" {
		return nil, newError(KindBadRequest, "Password is required.")
	}

	salt, hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, newError(KindInternal, "Failed to hash password: %v", err)
	}
	if dailyBudget < 0 {
		dailyBudget = 0
	}

	user := &types.User{
		Username:     username,
		Salt:         salt,
		PasswordHash: hash,
		Role:         role,
		DailyBudget:  dailyBudget,
		Balance:      float64(dailyBudget),
		Enabled:      true,
	}
	s.state.Users[username] = user
	return user, nil
}

func (s *Scheduler) setPasswordLocked(username, password string) (*types.User, *Error) {
	user, ok := s.state.Users[username]
	if !ok {
		return nil, newError(KindNotFound, "User not found.")
	}
	if password == "" {
		return nil, newError(KindBadRequest, "Password is required.")
	}
	salt, hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, newError(KindInternal, "Failed to hash password: %v", err)
	}
	user.Salt = salt
	user.PasswordHash = hash
	return user, nil
}

// UpdateUser applies admin adjustments to one account. Absent fields are left
// untouched; budgets clamp at zero and balances never go negative.
func (s *Scheduler) UpdateUser(req types.UpdateUserRequest) (*types.UpdateUserResult, *Error) {
	if req.Username == "" {
		return nil, newError(KindBadRequest, "Username is required.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.state.Users[req.Username]
	if !ok {
		return nil, newError(KindNotFound, "User not found.")
	}

	if req.DailyBudget != nil {
		user.DailyBudget = max(0, *req.DailyBudget)
	}
	if req.BalanceDelta != nil {
		user.Balance = max(0, user.Balance+float64(*req.BalanceDelta))
	}
	if req.Enabled != nil {
		user.Enabled = *req.Enabled
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &types.UpdateUserResult{OK: true, User: s.userSummaryLocked(user)}, nil
}

// BulkUpdateUsers applies a balance delta and/or budget to every account.
func (s *Scheduler) BulkUpdateUsers(req types.BulkUpdateUsersRequest) (*types.MessageResult, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.state.Users {
		if req.BalanceDelta != nil {
			user.Balance = max(0, user.Balance+float64(*req.BalanceDelta))
		}
		if req.DailyBudget != nil {
			user.DailyBudget = max(0, *req.DailyBudget)
		}
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &types.MessageResult{
		OK:      true,
		Message: fmt.Sprintf("Updated %d users.", len(s.state.Users)),
	}, nil
}

// CreateUser provisions an account. An omitted password defaults to the
// username; an omitted budget to 100.
func (s *Scheduler) CreateUser(req types.CreateUserRequest) (*types.UpdateUserResult, *Error) {
	username := strings.TrimSpace(req.Username)
	password := req.Password
	if password == "" {
		password = username
	}
	role := req.Role
	if role == "" {
		role = types.RoleUser
	}
	if role != types.RoleUser && role != types.RoleAdmin {
		return nil, newError(KindBadRequest, "Role must be 'user' or 'admin'.")
	}
	budget := 100
	if req.DailyBudget != nil {
		budget = *req.DailyBudget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, createErr := s.createUserLocked(username, password, role, budget)
	if createErr != nil {
		return nil, createErr
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Info().Str("user", username).Str("role", string(role)).Msg("user created")
	return &types.UpdateUserResult{OK: true, User: s.userSummaryLocked(user)}, nil
}

// ResetPassword sets a user's password (admin).
func (s *Scheduler) ResetPassword(req types.ResetPasswordRequest) (*types.UpdateUserResult, *Error) {
	if req.Username == "" || req.Password == "" {
		return nil, newError(KindBadRequest, "Username and password are required.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, setErr := s.setPasswordLocked(req.Username, req.Password)
	if setErr != nil {
		return nil, setErr
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &types.UpdateUserResult{OK: true, User: s.userSummaryLocked(user)}, nil
}

// ChangePassword rotates the caller's own password after verifying the old
// one.
func (s *Scheduler) ChangePassword(username string, req types.ChangePasswordRequest) *Error {
	if req.OldPassword == "" || req.NewPassword == "" {
		return newError(KindBadRequest, "Old and new passwords are required.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return errAuthRequired
	}
	if !auth.VerifyPassword(req.OldPassword, user.Salt, user.PasswordHash) {
		return newError(KindBadRequest, "Old password is incorrect.")
	}
	if _, setErr := s.setPasswordLocked(username, req.NewPassword); setErr != nil {
		return setErr
	}
	return s.saveLocked()
}

// UpdatePolicy edits the bidding policy. A null cap clears it; a numeric cap
// clamps to at least one.
func (s *Scheduler) UpdatePolicy(req types.UpdatePolicyRequest) (*types.PolicyResult, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.HourlyGPUCapSet {
		if req.HourlyGPUCap == nil {
			s.state.Policy.HourlyGPUCap = nil
		} else {
			capped := max(1, *req.HourlyGPUCap)
			s.state.Policy.HourlyGPUCap = &capped
		}
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &types.PolicyResult{OK: true, Policy: s.state.Policy}, nil
}

// CleanupOldDays drops historical days, always protecting the executing day
// and the earliest open day, plus the most recent keep_count of the rest.
func (s *Scheduler) CleanupOldDays(req types.CleanupDaysRequest) (*types.CleanupDaysResult, *Error) {
	if req.KeepCount < 0 {
		return nil, newError(KindBadRequest, "keep_count must be a non-negative integer.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	protected := map[string]struct{}{}
	if executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting); ok {
		protected[executing.key] = struct{}{}
	}
	if open, ok := s.findDayByStatusLocked(types.DayStatusOpen); ok {
		protected[open.key] = struct{}{}
	}

	all := make([]string, 0, len(s.state.Days))
	for key := range s.state.Days {
		all = append(all, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(all)))

	keep := map[string]struct{}{}
	for key := range protected {
		keep[key] = struct{}{}
	}
	others := make([]string, 0, len(all))
	for _, key := range all {
		if _, ok := protected[key]; !ok {
			others = append(others, key)
		}
	}
	for i := 0; i < req.KeepCount && i < len(others); i++ {
		keep[others[i]] = struct{}{}
	}

	deleted := []string{}
	for _, key := range all {
		if _, ok := keep[key]; !ok {
			deleted = append(deleted, key)
			delete(s.state.Days, key)
		}
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Info().Int("deleted", len(deleted)).Msg("historical days cleaned up")
	return &types.CleanupDaysResult{
		OK:           true,
		DeletedCount: len(deleted),
		DeletedDays:  deleted,
		KeptCount:    len(keep),
	}, nil
}

// ListAdminUsers lists every account with its ledger detail.
func (s *Scheduler) ListAdminUsers() []types.AdminUserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	usernames := make([]string, 0, len(s.state.Users))
	for username := range s.state.Users {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)

	users := make([]types.AdminUserInfo, 0, len(usernames))
	for _, username := range usernames {
		user := s.state.Users[username]
		users = append(users, types.AdminUserInfo{
			Username:        user.Username,
			Role:            user.Role,
			DailyBudget:     user.DailyBudget,
			Balance:         user.Balance,
			RolloverApplied: user.RolloverApplied,
			LastRefillDay:   user.LastRefillDay,
			Enabled:         user.Enabled,
			Committed:       s.committedForUserLocked(username),
		})
	}
	return users
}

// ListDays lists every day with its lifecycle metadata, oldest first.
func (s *Scheduler) ListDays() []types.DayInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.state.Days))
	for key := range s.state.Days {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	days := make([]types.DayInfo, 0, len(keys))
	for _, key := range keys {
		day := s.state.Days[key]
		var finalizedAt *string
		if day.FinalizedAt != nil {
			formatted := day.FinalizedAt.Format(time.RFC3339)
			finalizedAt = &formatted
		}
		info := types.DayInfo{
			DayStart:    key,
			Status:      day.Status,
			FinalizedAt: finalizedAt,
			Day:         key,
		}
		if start, err := calendar.ParseDay(key, s.transitionHourLocked()); err == nil {
			info.OpenAt = start.Format(time.RFC3339)
			info.CloseAt = calendar.DayCloseTime(start).Format(time.RFC3339)
		}
		days = append(days, info)
	}
	return days
}

// SetDayStatus forces a day into a lifecycle status. No cycle bookkeeping
// runs; this is an operator escape hatch.
func (s *Scheduler) SetDayStatus(req types.SetDayStatusRequest) (*types.SetDayStatusResult, *Error) {
	if req.Day == "" || req.Status == "" {
		return nil, newError(KindBadRequest, "Missing 'week' or 'status' parameter.")
	}
	switch req.Status {
	case types.DayStatusFuture, types.DayStatusOpen, types.DayStatusExecuting, types.DayStatusFinal:
	default:
		return nil, newError(KindBadRequest, "Invalid status: %s", req.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.state.Days[req.Day]
	if !ok {
		return nil, newError(KindNotFound, "Week not found: %s", req.Day)
	}

	old := day.Status
	day.Status = req.Status

	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Info().Str("day", req.Day).Str("from", string(old)).Str("to", string(req.Status)).Msg("day status forced")
	return &types.SetDayStatusResult{
		OK:        true,
		Day:       req.Day,
		OldStatus: old,
		NewStatus: req.Status,
		Message:   fmt.Sprintf("Changed %s from '%s' to '%s'.", req.Day, old, req.Status),
	}, nil
}

// ClearDayBids wipes every winner, price and bid history on one day. Usage
// attribution is preserved.
func (s *Scheduler) ClearDayBids(dayKey string) (*types.ClearBidsResult, *Error) {
	if dayKey == "" {
		return nil, newError(KindBadRequest, "Missing 'week' parameter.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.state.Days[dayKey]
	if !ok {
		return nil, newError(KindNotFound, "Week not found: %s", dayKey)
	}

	cleared := clearDayEntriesLocked(day)

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &types.ClearBidsResult{
		OK:      true,
		Day:     dayKey,
		Cleared: cleared,
		Message: fmt.Sprintf("Cleared %d bids from %s.", cleared, dayKey),
	}, nil
}

func clearDayEntriesLocked(day *types.Day) int {
	cleared := 0
	for _, slot := range day.Slots {
		for _, entry := range slot.GpuPrices {
			if entry.Winner != "" || entry.Price > 0 {
				entry.Winner = ""
				entry.Price = 0
				entry.Bids = nil
				cleared++
			}
		}
	}
	return cleared
}

// ResetAllDays wipes the whole calendar and rebuilds today executing plus six
// open days.
func (s *Scheduler) ResetAllDays() (*types.MessageResult, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Days = map[string]*types.Day{}
	s.initializeDaysLocked()

	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Warn().Msg("all day data wiped and reinitialized")
	return &types.MessageResult{
		OK:      true,
		Message: "All day data wiped and reinitialized with current day + 6 future days",
	}, nil
}

// GetTransitionHour reads the configured logical-day rollover hour.
func (s *Scheduler) GetTransitionHour() *types.TransitionHourInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.TransitionHourInfo{
		TransitionHour: s.transitionHourLocked(),
		CurrentTime:    s.now().Format(time.RFC3339),
	}
}

// SetTransitionHour changes the hour at which logical days roll over.
func (s *Scheduler) SetTransitionHour(hour int) (*types.SetTransitionHourResult, *Error) {
	if hour < 0 || hour > 23 {
		return nil, newError(KindBadRequest, "Transition hour must be between 0 and 23")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Config.DayTransitionHour = hour
	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Info().Int("hour", hour).Msg("day transition hour changed")
	return &types.SetTransitionHourResult{
		OK:             true,
		TransitionHour: hour,
		Message:        fmt.Sprintf("Day transition hour set to %d:00. Days now start at this hour.", hour),
	}, nil
}

// ClearDemoData wipes winners and bids from the executing day, keeping the
// usage attribution that came from real telemetry.
func (s *Scheduler) ClearDemoData() (*types.ClearBidsResult, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting)
	if !ok {
		return nil, newError(KindNotFound, "No executing day found.")
	}

	cleared := clearDayEntriesLocked(executing.day)

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &types.ClearBidsResult{
		OK:      true,
		Day:     executing.key,
		Cleared: cleared,
		Message: fmt.Sprintf("Cleared %d demo assignments from %s. Real GPU tracking data preserved.", cleared, executing.key),
	}, nil
}

// PopulateDemoData fills the executing day with plausible block assignments:
// each block gives one user a run of consecutive hours on a span of adjacent
// GPUs. Seeded so repeated runs produce the same layout.
func (s *Scheduler) PopulateDemoData() (*types.DemoDataResult, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting)
	if !ok {
		return nil, newError(KindNotFound, "No executing day found.")
	}

	var users []string
	for username, user := range s.state.Users {
		if user.Role != types.RoleAdmin {
			users = append(users, username)
		}
	}
	if len(users) == 0 {
		return nil, newError(KindBadRequest, "No users available for demo assignments.")
	}
	sort.Strings(users)

	rng := rand.New(rand.NewSource(42))
	ts := s.now()
	assigned := 0

	numBlocks := 15 + rng.Intn(11)
	for block := 0; block < numBlocks; block++ {
		user := users[rng.Intn(len(users))]

		startHour := rng.Intn(21)
		if rng.Float64() < 0.7 {
			startHour = 8 + rng.Intn(7)
		}
		duration := 2 + rng.Intn(7)
		numGPUs := 1 + rng.Intn(4)
		startGPU := rng.Intn(types.NumGPUs - numGPUs + 1)

		for offset := 0; offset < duration; offset++ {
			hour := startHour + offset
			if hour >= 24 {
				break
			}
			slotKey := calendar.SlotKey(executing.key, hour)
			slot, ok := executing.day.Slots[slotKey]
			if !ok {
				continue
			}
			for gpu := startGPU; gpu < startGPU+numGPUs; gpu++ {
				entry := slot.GpuPrices[gpu]
				if entry.Winner != "" {
					continue
				}
				price := 1 + rng.Intn(4)
				entry.Winner = user
				entry.Price = price
				entry.Bids = []types.Bid{{Username: user, Price: price, Timestamp: ts}}
				assigned++
			}
		}
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &types.DemoDataResult{
		OK:       true,
		Day:      executing.key,
		Assigned: assigned,
		Message:  fmt.Sprintf("Populated %d demo assignments in %s (%d blocks).", assigned, executing.key, numBlocks),
	}, nil
}

// ExportState serializes the entire state document for a full backup
// download. Returns the JSON body and a timestamped filename.
func (s *Scheduler) ExportState() ([]byte, string, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trackingMu.Lock()
	s.state.GPUUsageTracking = store.TrackingToWire(s.tracking)
	s.trackingMu.Unlock()

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return nil, "", newError(KindInternal, "Failed to serialize state: %v", err)
	}
	filename := fmt.Sprintf("gpu_scheduler_full_backup_%s.json", s.now().Format("20060102_150405"))
	return data, filename, nil
}
