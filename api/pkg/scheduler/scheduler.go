// Package scheduler implements the auction engine and its lifecycle: the
// credit ledger, the per-slot bidding protocol, the rolling day cycle, the
// release paths and the telemetry ingestion that attributes actual GPU usage.
//
// All state mutations happen under the global state mutex. Public methods
// acquire it; helpers with the Locked suffix assume it is held. Operations
// that target specific slots additionally serialize on per-slot locks,
// always acquired before the state mutex (see locks.go for the ordering
// rules). The sample-tracking mutex is only ever taken while holding the
// state mutex; the live-usage mutex is a leaf.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/auth"
	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/config"
	"github.com/causalai/gpu-scheduler/api/pkg/store"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// Scheduler is the single-process authoritative store for the auction.
type Scheduler struct {
	cfg   config.ServerConfig
	clock calendar.Clock
	store *store.FileStore

	mu    sync.Mutex
	state *types.State

	slotLocksMu sync.Mutex
	slotLocks   map[string]*sync.Mutex

	liveMu        sync.Mutex
	liveUsage     map[int][]string
	liveTimestamp *time.Time

	trackingMu sync.Mutex
	tracking   types.UsageTracking
	// sampleOrder remembers, per (day, slot, gpu), the order usernames were
	// first observed; argmax ties break toward the earliest.
	sampleOrder map[string][]string
}

// New loads the snapshot (or seeds a fresh state), applies FORCE_RESET, and
// makes sure the calendar window is populated.
func New(cfg config.ServerConfig, st *store.FileStore, clock calendar.Clock) (*Scheduler, error) {
	s := &Scheduler{
		cfg:       cfg,
		clock:     clock,
		store:     st,
		slotLocks: map[string]*sync.Mutex{},
		liveUsage: map[int][]string{},
		tracking:  types.UsageTracking{},
	}

	state, err := st.Load()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state == nil {
		log.Info().Str("state_file", st.Path()).Msg("no state file, seeding fresh state")
		s.state = types.NewState()
		if err := s.seedDefaultUsersLocked(); err != nil {
			return nil, err
		}
	} else {
		s.state = state
		s.tracking = store.TrackingFromWire(state.GPUUsageTracking)
	}

	if cfg.ForceReset {
		log.Warn().Msg("FORCE_RESET set, wiping all day data")
		s.state.Days = map[string]*types.Day{}
	}

	if len(s.state.Days) == 0 {
		s.initializeDaysLocked()
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Info().
		Int("users", len(s.state.Users)).
		Int("days", len(s.state.Days)).
		Msg("scheduler state loaded")

	return s, nil
}

// now returns the current instant in the configured zone.
func (s *Scheduler) now() time.Time {
	return s.clock.Now().In(calendar.Location)
}

func (s *Scheduler) transitionHourLocked() int {
	return s.state.Config.DayTransitionHour
}

// saveLocked syncs the sample histograms into the state document and writes
// the snapshot. On failure the in-memory state stays authoritative; the next
// successful save captures a consistent superset.
func (s *Scheduler) saveLocked() *Error {
	s.trackingMu.Lock()
	s.state.GPUUsageTracking = store.TrackingToWire(s.tracking)
	s.trackingMu.Unlock()

	if err := s.store.Save(s.state); err != nil {
		log.Error().Err(err).Msg("failed to persist state snapshot")
		return newError(KindInternal, "Failed to persist state: %v", err)
	}
	return nil
}

// userLocked resolves an enabled user account.
func (s *Scheduler) userLocked(username string) (*types.User, bool) {
	user, ok := s.state.Users[username]
	if !ok || !user.Enabled {
		return nil, false
	}
	return user, true
}

// AuthenticateUser reports whether a session username still maps to an
// enabled account.
func (s *Scheduler) AuthenticateUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.userLocked(username)
	return ok
}

// IsAdmin reports whether the account exists, is enabled and has the admin
// role.
func (s *Scheduler) IsAdmin(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.userLocked(username)
	return ok && user.Role == types.RoleAdmin
}

// Login verifies credentials and records the login time.
func (s *Scheduler) Login(username, password string) (*types.UserSummary, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthInvalid
	}
	if !auth.VerifyPassword(password, user.Salt, user.PasswordHash) {
		return nil, errAuthInvalid
	}

	now := s.now()
	user.LastLogin = &now
	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	summary := s.userSummaryLocked(user)
	return &summary, nil
}

// UserSummary builds the public projection for an enabled account.
func (s *Scheduler) UserSummary(username string) (*types.UserSummary, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}
	summary := s.userSummaryLocked(user)
	return &summary, nil
}

// UpdateSystemState is run at the top of every externally triggered request
// and by the janitor tick: it repairs the calendar window, advances the day
// cycle while the executing day's close has passed, and finalizes telemetry
// for completed hours.
func (s *Scheduler) UpdateSystemState() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.ensureCalendarLocked(now)
	s.maybeAutoAdvanceLocked(now)
	s.finalizePastGPUSlotsLocked(now)
}

// seedDefaultUsersLocked provisions the initial lab accounts on first boot.
// Each account's initial password is its username.
func (s *Scheduler) seedDefaultUsersLocked() error {
	defaults := []struct {
		username string
		role     types.UserRole
	}{
		{"eb", types.RoleAdmin},
		{"kl2792", types.RoleUser},
		{"yushupan", types.RoleUser},
		{"ml", types.RoleUser},
		{"kevinmxia", types.RoleUser},
		{"adiba.ejaz", types.RoleUser},
		{"adam2392", types.RoleUser},
		{"kasra", types.RoleUser},
		{"dplecko", types.RoleUser},
		{"aurghya", types.RoleUser},
		{"junzhez", types.RoleUser},
		{"shreyas", types.RoleUser},
		{"jgw2140", types.RoleUser},
		{"inwoo", types.RoleUser},
		{"aa5506", types.RoleUser},
		{"msj2164", types.RoleUser},
		{"pk2819", types.RoleUser},
		{"ta2432", types.RoleUser},
		{"ar", types.RoleUser},
	}

	for _, d := range defaults {
		salt, hash, err := auth.HashPassword(d.username)
		if err != nil {
			return err
		}
		s.state.Users[d.username] = &types.User{
			Username:     d.username,
			Salt:         salt,
			PasswordHash: hash,
			Role:         d.role,
			DailyBudget:  100,
			Balance:      100,
			Enabled:      true,
		}
	}
	return nil
}
