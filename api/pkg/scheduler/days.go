package scheduler

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// maxAdvanceIterations bounds day-cycle catch-up after downtime; anything
// further requires another UpdateSystemState call.
const maxAdvanceIterations = 10

// openDayWindow is how many consecutive open days follow the executing day.
const openDayWindow = 6

type dayEntry struct {
	key string
	day *types.Day
}

func (s *Scheduler) findDayByStatusLocked(status types.DayStatus) (dayEntry, bool) {
	entries := s.findDaysByStatusLocked(status)
	if len(entries) == 0 {
		return dayEntry{}, false
	}
	return entries[0], true
}

func (s *Scheduler) findDaysByStatusLocked(status types.DayStatus) []dayEntry {
	var entries []dayEntry
	for key, day := range s.state.Days {
		if day.Status == status {
			entries = append(entries, dayEntry{key: key, day: day})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	return entries
}

// ensureDayExistsLocked creates the day with 24 empty slots if missing. An
// existing day keeps its status when it already has winners; empty days are
// restamped with the requested status.
func (s *Scheduler) ensureDayExistsLocked(dayKey string, status types.DayStatus) *types.Day {
	if existing, ok := s.state.Days[dayKey]; ok {
		if !existing.HasWinners() {
			existing.Status = status
		}
		return existing
	}

	day := types.NewDay(dayKey, status, calendar.SlotKeysForDay(dayKey))
	s.state.Days[dayKey] = day
	return day
}

// initializeDaysLocked builds the calendar from scratch: today executing,
// the next six days open. On a truly fresh start every user's balance is
// reset to their budget.
func (s *Scheduler) initializeDaysLocked() {
	now := s.now()
	freshStart := len(s.state.Days) == 0

	current := calendar.DayStartFor(now, s.transitionHourLocked())
	s.ensureDayExistsLocked(calendar.FormatDay(current), types.DayStatusExecuting)
	for offset := 1; offset <= openDayWindow; offset++ {
		next := current.AddDate(0, 0, offset)
		s.ensureDayExistsLocked(calendar.FormatDay(next), types.DayStatusOpen)
	}

	if freshStart {
		for _, user := range s.state.Users {
			user.Balance = float64(user.DailyBudget)
			user.RolloverApplied = 0
		}
	}
}

// ensureCalendarLocked guarantees an executing day exists and that exactly
// the six days after it are open, creating or repairing as needed.
func (s *Scheduler) ensureCalendarLocked(now time.Time) {
	executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting)
	if !ok {
		key := calendar.FormatDay(calendar.DayStartFor(now, s.transitionHourLocked()))
		day := s.ensureDayExistsLocked(key, types.DayStatusExecuting)
		executing = dayEntry{key: key, day: day}
	}

	start, err := calendar.ParseDay(executing.key, s.transitionHourLocked())
	if err != nil {
		log.Error().Err(err).Str("day", executing.key).Msg("unparseable executing day key")
		return
	}

	for offset := 1; offset <= openDayWindow; offset++ {
		key := calendar.FormatDay(start.AddDate(0, 0, offset))
		if day, ok := s.state.Days[key]; ok {
			if day.Status != types.DayStatusOpen {
				day.Status = types.DayStatusOpen
			}
			continue
		}
		s.ensureDayExistsLocked(key, types.DayStatusOpen)
	}
}

// maybeAutoAdvanceLocked runs the day cycle while the executing day's close
// has passed, capped so a long outage cannot stall a request forever.
func (s *Scheduler) maybeAutoAdvanceLocked(now time.Time) {
	for i := 0; i < maxAdvanceIterations; i++ {
		executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting)
		if !ok {
			return
		}

		start, err := calendar.ParseDay(executing.key, s.transitionHourLocked())
		if err != nil {
			log.Error().Err(err).Str("day", executing.key).Msg("unparseable executing day key")
			return
		}
		if now.Before(calendar.DayCloseTime(start)) {
			return
		}

		if err := s.advanceDayCycleLocked(now); err != nil {
			log.Error().Err(err).Msg("day cycle advancement failed")
			return
		}
	}
}

// advanceDayCycleLocked finalizes the executing day, charges the winners of
// the earliest open day, credits every enabled user's daily budget, promotes
// that open day to executing and appends a new sixth open day.
func (s *Scheduler) advanceDayCycleLocked(now time.Time) *Error {
	openDays := s.findDaysByStatusLocked(types.DayStatusOpen)
	if len(openDays) == 0 {
		return newError(KindInternal, "No open days to promote.")
	}
	promoted := openDays[0]

	executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting)
	if !ok {
		key := calendar.FormatDay(calendar.DayStartFor(now, s.transitionHourLocked()))
		day := s.ensureDayExistsLocked(key, types.DayStatusExecuting)
		executing = dayEntry{key: key, day: day}
	}

	// Charge the winners of the day that starts executing now.
	payouts := map[string]float64{}
	for _, slot := range promoted.day.Slots {
		for _, entry := range slot.GpuPrices {
			if entry.Winner != "" {
				payouts[entry.Winner] += float64(entry.Price)
			}
		}
	}
	for username, amount := range payouts {
		user, ok := s.state.Users[username]
		if !ok {
			continue
		}
		user.Balance = max(0, user.Balance-amount)
	}

	// Credit the daily budget. Unused credit accumulates; there is no cap.
	for _, user := range s.state.Users {
		if !user.Enabled {
			continue
		}
		user.Balance += float64(user.DailyBudget)
		user.RolloverApplied = 0
		refill := promoted.key
		user.LastRefillDay = &refill
	}

	executing.day.Status = types.DayStatusFinal
	if executing.day.FinalizedAt == nil {
		finalized := now
		executing.day.FinalizedAt = &finalized
	}

	promotedAt := now
	promoted.day.Status = types.DayStatusExecuting
	promoted.day.FinalizedAt = &promotedAt

	// Append the new sixth open day, dropping any stale entry at that key.
	promotedStart, err := calendar.ParseDay(promoted.key, s.transitionHourLocked())
	if err != nil {
		return newError(KindInternal, "Unparseable day key %q: %v", promoted.key, err)
	}
	newOpenKey := calendar.FormatDay(promotedStart.AddDate(0, 0, openDayWindow))
	delete(s.state.Days, newOpenKey)
	s.ensureDayExistsLocked(newOpenKey, types.DayStatusOpen)

	log.Info().
		Str("finalized", executing.key).
		Str("executing", promoted.key).
		Str("new_open", newOpenKey).
		Int("charged_users", len(payouts)).
		Msg("day cycle advanced")

	return s.saveLocked()
}
