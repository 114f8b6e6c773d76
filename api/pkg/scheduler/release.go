package scheduler

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// singleReleaseRefundRate is the proportional refund for a targeted release.
// Bulk release pays the flat configured stipend instead.
const singleReleaseRefundRate = 0.5

// ReleaseSlot gives up an owned entry on the executing day whose hour starts
// at least one full hour from now, refunding half its price.
func (s *Scheduler) ReleaseSlot(username string, req types.ReleaseRequest) (*types.ReleaseResult, *Error) {
	if req.GPU < 0 || req.GPU >= types.NumGPUs {
		return nil, newError(KindBadRequest, "GPU index out of range.")
	}

	release := s.acquireSlotLocks([]string{slotLockKey(req.Day, req.Slot, req.GPU)})
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}

	day, ok := s.state.Days[req.Day]
	if !ok {
		return nil, newError(KindNotFound, "Day not found.")
	}
	if day.Status != types.DayStatusExecuting {
		return nil, newError(KindDayNotOpen, "Can only release slots from the current executing day.")
	}
	slot, ok := day.Slots[req.Slot]
	if !ok {
		return nil, newError(KindNotFound, "Slot not found.")
	}
	entry := slot.GpuPrices[req.GPU]

	if entry.Winner != username {
		return nil, newError(KindNotOwner, "You don't own this slot.")
	}

	slotStart, err := calendar.ParseSlotKey(req.Slot)
	if err != nil {
		return nil, newError(KindBadRequest, "Invalid slot key format.")
	}
	if slotStart.Before(nextHourStart(s.now())) {
		return nil, newError(KindTooLateToRelease,
			"Cannot release slots that have started or are starting within the next hour.")
	}

	refund := float64(entry.Price) * singleReleaseRefundRate
	user.Balance += refund
	entry.Winner = ""
	entry.Price = 0

	if saveErr := s.saveLocked(); saveErr != nil {
		return nil, saveErr
	}

	log.Debug().
		Str("user", username).
		Str("slot", req.Slot).
		Int("gpu", req.GPU).
		Float64("refund", refund).
		Msg("slot released")

	return &types.ReleaseResult{
		OK:         true,
		Released:   true,
		Refund:     refund,
		NewBalance: user.Balance,
	}, nil
}

// ReleaseSlotsBulk releases a whole block of owned future entries. Entries
// failing any precondition are skipped silently; the refund is a flat
// configured stipend per released slot rather than a price percentage.
func (s *Scheduler) ReleaseSlotsBulk(username string, req types.BulkReleaseRequest) (*types.BulkReleaseResult, *Error) {
	if len(req.Slots) == 0 {
		return nil, newError(KindBadRequest, "No slots provided.")
	}

	lockKeys := make([]string, 0, len(req.Slots))
	for _, item := range req.Slots {
		if item.GPU < 0 || item.GPU >= types.NumGPUs {
			return nil, newError(KindBadRequest, "GPU index out of range: %d", item.GPU)
		}
		lockKeys = append(lockKeys, slotLockKey(item.Day, item.Slot, item.GPU))
	}

	release := s.acquireSlotLocks(lockKeys)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}

	cutoff := nextHourStart(s.now())
	released := 0
	for _, item := range req.Slots {
		day, ok := s.state.Days[item.Day]
		if !ok || day.Status != types.DayStatusExecuting {
			continue
		}
		slotStart, err := calendar.ParseSlotKey(item.Slot)
		if err != nil || slotStart.Before(cutoff) {
			continue
		}
		slot, ok := day.Slots[item.Slot]
		if !ok {
			continue
		}
		entry := slot.GpuPrices[item.GPU]
		if entry.Winner != username {
			continue
		}

		entry.Winner = ""
		entry.Price = 0
		released++
	}

	refund := float64(released) * s.cfg.BulkReleaseRefundCredits
	user.Balance += refund

	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("user", username).
		Int("released", released).
		Float64("refund", refund).
		Msg("bulk release applied")

	return &types.BulkReleaseResult{
		OK:            true,
		ReleasedCount: released,
		TotalRefund:   refund,
		NewBalance:    int(user.Balance),
	}, nil
}

// nextHourStart floors now to its hour and adds one: the earliest slot start
// still eligible for release.
func nextHourStart(now time.Time) time.Time {
	return calendar.HourFloor(now).Add(time.Hour)
}
