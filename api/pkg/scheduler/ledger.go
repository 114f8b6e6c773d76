package scheduler

import "github.com/causalai/gpu-scheduler/api/pkg/types"

// committedForUserLocked sums the prices of every entry the user currently
// wins across all open days. Computed on demand, never stored: bids must
// satisfy committed <= floor(balance) at admission.
func (s *Scheduler) committedForUserLocked(username string) int {
	total := 0
	for _, entry := range s.findDaysByStatusLocked(types.DayStatusOpen) {
		for _, slot := range entry.day.Slots {
			for _, gpu := range slot.GpuPrices {
				if gpu.Winner == username {
					total += gpu.Price
				}
			}
		}
	}
	return total
}

// userSummaryLocked projects a user for API responses. Balances are floored
// to integers on the wire.
func (s *Scheduler) userSummaryLocked(user *types.User) types.UserSummary {
	return types.UserSummary{
		Username:        user.Username,
		Role:            user.Role,
		Balance:         int(user.Balance),
		DailyBudget:     user.DailyBudget,
		RolloverApplied: user.RolloverApplied,
		Committed:       s.committedForUserLocked(user.Username),
	}
}
