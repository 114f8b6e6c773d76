package scheduler

import (
	"sort"
	"strings"
	"time"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// defaultBidHistoryLimit caps /api/my/bids when the client does not ask for a
// specific page size.
const defaultBidHistoryLimit = 50

// hasOutbidForDay reports queued outbid notifications for a day. Only open
// days flag: the queue may still hold stale triples for promoted days.
func hasOutbidForDay(user *types.User, day *types.Day, dayKey string) bool {
	if day.Status != types.DayStatusOpen {
		return false
	}
	prefix := dayKey + "|"
	for _, triple := range user.OutbidQueue {
		if strings.HasPrefix(triple, prefix) {
			return true
		}
	}
	return false
}

// Overview returns the caller's calendar window: the executing day followed
// by the open days, with per-day notification flags, the user summary and
// the active policy.
func (s *Scheduler) Overview(username string) (*types.Overview, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}

	now := s.now()
	overview := &types.Overview{
		Now:            now.Format(time.RFC3339),
		TimeZone:       calendar.TimeZoneName,
		TransitionHour: s.transitionHourLocked(),
		Days:           []types.DayOverview{},
		User:           s.userSummaryLocked(user),
		Policy:         s.state.Policy,
	}

	var window []dayEntry
	if executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting); ok {
		window = append(window, executing)
	}
	window = append(window, s.findDaysByStatusLocked(types.DayStatusOpen)...)

	for _, entry := range window {
		start, err := calendar.ParseDay(entry.key, s.transitionHourLocked())
		if err != nil {
			continue
		}
		overview.Days = append(overview.Days, types.DayOverview{
			DayStart:         entry.key,
			Status:           entry.day.Status,
			OpenAt:           start.Format(time.RFC3339),
			CloseAt:          calendar.DayCloseTime(start).Format(time.RFC3339),
			Day:              entry.key,
			HasNotifications: hasOutbidForDay(user, entry.day, entry.key),
		})
	}

	return overview, nil
}

// DayView builds the 24-row bidding grid for one day, overlaying live usage
// on the current hour and the sample-derived most-frequent users everywhere.
// dayFilter defaults to the day key itself.
func (s *Scheduler) DayView(username, dayKey, dayFilter string) (*types.DayView, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}
	day, ok := s.state.Days[dayKey]
	if !ok {
		return nil, newError(KindNotFound, "Week or day not found.")
	}
	if dayFilter == "" {
		dayFilter = dayKey
	}

	now := s.now()
	currentHourStart := calendar.HourFloor(now)
	nextHour := currentHourStart.Add(time.Hour)

	slotKeys := make([]string, 0, len(day.Slots))
	for slotKey := range day.Slots {
		if strings.HasPrefix(slotKey, dayFilter) {
			slotKeys = append(slotKeys, slotKey)
		}
	}
	if len(slotKeys) == 0 {
		return nil, newError(KindNotFound, "Week or day not found.")
	}
	sort.Strings(slotKeys)

	s.liveMu.Lock()
	liveUsage := make(map[int][]string, len(s.liveUsage))
	for gpu, users := range s.liveUsage {
		liveUsage[gpu] = append([]string(nil), users...)
	}
	var liveTimestamp *string
	if s.liveTimestamp != nil {
		formatted := s.liveTimestamp.Format(time.RFC3339)
		liveTimestamp = &formatted
	}
	s.liveMu.Unlock()

	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()
	daySamples := s.tracking[dayKey]

	reserved := s.state.Policy.ReservedSlots[dayKey]
	rows := make([]types.GridRow, 0, len(slotKeys))
	for _, slotKey := range slotKeys {
		slot := day.Slots[slotKey]
		slotStart, parseErr := calendar.ParseSlotKey(slotKey)
		hour := 0
		if parseErr == nil {
			hour = slotStart.Hour()
		}
		isCurrentHour := parseErr == nil && slotStart.Equal(currentHourStart)

		row := types.GridRow{Slot: slotKey, Hour: hour, Entries: []types.GridEntry{}}
		for _, entry := range slot.GpuPrices {
			status := types.SlotEntryOpen
			if day.Status != types.DayStatusOpen {
				status = types.SlotEntryLocked
			}
			isReserved := false
			want := reservedSlotID(slotKey, entry.GPU)
			for _, id := range reserved {
				if id == want {
					isReserved = true
					break
				}
			}
			if isReserved {
				status = types.SlotEntryReserved
			}

			hasBid := false
			for _, bid := range entry.Bids {
				if bid.Username == username {
					hasBid = true
					break
				}
			}

			canRelease := parseErr == nil &&
				day.Status == types.DayStatusExecuting &&
				entry.Winner == username &&
				!slotStart.Before(nextHour)

			liveUsers := []string{}
			if isCurrentHour {
				if users, ok := liveUsage[entry.GPU]; ok {
					liveUsers = users
				}
			}

			var mostFrequent, mostFrequentNonOwner string
			if counts := daySamples[slotKey][entry.GPU]; len(counts) > 0 {
				mostFrequent = s.argmaxSampleLocked(dayKey, slotKey, entry.GPU, counts)
				nonOwner := map[string]int{}
				for name, n := range counts {
					if name != entry.Winner {
						nonOwner[name] = n
					}
				}
				if len(nonOwner) > 0 {
					mostFrequentNonOwner = s.argmaxSampleLocked(dayKey, slotKey, entry.GPU, nonOwner)
				}
			}

			row.Entries = append(row.Entries, types.GridEntry{
				GPU:                  entry.GPU,
				Price:                entry.Price,
				Winner:               entry.Winner,
				ActualUser:           entry.ActualUser,
				Status:               status,
				IsMine:               entry.Winner == username,
				HasBid:               hasBid,
				CanRelease:           canRelease,
				LiveUsers:            liveUsers,
				MostFrequentUser:     mostFrequent,
				MostFrequentNonOwner: mostFrequentNonOwner,
				IsCurrentHour:        isCurrentHour,
			})
		}
		rows = append(rows, row)
	}

	start, err := calendar.ParseDay(dayKey, s.transitionHourLocked())
	if err != nil {
		return nil, newError(KindInternal, "Unparseable day key %q: %v", dayKey, err)
	}

	return &types.DayView{
		DayStart:      dayKey,
		Day:           dayFilter,
		Status:        day.Status,
		OpenAt:        start.Format(time.RFC3339),
		CloseAt:       calendar.DayCloseTime(start).Format(time.RFC3339),
		Rows:          rows,
		LiveTimestamp: liveTimestamp,
		OutbidQueue:   append([]string{}, user.OutbidQueue...),
	}, nil
}

// MySummary lists the caller's won entries across the executing day and the
// open days, sorted by (slot, gpu) within each day.
func (s *Scheduler) MySummary(username string) (*types.MySummary, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}

	var window []dayEntry
	if executing, ok := s.findDayByStatusLocked(types.DayStatusExecuting); ok {
		window = append(window, executing)
	}
	window = append(window, s.findDaysByStatusLocked(types.DayStatusOpen)...)

	summary := &types.MySummary{Days: []types.DaySummary{}}
	for _, entry := range window {
		owned := []types.OwnedSlot{}
		for slotKey, slot := range entry.day.Slots {
			for _, gpu := range slot.GpuPrices {
				if gpu.Winner == user.Username {
					owned = append(owned, types.OwnedSlot{
						Slot:  slotKey,
						GPU:   gpu.GPU,
						Price: gpu.Price,
					})
				}
			}
		}
		sort.Slice(owned, func(i, j int) bool {
			if owned[i].Slot != owned[j].Slot {
				return owned[i].Slot < owned[j].Slot
			}
			return owned[i].GPU < owned[j].GPU
		})
		summary.Days = append(summary.Days, types.DaySummary{
			DayStart: entry.key,
			Status:   entry.day.Status,
			Slots:    owned,
		})
	}
	return summary, nil
}

// MyBids returns the caller's most recent bid-log rows, newest first, each
// annotated with its current standing on the entry it targeted.
func (s *Scheduler) MyBids(username string, limit int) ([]types.AnnotatedBid, *Error) {
	if limit <= 0 {
		limit = defaultBidHistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userLocked(username); !ok {
		return nil, errAuthRequired
	}

	bids := []types.AnnotatedBid{}
	for i := len(s.state.BidLog) - 1; i >= 0 && len(bids) < limit; i-- {
		record := s.state.BidLog[i]
		if record.Username != username {
			continue
		}

		status := types.BidOutcomeOpen
		if day, ok := s.state.Days[record.Day]; ok {
			if slot, ok := day.Slots[record.Slot]; ok {
				if record.GPU >= 0 && record.GPU < len(slot.GpuPrices) {
					switch winner := slot.GpuPrices[record.GPU].Winner; {
					case winner == username:
						status = types.BidOutcomeLeading
					case winner != "":
						status = types.BidOutcomeLost
					}
				}
			}
		}
		bids = append(bids, types.AnnotatedBid{BidRecord: record, Status: status})
	}
	return bids, nil
}

// HistoryDays lists finalized days, most recent first.
func (s *Scheduler) HistoryDays(username string) ([]types.HistoryDayInfo, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userLocked(username); !ok {
		return nil, errAuthRequired
	}

	final := s.findDaysByStatusLocked(types.DayStatusFinal)
	days := make([]types.HistoryDayInfo, 0, len(final))
	for i := len(final) - 1; i >= 0; i-- {
		entry := final[i]
		var finalizedAt *string
		if entry.day.FinalizedAt != nil {
			formatted := entry.day.FinalizedAt.Format(time.RFC3339)
			finalizedAt = &formatted
		}
		days = append(days, types.HistoryDayInfo{Day: entry.key, FinalizedAt: finalizedAt})
	}
	return days, nil
}

// HistoryDay builds the grid for one finalized day.
func (s *Scheduler) HistoryDay(username, dayKey string) (*types.DayView, *Error) {
	s.mu.Lock()
	day, ok := s.state.Days[dayKey]
	if !ok || day.Status != types.DayStatusFinal {
		s.mu.Unlock()
		return nil, newError(KindNotFound, "Historical day not found.")
	}
	s.mu.Unlock()

	return s.DayView(username, dayKey, dayKey)
}
