package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func reservedSlotID(slotKey string, gpu int) string {
	return fmt.Sprintf("%s_gpu%d", slotKey, gpu)
}

func (s *Scheduler) isReservedLocked(dayKey, slotKey string, gpu int) bool {
	want := reservedSlotID(slotKey, gpu)
	for _, id := range s.state.Policy.ReservedSlots[dayKey] {
		if id == want {
			return true
		}
	}
	return false
}

// bidTargetLocked resolves and validates one (day, slot, gpu) bid target.
func (s *Scheduler) bidTargetLocked(req types.BidRequest) (*types.GpuEntry, *Error) {
	if req.GPU < 0 || req.GPU >= types.NumGPUs {
		return nil, newError(KindBadRequest, "GPU index out of range.")
	}
	day, ok := s.state.Days[req.Day]
	if !ok {
		return nil, newError(KindNotFound, "Day not found.")
	}
	if day.Status != types.DayStatusOpen {
		return nil, newError(KindDayNotOpen, "Bidding is closed for day %s.", req.Day)
	}
	slot, ok := day.Slots[req.Slot]
	if !ok {
		return nil, newError(KindNotFound, "Slot not found.")
	}
	if s.isReservedLocked(req.Day, req.Slot, req.GPU) {
		return nil, newError(KindReserved, "Slot %s GPU %d is reserved by admins.", req.Slot, req.GPU)
	}
	return slot.GpuPrices[req.GPU], nil
}

// applyBidLocked mutates one entry for an accepted bid: bumps the price,
// reassigns the winner, appends the bid history and bid log rows, and queues
// outbid notifications for every prior distinct bidder.
func (s *Scheduler) applyBidLocked(username string, req types.BidRequest, entry *types.GpuEntry, newPrice int, ts time.Time) {
	outbid := map[string]struct{}{}
	for _, bid := range entry.Bids {
		if bid.Username != "" && bid.Username != username {
			outbid[bid.Username] = struct{}{}
		}
	}

	entry.Price = newPrice
	entry.Winner = username
	entry.Bids = append(entry.Bids, types.Bid{Username: username, Price: newPrice, Timestamp: ts})

	triple := slotLockKey(req.Day, req.Slot, req.GPU)
	for other := range outbid {
		user, ok := s.state.Users[other]
		if !ok {
			continue
		}
		queued := false
		for _, existing := range user.OutbidQueue {
			if existing == triple {
				queued = true
				break
			}
		}
		if !queued {
			user.OutbidQueue = append(user.OutbidQueue, triple)
		}
	}

	s.state.BidLog = append(s.state.BidLog, types.BidRecord{
		Username:  username,
		Day:       req.Day,
		Slot:      req.Slot,
		GPU:       req.GPU,
		Price:     newPrice,
		Timestamp: ts,
	})
	if len(s.state.BidLog) > types.BidLogLimit {
		s.state.BidLog = s.state.BidLog[len(s.state.BidLog)-types.BidLogLimit:]
	}
}

// PlaceBid places a single ascending bid: the new price is always the
// current price plus one, and the bidder must be able to cover all their
// open-day commitments at their floored balance.
func (s *Scheduler) PlaceBid(username string, req types.BidRequest) (*types.BidResult, *Error) {
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

	entry, bidErr := s.bidTargetLocked(req)
	if bidErr != nil {
		return nil, bidErr
	}

	newPrice := entry.Price + 1
	committed := s.committedForUserLocked(username)
	if entry.Winner == username {
		committed -= entry.Price
	}
	if committed+newPrice > int(user.Balance) {
		return nil, newError(KindInsufficientCredit, "Insufficient credits to hold this slot at close.")
	}

	s.applyBidLocked(username, req, entry, newPrice, s.now())

	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("user", username).
		Str("slot", req.Slot).
		Int("gpu", req.GPU).
		Int("price", newPrice).
		Msg("bid accepted")

	return &types.BidResult{OK: true, Price: newPrice, Winner: username}, nil
}

// PlaceBulkBids applies a batch of bids atomically: every target is
// validated and the aggregate cost checked before any entry is touched. Any
// failure aborts the whole batch with no state mutation.
func (s *Scheduler) PlaceBulkBids(username string, req types.BulkBidRequest) (*types.BulkBidResult, *Error) {
	if len(req.Bids) == 0 {
		return nil, newError(KindBadRequest, "No bids provided.")
	}

	// Normalize: sort by (day, slot, gpu) and drop duplicates, so repeated
	// targets collapse to one +1 bid.
	bids := make([]types.BidRequest, len(req.Bids))
	copy(bids, req.Bids)
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Day != bids[j].Day {
			return bids[i].Day < bids[j].Day
		}
		if bids[i].Slot != bids[j].Slot {
			return bids[i].Slot < bids[j].Slot
		}
		return bids[i].GPU < bids[j].GPU
	})
	unique := bids[:0]
	seen := map[string]struct{}{}
	lockKeys := make([]string, 0, len(bids))
	for _, bid := range bids {
		if bid.GPU < 0 || bid.GPU >= types.NumGPUs {
			return nil, newError(KindBadRequest, "GPU index out of range: %d", bid.GPU)
		}
		key := slotLockKey(bid.Day, bid.Slot, bid.GPU)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, bid)
		lockKeys = append(lockKeys, key)
	}
	bids = unique

	release := s.acquireSlotLocks(lockKeys)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}

	type validated struct {
		req      types.BidRequest
		entry    *types.GpuEntry
		newPrice int
		isMine   bool
	}

	validations := make([]validated, 0, len(bids))
	for _, bid := range bids {
		entry, bidErr := s.bidTargetLocked(bid)
		if bidErr != nil {
			return nil, bidErr
		}
		validations = append(validations, validated{
			req:      bid,
			entry:    entry,
			newPrice: entry.Price + 1,
			isMine:   entry.Winner == username,
		})
	}

	committed := s.committedForUserLocked(username)
	totalCost := 0
	for _, v := range validations {
		if v.isMine {
			committed -= v.entry.Price
		}
		totalCost += v.newPrice
	}
	if committed+totalCost > int(user.Balance) {
		return nil, newError(KindInsufficientCredit, "Insufficient credits for all bids.")
	}

	ts := s.now()
	result := &types.BulkBidResult{OK: true}
	for _, v := range validations {
		s.applyBidLocked(username, v.req, v.entry, v.newPrice, ts)
		result.Bids = append(result.Bids, types.BulkBidItem{
			Slot:  v.req.Slot,
			GPU:   v.req.GPU,
			Price: v.newPrice,
		})
	}
	result.Count = len(result.Bids)

	if err := s.saveLocked(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("user", username).
		Int("count", result.Count).
		Msg("bulk bids accepted")

	return result, nil
}

// UndoBid reverts the caller's last bid on an entry. It is rejected when the
// caller's bid displaced a different user: the outbid notification has
// already been queued and the displaced user may be rebidding.
func (s *Scheduler) UndoBid(username string, req types.UndoBidRequest) *Error {
	if req.GPU < 0 || req.GPU >= types.NumGPUs {
		return newError(KindBadRequest, "GPU index out of range.")
	}

	release := s.acquireSlotLocks([]string{slotLockKey(req.Day, req.Slot, req.GPU)})
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userLocked(username); !ok {
		return errAuthRequired
	}

	day, ok := s.state.Days[req.Day]
	if !ok {
		return newError(KindNotFound, "Day not found.")
	}
	if day.Status != types.DayStatusOpen {
		return newError(KindDayNotOpen, "Cannot undo bid, day is not open for bidding.")
	}
	slot, ok := day.Slots[req.Slot]
	if !ok {
		return newError(KindNotFound, "Slot not found.")
	}
	entry := slot.GpuPrices[req.GPU]

	if entry.Winner != username {
		return newError(KindNotOwner, "You don't own this slot.")
	}
	if req.PreviousWinner != "" && req.PreviousWinner != username {
		return newError(KindConflict, "Cannot undo, you outbid another user.")
	}

	entry.Winner = req.PreviousWinner
	entry.Price = req.PreviousPrice
	if n := len(entry.Bids); n > 0 && entry.Bids[n-1].Username == username {
		entry.Bids = entry.Bids[:n-1]
	}

	return s.saveLocked()
}

// DismissOutbid drops every queued outbid notification whose day prefix
// matches.
func (s *Scheduler) DismissOutbid(username, dayKey string) (*types.DismissOutbidResult, *Error) {
	if dayKey == "" {
		return nil, newError(KindBadRequest, "day_key required.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userLocked(username)
	if !ok {
		return nil, errAuthRequired
	}

	prefix := dayKey + "|"
	kept := user.OutbidQueue[:0]
	for _, triple := range user.OutbidQueue {
		if !strings.HasPrefix(triple, prefix) {
			kept = append(kept, triple)
		}
	}
	removed := len(user.OutbidQueue) - len(kept)
	user.OutbidQueue = kept

	if removed > 0 {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}
	return &types.DismissOutbidResult{OK: true, Removed: removed}, nil
}
