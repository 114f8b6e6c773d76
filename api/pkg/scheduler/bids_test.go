package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

func bidReq(day string, hour, gpu int) types.BidRequest {
	return types.BidRequest{Day: day, Slot: calendar.SlotKey(day, hour), GPU: gpu}
}

func TestPlaceBid_AscendsByOneAndReassignsWinner(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	req := bidReq(firstOpenDay, 9, 0)

	result, err := s.PlaceBid("alice", req)
	require.Nil(t, err)
	require.Equal(t, 1, result.Price)
	require.Equal(t, "alice", result.Winner)

	result, err = s.PlaceBid("bob", req)
	require.Nil(t, err)
	require.Equal(t, 2, result.Price)
	require.Equal(t, "bob", result.Winner)

	entry := s.testEntry(t, firstOpenDay, req.Slot, 0)
	require.Len(t, entry.Bids, 2)

	// Alice was displaced and gets exactly one queued notification.
	alice := s.testUser(t, "alice")
	require.Equal(t, []string{fmt.Sprintf("%s|%s|0", firstOpenDay, req.Slot)}, alice.OutbidQueue)
}

func TestPlaceBid_OutbidQueueDeduplicates(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	req := bidReq(firstOpenDay, 9, 0)

	_, err := s.PlaceBid("alice", req)
	require.Nil(t, err)
	_, err = s.PlaceBid("bob", req)
	require.Nil(t, err)
	_, err = s.PlaceBid("alice", req)
	require.Nil(t, err)
	_, err = s.PlaceBid("bob", req)
	require.Nil(t, err)

	alice := s.testUser(t, "alice")
	require.Len(t, alice.OutbidQueue, 1)
	bob := s.testUser(t, "bob")
	require.Len(t, bob.OutbidQueue, 1)
}

func TestPlaceBid_CommittedExceedingBalanceRejected(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	s.setBalance("alice", 1)

	_, err := s.PlaceBid("alice", bidReq(firstOpenDay, 9, 0))
	require.Nil(t, err)

	// One credit is already committed; a second slot would need two.
	_, err = s.PlaceBid("alice", bidReq(firstOpenDay, 10, 0))
	require.NotNil(t, err)
	require.Equal(t, KindInsufficientCredit, err.Kind)
}

func TestPlaceBid_RaisingOwnBidReplacesCommitment(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	s.setBalance("alice", 2)
	req := bidReq(firstOpenDay, 9, 0)

	_, err := s.PlaceBid("alice", req)
	require.Nil(t, err)

	// Raising to 2 replaces the committed 1, total stays within balance.
	result, err := s.PlaceBid("alice", req)
	require.Nil(t, err)
	require.Equal(t, 2, result.Price)

	// A third raise would commit 3 > 2.
	_, err = s.PlaceBid("alice", req)
	require.NotNil(t, err)
	require.Equal(t, KindInsufficientCredit, err.Kind)
}

func TestPlaceBid_ExecutingDayRejected(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	_, err := s.PlaceBid("alice", bidReq(executingDay, 15, 0))
	require.NotNil(t, err)
	require.Equal(t, KindDayNotOpen, err.Kind)
}

func TestPlaceBid_ReservedEntryRejected(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	slotKey := calendar.SlotKey(firstOpenDay, 9)

	s.mu.Lock()
	s.state.Policy.ReservedSlots[firstOpenDay] = []string{fmt.Sprintf("%s_gpu0", slotKey)}
	s.mu.Unlock()

	_, err := s.PlaceBid("alice", bidReq(firstOpenDay, 9, 0))
	require.NotNil(t, err)
	require.Equal(t, KindReserved, err.Kind)

	// The neighbouring GPU is unaffected.
	_, err = s.PlaceBid("alice", bidReq(firstOpenDay, 9, 1))
	require.Nil(t, err)
}

func TestPlaceBid_UnknownTargets(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	_, err := s.PlaceBid("alice", bidReq("2030-01-01", 9, 0))
	require.Equal(t, KindNotFound, err.Kind)

	_, err = s.PlaceBid("alice", types.BidRequest{Day: firstOpenDay, Slot: "nonsense", GPU: 0})
	require.Equal(t, KindNotFound, err.Kind)

	_, err = s.PlaceBid("alice", bidReq(firstOpenDay, 9, types.NumGPUs))
	require.Equal(t, KindBadRequest, err.Kind)
}

func TestPlaceBulkBids_AppliesAllWithSingleCharge(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")

	result, err := s.PlaceBulkBids("alice", types.BulkBidRequest{Bids: []types.BidRequest{
		bidReq(firstOpenDay, 9, 0),
		bidReq(firstOpenDay, 9, 1),
		bidReq(firstOpenDay, 10, 0),
	}})
	require.Nil(t, err)
	require.Equal(t, 3, result.Count)
	for _, bid := range result.Bids {
		require.Equal(t, 1, bid.Price)
	}
}

func TestPlaceBulkBids_DuplicateTargetsCollapse(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	req := bidReq(firstOpenDay, 9, 0)

	result, err := s.PlaceBulkBids("alice", types.BulkBidRequest{Bids: []types.BidRequest{req, req, req}})
	require.Nil(t, err)
	require.Equal(t, 1, result.Count)

	entry := s.testEntry(t, firstOpenDay, req.Slot, 0)
	require.Equal(t, 1, entry.Price)
	require.Len(t, entry.Bids, 1)
}

func TestPlaceBulkBids_AtomicAbortLeavesNoTrace(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	slotKey := calendar.SlotKey(firstOpenDay, 10)

	s.mu.Lock()
	s.state.Policy.ReservedSlots[firstOpenDay] = []string{fmt.Sprintf("%s_gpu0", slotKey)}
	s.mu.Unlock()

	_, err := s.PlaceBulkBids("alice", types.BulkBidRequest{Bids: []types.BidRequest{
		bidReq(firstOpenDay, 9, 0),
		bidReq(firstOpenDay, 10, 0),
	}})
	require.NotNil(t, err)
	require.Equal(t, KindReserved, err.Kind)

	// The valid target was not touched either.
	entry := s.testEntry(t, firstOpenDay, calendar.SlotKey(firstOpenDay, 9), 0)
	require.Equal(t, 0, entry.Price)
	require.Empty(t, entry.Bids)

	s.mu.Lock()
	require.Empty(t, s.state.BidLog)
	s.mu.Unlock()
}

func TestPlaceBulkBids_AggregateCostChecked(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	s.setBalance("alice", 2)

	_, err := s.PlaceBulkBids("alice", types.BulkBidRequest{Bids: []types.BidRequest{
		bidReq(firstOpenDay, 9, 0),
		bidReq(firstOpenDay, 10, 0),
		bidReq(firstOpenDay, 11, 0),
	}})
	require.NotNil(t, err)
	require.Equal(t, KindInsufficientCredit, err.Kind)
}

func TestUndoBid_RevertsOwnTrailingBid(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	req := bidReq(firstOpenDay, 9, 0)

	_, err := s.PlaceBid("alice", req)
	require.Nil(t, err)

	undoErr := s.UndoBid("alice", types.UndoBidRequest{
		Day: req.Day, Slot: req.Slot, GPU: req.GPU,
		PreviousWinner: "", PreviousPrice: 0,
	})
	require.Nil(t, undoErr)

	entry := s.testEntry(t, firstOpenDay, req.Slot, 0)
	require.Equal(t, "", entry.Winner)
	require.Equal(t, 0, entry.Price)
	require.Empty(t, entry.Bids)
}

func TestUndoBid_RejectedWhenAnotherUserWasDisplaced(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	req := bidReq(firstOpenDay, 9, 0)

	_, err := s.PlaceBid("bob", req)
	require.Nil(t, err)
	_, err = s.PlaceBid("alice", req)
	require.Nil(t, err)

	undoErr := s.UndoBid("alice", types.UndoBidRequest{
		Day: req.Day, Slot: req.Slot, GPU: req.GPU,
		PreviousWinner: "bob", PreviousPrice: 1,
	})
	require.NotNil(t, undoErr)
	require.Equal(t, KindConflict, undoErr.Kind)
}

func TestUndoBid_OnlyOwnerMayUndo(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	req := bidReq(firstOpenDay, 9, 0)

	_, err := s.PlaceBid("alice", req)
	require.Nil(t, err)

	undoErr := s.UndoBid("bob", types.UndoBidRequest{
		Day: req.Day, Slot: req.Slot, GPU: req.GPU,
	})
	require.NotNil(t, undoErr)
	require.Equal(t, KindNotOwner, undoErr.Kind)
}

func TestDismissOutbid_DropsOnlyMatchingDay(t *testing.T) {
	s, _ := newTestScheduler(t, "alice", "bob")
	secondOpenDay := "2026-08-28"

	for _, day := range []string{firstOpenDay, secondOpenDay} {
		_, err := s.PlaceBid("alice", bidReq(day, 9, 0))
		require.Nil(t, err)
		_, err = s.PlaceBid("bob", bidReq(day, 9, 0))
		require.Nil(t, err)
	}
	require.Len(t, s.testUser(t, "alice").OutbidQueue, 2)

	result, err := s.DismissOutbid("alice", firstOpenDay)
	require.Nil(t, err)
	require.Equal(t, 1, result.Removed)
	require.Len(t, s.testUser(t, "alice").OutbidQueue, 1)

	// Dismissing again is a no-op.
	result, err = s.DismissOutbid("alice", firstOpenDay)
	require.Nil(t, err)
	require.Equal(t, 0, result.Removed)
}

func TestBidLog_CappedAtLimit(t *testing.T) {
	s, _ := newTestScheduler(t, "alice")
	req := bidReq(firstOpenDay, 9, 0)

	s.mu.Lock()
	entry := s.state.Days[firstOpenDay].Slots[req.Slot].GpuPrices[0]
	for i := 0; i < types.BidLogLimit+25; i++ {
		s.applyBidLocked("alice", req, entry, entry.Price+1, testNow)
	}
	logLen := len(s.state.BidLog)
	newest := s.state.BidLog[logLen-1]
	s.mu.Unlock()

	require.Equal(t, types.BidLogLimit, logLen)
	require.Equal(t, types.BidLogLimit+25, newest.Price)
}
