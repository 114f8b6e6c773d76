package scheduler

import (
	"fmt"
	"sort"
	"sync"
)

// Per-slot locks serialize bids and releases on the same (day, slot, gpu)
// entry while letting unrelated slots proceed in parallel. Locks are created
// lazily and never removed; the active keyspace is bounded (7 days x 24
// hours x 8 GPUs).
//
// Ordering rules: multi-target operations sort their lock keys
// lexicographically, acquire ascending and release in reverse. Slot locks
// are always acquired before the state mutex. Deadlock freedom follows from
// the total order.

func slotLockKey(dayKey, slotKey string, gpu int) string {
	return fmt.Sprintf("%s|%s|%d", dayKey, slotKey, gpu)
}

func (s *Scheduler) slotLock(key string) *sync.Mutex {
	s.slotLocksMu.Lock()
	defer s.slotLocksMu.Unlock()

	lock, ok := s.slotLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.slotLocks[key] = lock
	}
	return lock
}

// acquireSlotLocks deduplicates and sorts the keys, locks them in order and
// returns the release function (reverse order).
func (s *Scheduler) acquireSlotLocks(keys []string) func() {
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	sort.Strings(unique)

	locks := make([]*sync.Mutex, len(unique))
	for i, key := range unique {
		locks[i] = s.slotLock(key)
		locks[i].Lock()
	}

	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}
