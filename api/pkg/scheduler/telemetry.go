package scheduler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// clockSkewWarnThreshold is how far the daemon's self-reported timestamp may
// drift from server time before we log a warning. Server time is always
// authoritative for sample placement.
const clockSkewWarnThreshold = 300 * time.Second

// trackingKeepDays is how far back sample histograms are retained.
const trackingKeepDays = 7

// ProcessGPUStatus ingests one poll from the monitoring daemon: it replaces
// the live per-GPU view wholesale and increments the per-hour sample
// histogram for every reported non-empty username. Malformed GPU keys or
// user lists skip just that GPU.
func (s *Scheduler) ProcessGPUStatus(req types.GPUStatusRequest) (*types.GPUStatusResult, *Error) {
	if req.Usage == nil {
		return nil, newError(KindBadRequest, "Missing or invalid 'usage' field.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	clockSkew := "N/A"
	if req.Timestamp != "" {
		if daemonTime, err := time.Parse(time.RFC3339, req.Timestamp); err == nil {
			skew := now.Sub(daemonTime).Abs()
			clockSkew = fmt.Sprintf("%.1fs", skew.Seconds())
			if skew > clockSkewWarnThreshold {
				log.Warn().
					Dur("skew", skew).
					Str("daemon_time", req.Timestamp).
					Msg("clock skew detected between server and monitoring daemon")
			}
		} else {
			log.Warn().Err(err).Str("timestamp", req.Timestamp).Msg("invalid daemon timestamp")
		}
	}

	usage := map[int][]string{}
	for gpuStr, raw := range req.Usage {
		gpu, err := strconv.Atoi(gpuStr)
		if err != nil || gpu < 0 || gpu >= types.NumGPUs {
			continue
		}
		var users []string
		if err := json.Unmarshal(raw, &users); err != nil {
			continue
		}
		filtered := make([]string, 0, len(users))
		for _, user := range users {
			if user != "" {
				filtered = append(filtered, user)
			}
		}
		usage[gpu] = filtered
	}

	// The live view always represents the current wall-clock hour; replace
	// it wholesale and stamp it with server time.
	s.liveMu.Lock()
	s.liveUsage = usage
	stamped := now
	s.liveTimestamp = &stamped
	s.liveMu.Unlock()

	dayKey := calendar.FormatDay(calendar.DayStartFor(now, s.transitionHourLocked()))
	slotKey := calendar.SlotKey(now.Format("2006-01-02"), now.Hour())

	processed := 0
	s.trackingMu.Lock()
	daySamples, ok := s.tracking[dayKey]
	if !ok {
		daySamples = map[string]map[int]map[string]int{}
		s.tracking[dayKey] = daySamples
	}
	slotSamples, ok := daySamples[slotKey]
	if !ok {
		slotSamples = map[int]map[string]int{}
		daySamples[slotKey] = slotSamples
	}
	for gpu, users := range usage {
		counts, ok := slotSamples[gpu]
		if !ok {
			counts = map[string]int{}
			slotSamples[gpu] = counts
		}
		for _, user := range users {
			if counts[user] == 0 {
				s.recordSampleOrderLocked(dayKey, slotKey, gpu, user)
			}
			counts[user]++
			processed++
		}
	}
	s.trackingMu.Unlock()

	return &types.GPUStatusResult{
		OK:         true,
		Processed:  processed,
		Slot:       slotKey,
		ServerTime: now.Format(time.RFC3339),
		ClockSkew:  clockSkew,
	}, nil
}

// LiveStatus snapshots the current-hour live view for the public endpoint.
func (s *Scheduler) LiveStatus() *types.LiveStatus {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	usage := make(map[string][]string, len(s.liveUsage))
	for gpu, users := range s.liveUsage {
		usage[strconv.Itoa(gpu)] = append([]string(nil), users...)
	}
	var ts *string
	if s.liveTimestamp != nil {
		formatted := s.liveTimestamp.Format(time.RFC3339)
		ts = &formatted
	}
	return &types.LiveStatus{
		OK:        true,
		Usage:     usage,
		Timestamp: ts,
		GPUCount:  types.NumGPUs,
	}
}

// finalizePastGPUSlotsLocked writes actual_user for every tracked entry
// whose hour has fully elapsed, then prunes histograms older than the
// retention window. Each entry is labelled at most once.
func (s *Scheduler) finalizePastGPUSlotsLocked(now time.Time) {
	currentHourStart := calendar.HourFloor(now)
	finalized := 0

	s.trackingMu.Lock()
	for dayKey, daySamples := range s.tracking {
		day, ok := s.state.Days[dayKey]
		if !ok || (day.Status != types.DayStatusExecuting && day.Status != types.DayStatusFinal) {
			continue
		}
		for slotKey, slotSamples := range daySamples {
			slotStart, err := calendar.ParseSlotKey(slotKey)
			if err != nil {
				continue
			}
			if slotStart.Add(time.Hour).After(currentHourStart) {
				continue
			}
			slot, ok := day.Slots[slotKey]
			if !ok {
				continue
			}
			for gpu, counts := range slotSamples {
				if gpu >= len(slot.GpuPrices) {
					continue
				}
				entry := slot.GpuPrices[gpu]
				if entry.ActualUser != nil {
					continue
				}
				actual := s.argmaxSampleLocked(dayKey, slotKey, gpu, counts)
				entry.ActualUser = &actual
				finalized++
			}
		}
	}

	// Retain the current logical day plus trackingKeepDays back.
	keep := map[string]struct{}{}
	dayStart := calendar.DayStartFor(now, s.transitionHourLocked())
	for offset := -trackingKeepDays; offset <= 0; offset++ {
		keep[calendar.FormatDay(dayStart.AddDate(0, 0, offset))] = struct{}{}
	}
	for dayKey := range s.tracking {
		if _, ok := keep[dayKey]; !ok {
			delete(s.tracking, dayKey)
			s.dropSampleOrderLocked(dayKey)
		}
	}
	s.trackingMu.Unlock()

	if finalized > 0 {
		log.Info().Int("entries", finalized).Msg("finalized actual users for completed hours")
		if err := s.saveLocked(); err != nil {
			log.Error().Err(err).Msg("failed to persist finalized telemetry")
		}
	}
}

// argmaxSampleLocked picks the most-sampled username for an entry. Ties
// break by first-seen order within this process; usernames loaded from a
// snapshot (whose arrival order is unknown) come after live-observed ones,
// in sorted order.
func (s *Scheduler) argmaxSampleLocked(dayKey, slotKey string, gpu int, counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}

	ordered := s.sampleOrder[sampleOrderKey(dayKey, slotKey, gpu)]
	seen := map[string]struct{}{}
	candidates := make([]string, 0, len(counts))
	for _, user := range ordered {
		if _, ok := counts[user]; ok {
			candidates = append(candidates, user)
			seen[user] = struct{}{}
		}
	}
	var rest []string
	for user := range counts {
		if _, ok := seen[user]; !ok {
			rest = append(rest, user)
		}
	}
	sort.Strings(rest)
	candidates = append(candidates, rest...)

	best := candidates[0]
	for _, user := range candidates[1:] {
		if counts[user] > counts[best] {
			best = user
		}
	}
	return best
}

func sampleOrderKey(dayKey, slotKey string, gpu int) string {
	return fmt.Sprintf("%s|%s|%d", dayKey, slotKey, gpu)
}

func (s *Scheduler) recordSampleOrderLocked(dayKey, slotKey string, gpu int, user string) {
	if s.sampleOrder == nil {
		s.sampleOrder = map[string][]string{}
	}
	key := sampleOrderKey(dayKey, slotKey, gpu)
	s.sampleOrder[key] = append(s.sampleOrder[key], user)
}

func (s *Scheduler) dropSampleOrderLocked(dayKey string) {
	prefix := dayKey + "|"
	for key := range s.sampleOrder {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.sampleOrder, key)
		}
	}
}
