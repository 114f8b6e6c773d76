package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// exportableLocked resolves a day eligible for CSV export: the schedule is
// meaningful only once bidding has closed.
func (s *Scheduler) exportableLocked(dayKey string) (*types.Day, *Error) {
	day, ok := s.state.Days[dayKey]
	if !ok || (day.Status != types.DayStatusFinal && day.Status != types.DayStatusExecuting) {
		return nil, newError(KindBadRequest, "Week not ready for export.")
	}
	return day, nil
}

func sortedSlotKeys(day *types.Day) []string {
	keys := make([]string, 0, len(day.Slots))
	for key := range day.Slots {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ExportDayCSV renders the day's final schedule: one row per (slot, gpu) with
// UTC boundaries, the winner and the closing price.
func (s *Scheduler) ExportDayCSV(dayKey string) (string, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, exportErr := s.exportableLocked(dayKey)
	if exportErr != nil {
		return "", exportErr
	}

	lines := []string{"slot_id,gpu_index,start_time_utc,end_time_utc,winner_username,final_price"}
	for _, slotKey := range sortedSlotKeys(day) {
		startLocal, err := calendar.ParseSlotKey(slotKey)
		if err != nil {
			continue
		}
		startUTC := startLocal.UTC()
		endUTC := startUTC.Add(time.Hour)

		for _, entry := range day.Slots[slotKey].GpuPrices {
			lines = append(lines, strings.Join([]string{
				fmt.Sprintf("%s_gpu%d", slotKey, entry.GPU),
				fmt.Sprintf("%d", entry.GPU),
				startUTC.Format(time.RFC3339),
				endUTC.Format(time.RFC3339),
				entry.Winner,
				fmt.Sprintf("%d", entry.Price),
			}, ","))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// usageMatchStatus classifies an entry by comparing who paid for it against
// who the telemetry attributed it to.
func usageMatchStatus(assigned, actual string) string {
	switch {
	case assigned == "" && actual == "":
		return "empty"
	case assigned == "":
		return "squatter"
	case actual == "":
		return "no_show"
	case assigned == actual:
		return "match"
	default:
		return "mismatch"
	}
}

type sampleCount struct {
	user  string
	count int
}

func sortedSamples(counts map[string]int) []sampleCount {
	samples := make([]sampleCount, 0, len(counts))
	for user, count := range counts {
		samples = append(samples, sampleCount{user: user, count: count})
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].count != samples[j].count {
			return samples[i].count > samples[j].count
		}
		return samples[i].user < samples[j].user
	})
	return samples
}

// ExportUsageCSV renders the assigned-versus-actual audit for a day: every
// (slot, gpu) with its winner, its attributed user, a match_status label and
// the raw sample histogram.
func (s *Scheduler) ExportUsageCSV(dayKey string) (string, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, exportErr := s.exportableLocked(dayKey)
	if exportErr != nil {
		return "", exportErr
	}

	s.trackingMu.Lock()
	daySamples := s.tracking[dayKey]
	s.trackingMu.Unlock()

	lines := []string{
		"slot_id,gpu_index,start_time_utc,end_time_utc,assigned_user,actual_user," +
			"match_status,all_users_detected,sample_counts",
	}
	for _, slotKey := range sortedSlotKeys(day) {
		startLocal, err := calendar.ParseSlotKey(slotKey)
		if err != nil {
			continue
		}
		startUTC := startLocal.UTC()
		endUTC := startUTC.Add(time.Hour)

		for _, entry := range day.Slots[slotKey].GpuPrices {
			assigned := entry.Winner
			actual := ""
			if entry.ActualUser != nil {
				actual = *entry.ActualUser
			}

			samples := sortedSamples(daySamples[slotKey][entry.GPU])
			allUsers := ""
			sampleCounts := ""
			if len(samples) > 0 {
				detected := make([]string, 0, len(samples))
				counts := make([]string, 0, len(samples))
				for _, sample := range samples {
					detected = append(detected, fmt.Sprintf("%s(%d)", sample.user, sample.count))
					counts = append(counts, fmt.Sprintf("%s:%d", sample.user, sample.count))
				}
				allUsers = fmt.Sprintf("%q", strings.Join(detected, ", "))
				sampleCounts = fmt.Sprintf("%q", strings.Join(counts, ";"))
			}

			lines = append(lines, strings.Join([]string{
				fmt.Sprintf("%s_gpu%d", slotKey, entry.GPU),
				fmt.Sprintf("%d", entry.GPU),
				startUTC.Format(time.RFC3339),
				endUTC.Format(time.RFC3339),
				assigned,
				actual,
				usageMatchStatus(assigned, actual),
				allUsers,
				sampleCounts,
			}, ","))
		}
	}
	return strings.Join(lines, "\n"), nil
}
