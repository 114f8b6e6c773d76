// Package store persists the whole scheduler state as a single JSON
// document, written atomically via a temp file renamed over the target.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/causalai/gpu-scheduler/api/pkg/types"
)

// FileStore reads and writes the state snapshot at a fixed path.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot, applying the weeks->days migration for state
// files written by the old week-based system. A missing file returns
// (nil, nil): the caller seeds a fresh state.
func (s *FileStore) Load() (*types.State, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	raw, err = migrate(raw)
	if err != nil {
		return nil, err
	}

	state := types.NewState()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	if state.Users == nil {
		state.Users = map[string]*types.User{}
	}
	if state.Days == nil {
		state.Days = map[string]*types.Day{}
	}
	if state.Policy.ReservedSlots == nil {
		state.Policy.ReservedSlots = map[string][]string{}
	}
	if state.GPUUsageTracking == nil {
		state.GPUUsageTracking = map[string]map[string]map[string]map[string]int{}
	}
	return state, nil
}

// Save serializes the state and atomically replaces the snapshot: write to a
// temp file in the same directory, then rename over the target so concurrent
// readers never observe a torn file.
func (s *FileStore) Save(state *types.State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// migrate renames the legacy top-level "weeks" map to "days" and each
// per-day "week_start" field to "day_start".
func migrate(raw []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}

	weeks, hasWeeks := doc["weeks"]
	if _, hasDays := doc["days"]; !hasWeeks || hasDays {
		return raw, nil
	}

	log.Info().Msg("migrating state file from weeks to days format")

	var days map[string]map[string]json.RawMessage
	if err := json.Unmarshal(weeks, &days); err != nil {
		return nil, fmt.Errorf("decode legacy weeks: %w", err)
	}
	for _, day := range days {
		if start, ok := day["week_start"]; ok {
			if _, ok := day["day_start"]; !ok {
				day["day_start"] = start
			}
			delete(day, "week_start")
		}
	}

	migrated, err := json.Marshal(days)
	if err != nil {
		return nil, fmt.Errorf("encode migrated days: %w", err)
	}
	doc["days"] = migrated
	delete(doc, "weeks")

	return json.Marshal(doc)
}

// TrackingToWire converts the runtime sample histograms to the persisted
// form with stringified GPU indices.
func TrackingToWire(tracking types.UsageTracking) map[string]map[string]map[string]map[string]int {
	wire := make(map[string]map[string]map[string]map[string]int, len(tracking))
	for dayKey, slots := range tracking {
		wire[dayKey] = make(map[string]map[string]map[string]int, len(slots))
		for slotKey, gpus := range slots {
			wire[dayKey][slotKey] = make(map[string]map[string]int, len(gpus))
			for gpu, counts := range gpus {
				copied := make(map[string]int, len(counts))
				for user, n := range counts {
					copied[user] = n
				}
				wire[dayKey][slotKey][strconv.Itoa(gpu)] = copied
			}
		}
	}
	return wire
}

// TrackingFromWire reconstitutes integer GPU indices from the persisted
// form. Keys that do not parse as integers are dropped.
func TrackingFromWire(wire map[string]map[string]map[string]map[string]int) types.UsageTracking {
	tracking := make(types.UsageTracking, len(wire))
	for dayKey, slots := range wire {
		tracking[dayKey] = make(map[string]map[int]map[string]int, len(slots))
		for slotKey, gpus := range slots {
			tracking[dayKey][slotKey] = make(map[int]map[string]int, len(gpus))
			for gpuStr, counts := range gpus {
				gpu, err := strconv.Atoi(gpuStr)
				if err != nil {
					continue
				}
				copied := make(map[string]int, len(counts))
				for user, n := range counts {
					copied[user] = n
				}
				tracking[dayKey][slotKey][gpu] = copied
			}
		}
	}
	return tracking
}
