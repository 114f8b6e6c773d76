package types

import "time"

const (
	// NumGPUs is the size of the GPU pool being auctioned.
	NumGPUs = 8
	// HoursPerDay is the number of slots in a logical day.
	HoursPerDay = 24
	// BidLogLimit caps the global bid log ring buffer.
	BidLogLimit = 500
)

// DayStatus tracks where a day sits in the open -> executing -> final lifecycle.
type DayStatus string

const (
	DayStatusFuture    DayStatus = "future"
	DayStatusOpen      DayStatus = "open"
	DayStatusExecuting DayStatus = "executing"
	DayStatusFinal     DayStatus = "final"
)

// UserRole controls access to the admin surface.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is a persisted account. Balance is stored as a float so that partial
// release refunds keep their precision; the API always exposes the floored
// integer value.
//
// The weekly_budget and last_refill_week JSON names survive from the old
// week-based system; the budget is credited per day.
type User struct {
	Username        string     `json:"username"`
	Salt            string     `json:"salt"`
	PasswordHash    string     `json:"password_hash"`
	Role            UserRole   `json:"role"`
	DailyBudget     int        `json:"weekly_budget"`
	Balance         float64    `json:"balance"`
	RolloverApplied int        `json:"rollover_applied"`
	LastRefillDay   *string    `json:"last_refill_week"`
	Enabled         bool       `json:"enabled"`
	LastLogin       *time.Time `json:"last_login"`
	// OutbidQueue holds "day|slot|gpu" triples for slots this user was
	// outbid on, oldest first, no duplicates.
	OutbidQueue []string `json:"outbid_notification_queue,omitempty"`
}

// Bid is one entry in a GPU entry's append-only bid history.
type Bid struct {
	Username  string    `json:"username"`
	Price     int       `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// GpuEntry is the auction state for one GPU in one hour slot.
//
// ActualUser is nil until telemetry finalization runs for the hour; after
// that it points at the most-sampled username, or at an empty string when
// the hour closed without samples. It is written at most once.
type GpuEntry struct {
	GPU        int     `json:"gpu"`
	Price      int     `json:"price"`
	Winner     string  `json:"winner"`
	Bids       []Bid   `json:"bids"`
	ActualUser *string `json:"actual_user,omitempty"`
}

// Slot holds the per-GPU auction entries for one calendar hour.
type Slot struct {
	GpuPrices []*GpuEntry `json:"gpu_prices"`
}

// Day is one logical day of the calendar. Slots are keyed by
// "YYYY-MM-DDTHH:00" where HH is the calendar hour the logical hour starts at.
type Day struct {
	DayStart    string           `json:"day_start"`
	Status      DayStatus        `json:"status"`
	Slots       map[string]*Slot `json:"slots"`
	FinalizedAt *time.Time       `json:"finalized_at"`
}

// BidRecord is one row of the global bid log. The day key keeps its legacy
// "week" JSON name for client compatibility.
type BidRecord struct {
	Username  string    `json:"username"`
	Day       string    `json:"week"`
	Slot      string    `json:"slot"`
	GPU       int       `json:"gpu"`
	Price     int       `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Policy holds admin-editable bidding policy. HourlyGPUCap is accepted and
// stored but not enforced in bid admission.
type Policy struct {
	HourlyGPUCap *int `json:"hourly_gpu_cap"`
	// ReservedSlots maps day key -> list of "SLOTKEY_gpuN" identifiers that
	// admins have withdrawn from bidding.
	ReservedSlots map[string][]string `json:"reserved_slots"`
}

// SystemConfig is the admin-mutable runtime configuration stored with state.
type SystemConfig struct {
	// DayTransitionHour is the wall-clock hour (0-23) at which logical days
	// roll over.
	DayTransitionHour int `json:"day_transition_hour"`
}

// UsageTracking is the runtime form of the per-hour sample histograms
// collected from the monitoring daemon:
// day key -> slot key -> gpu index -> username -> sample count.
type UsageTracking map[string]map[string]map[int]map[string]int

// State is the whole persisted document.
type State struct {
	Users  map[string]*User `json:"users"`
	Days   map[string]*Day  `json:"days"`
	BidLog []BidRecord      `json:"bid_log"`
	Policy Policy           `json:"policy"`
	// GPUUsageTracking is the wire form of the sample histograms; GPU
	// indices are stringified for JSON. The scheduler keeps the int-keyed
	// runtime form and syncs it here on save.
	GPUUsageTracking map[string]map[string]map[string]map[string]int `json:"gpu_usage_tracking"`
	Config           SystemConfig                                    `json:"config"`
}

// NewState returns an empty but fully-initialized state document.
func NewState() *State {
	return &State{
		Users:            map[string]*User{},
		Days:             map[string]*Day{},
		BidLog:           []BidRecord{},
		Policy:           Policy{ReservedSlots: map[string][]string{}},
		GPUUsageTracking: map[string]map[string]map[string]map[string]int{},
	}
}

// NewDay builds a day with its 24 empty slots. slotKeys must contain the
// calendar-hour labelled keys for the day, in logical-hour order.
func NewDay(dayKey string, status DayStatus, slotKeys []string) *Day {
	slots := make(map[string]*Slot, len(slotKeys))
	for _, key := range slotKeys {
		entries := make([]*GpuEntry, NumGPUs)
		for gpu := range entries {
			entries[gpu] = &GpuEntry{GPU: gpu, Bids: []Bid{}}
		}
		slots[key] = &Slot{GpuPrices: entries}
	}
	return &Day{
		DayStart: dayKey,
		Status:   status,
		Slots:    slots,
	}
}

// HasWinners reports whether any slot in the day has a winner. Days with
// winners keep their status when the calendar is repaired.
func (d *Day) HasWinners() bool {
	for _, slot := range d.Slots {
		for _, entry := range slot.GpuPrices {
			if entry.Winner != "" {
				return true
			}
		}
	}
	return false
}
