package types

import "encoding/json"

// Request and response shapes for the HTTP surface. Several field names keep
// the legacy "week" spelling that the deployed clients still send.

// LoginRequest is the /api/login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult confirms a login and echoes the user.
type LoginResult struct {
	OK   bool        `json:"ok"`
	User UserSummary `json:"user"`
}

// SessionInfo is the /api/session response.
type SessionInfo struct {
	Authenticated bool         `json:"authenticated"`
	User          *UserSummary `json:"user,omitempty"`
}

// UserSummary is the public projection of a user.
type UserSummary struct {
	Username        string   `json:"username"`
	Role            UserRole `json:"role"`
	Balance         int      `json:"balance"`
	DailyBudget     int      `json:"weekly_budget"`
	RolloverApplied int      `json:"rollover_applied"`
	Committed       int      `json:"committed"`
}

// BidRequest identifies one (day, slot, gpu) target.
type BidRequest struct {
	Day  string `json:"week"`
	Slot string `json:"slot"`
	GPU  int    `json:"gpu"`
}

// BulkBidRequest is the /api/bid/bulk body.
type BulkBidRequest struct {
	Bids []BidRequest `json:"bids"`
}

// UndoBidRequest is the /api/bid/undo body. PreviousWinner and PreviousPrice
// are the entry values the client observed before its bid.
type UndoBidRequest struct {
	Day            string `json:"week"`
	Slot           string `json:"slot"`
	GPU            int    `json:"gpu"`
	PreviousWinner string `json:"previousWinner"`
	PreviousPrice  int    `json:"previousPrice"`
}

// BidResult reports the slot state after a successful bid.
type BidResult struct {
	OK     bool   `json:"ok"`
	Price  int    `json:"price"`
	Winner string `json:"winner"`
}

// BulkBidItem is one applied bid inside a BulkBidResult.
type BulkBidItem struct {
	Slot  string `json:"slot"`
	GPU   int    `json:"gpu"`
	Price int    `json:"price"`
}

// BulkBidResult reports every applied bid of an atomic bulk operation.
type BulkBidResult struct {
	OK    bool          `json:"ok"`
	Bids  []BulkBidItem `json:"bids"`
	Count int           `json:"count"`
}

// ReleaseRequest is the /api/slot/release body.
type ReleaseRequest struct {
	Day  string `json:"week"`
	Slot string `json:"slot"`
	GPU  int    `json:"gpu"`
}

// BulkReleaseRequest is the /api/slot/release-bulk body.
type BulkReleaseRequest struct {
	Slots []ReleaseRequest `json:"slots"`
}

// ReleaseResult reports a single-slot release refund.
type ReleaseResult struct {
	OK         bool    `json:"ok"`
	Released   bool    `json:"released"`
	Refund     float64 `json:"refund"`
	NewBalance float64 `json:"new_balance"`
}

// BulkReleaseResult reports a bulk release. Slots failing preconditions are
// skipped, not errored.
type BulkReleaseResult struct {
	OK            bool    `json:"ok"`
	ReleasedCount int     `json:"released_count"`
	TotalRefund   float64 `json:"total_refund"`
	NewBalance    int     `json:"new_balance"`
}

// DismissOutbidRequest clears queued outbid notifications for one day.
type DismissOutbidRequest struct {
	DayKey string `json:"day_key"`
}

// DismissOutbidResult reports how many notifications were dropped.
type DismissOutbidResult struct {
	OK      bool `json:"ok"`
	Removed int  `json:"removed"`
}

// GPUStatusRequest is the monitoring daemon payload. GPU indices arrive as
// string keys; Timestamp is informational only. Usage values stay raw so a
// malformed entry skips just that GPU instead of failing the batch.
type GPUStatusRequest struct {
	Timestamp string                     `json:"timestamp"`
	Usage     map[string]json.RawMessage `json:"usage"`
}

// GPUStatusResult acknowledges a telemetry sample batch.
type GPUStatusResult struct {
	OK         bool   `json:"ok"`
	Processed  int    `json:"processed"`
	Slot       string `json:"slot"`
	ServerTime string `json:"server_time"`
	ClockSkew  string `json:"clock_skew"`
}

// LiveStatus is the /api/gpu-live-status response.
type LiveStatus struct {
	OK        bool                `json:"ok"`
	Usage     map[string][]string `json:"usage"`
	Timestamp *string             `json:"timestamp"`
	GPUCount  int                 `json:"gpu_count"`
}

// DayOverview is one calendar row of the overview. The week_start JSON name
// is legacy; the value is a day key.
type DayOverview struct {
	DayStart         string    `json:"week_start"`
	Status           DayStatus `json:"status"`
	OpenAt           string    `json:"open_at"`
	CloseAt          string    `json:"close_at"`
	Day              string    `json:"day"`
	HasNotifications bool      `json:"has_notifications"`
}

// Overview is the /api/overview response.
type Overview struct {
	Now            string        `json:"now"`
	TimeZone       string        `json:"time_zone"`
	TransitionHour int           `json:"transition_hour"`
	Days           []DayOverview `json:"weeks"`
	User           UserSummary   `json:"user"`
	Policy         Policy        `json:"policy"`
}

// SlotEntryStatus is the per-entry bidding state shown in the day grid.
type SlotEntryStatus string

const (
	SlotEntryOpen     SlotEntryStatus = "open"
	SlotEntryLocked   SlotEntryStatus = "locked"
	SlotEntryReserved SlotEntryStatus = "reserved"
)

// GridEntry is one GPU cell of the day grid.
type GridEntry struct {
	GPU                  int             `json:"gpu"`
	Price                int             `json:"price"`
	Winner               string          `json:"winner"`
	ActualUser           *string         `json:"actual_user"`
	Status               SlotEntryStatus `json:"status"`
	IsMine               bool            `json:"isMine"`
	HasBid               bool            `json:"hasBid"`
	CanRelease           bool            `json:"canRelease"`
	LiveUsers            []string        `json:"live_users"`
	MostFrequentUser     string          `json:"most_frequent_user,omitempty"`
	MostFrequentNonOwner string          `json:"most_frequent_non_owner,omitempty"`
	IsCurrentHour        bool            `json:"is_current_hour"`
}

// GridRow is one hour row of the day grid.
type GridRow struct {
	Slot    string      `json:"slot"`
	Hour    int         `json:"hour"`
	Entries []GridEntry `json:"entries"`
}

// DayView is the /api/week response: 24 rows by NumGPUs entries.
type DayView struct {
	DayStart      string    `json:"week_start"`
	Day           string    `json:"day"`
	Status        DayStatus `json:"status"`
	OpenAt        string    `json:"open_at"`
	CloseAt       string    `json:"close_at"`
	Rows          []GridRow `json:"rows"`
	LiveTimestamp *string   `json:"live_timestamp"`
	OutbidQueue   []string  `json:"outbid_notification_queue"`
}

// OwnedSlot is one of the caller's won entries.
type OwnedSlot struct {
	Slot  string `json:"slot"`
	GPU   int    `json:"gpu"`
	Price int    `json:"price"`
}

// DaySummary groups the caller's won entries for one day.
type DaySummary struct {
	DayStart string      `json:"week_start"`
	Status   DayStatus   `json:"status"`
	Slots    []OwnedSlot `json:"slots"`
}

// MySummary is the /api/my/summary response.
type MySummary struct {
	Days []DaySummary `json:"weeks"`
}

// BidOutcome annotates a bid-log row with its current standing.
type BidOutcome string

const (
	BidOutcomeLeading BidOutcome = "leading"
	BidOutcomeLost    BidOutcome = "lost"
	BidOutcomeOpen    BidOutcome = "open"
)

// AnnotatedBid is one row of the /api/my/bids response.
type AnnotatedBid struct {
	BidRecord
	Status BidOutcome `json:"status"`
}

// HistoryDayInfo is one row of the /api/history/days response.
type HistoryDayInfo struct {
	Day         string  `json:"day"`
	FinalizedAt *string `json:"finalized_at"`
}

// DayInfo is one row of the admin day listing.
type DayInfo struct {
	DayStart    string    `json:"week_start"`
	Status      DayStatus `json:"status"`
	FinalizedAt *string   `json:"finalized_at"`
	OpenAt      string    `json:"open_at"`
	CloseAt     string    `json:"close_at"`
	Day         string    `json:"day"`
}

// AdminUserInfo is one row of the admin user listing.
type AdminUserInfo struct {
	Username        string   `json:"username"`
	Role            UserRole `json:"role"`
	DailyBudget     int      `json:"weekly_budget"`
	Balance         float64  `json:"balance"`
	RolloverApplied int      `json:"rollover_applied"`
	LastRefillDay   *string  `json:"last_refill_week"`
	Enabled         bool     `json:"enabled"`
	Committed       int      `json:"committed"`
}

// UpdateUserRequest adjusts one user. Pointer fields are applied only when
// present in the payload.
type UpdateUserRequest struct {
	Username     string `json:"username"`
	DailyBudget  *int   `json:"weekly_budget"`
	BalanceDelta *int   `json:"balance_delta"`
	Enabled      *bool  `json:"enabled"`
}

// BulkUpdateUsersRequest applies adjustments to every user.
type BulkUpdateUsersRequest struct {
	DailyBudget  *int `json:"weekly_budget"`
	BalanceDelta *int `json:"balance_delta"`
}

// CreateUserRequest creates an account. Password defaults to the username.
type CreateUserRequest struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Role        UserRole `json:"role"`
	DailyBudget *int     `json:"weekly_budget"`
}

// ResetPasswordRequest sets a user's password (admin).
type ResetPasswordRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest rotates the caller's own password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// UpdatePolicyRequest edits the bidding policy.
type UpdatePolicyRequest struct {
	HourlyGPUCap    *int  `json:"hourly_gpu_cap"`
	HourlyGPUCapSet bool  `json:"-"`
}

// UpdateUserResult echoes the user after an admin mutation.
type UpdateUserResult struct {
	OK   bool        `json:"ok"`
	User UserSummary `json:"user"`
}

// MessageResult is the generic acknowledgement for admin operations.
type MessageResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// PolicyResult echoes the policy after an admin edit.
type PolicyResult struct {
	OK     bool   `json:"ok"`
	Policy Policy `json:"policy"`
}

// ClearBidsResult reports a day-wide bid wipe.
type ClearBidsResult struct {
	OK      bool   `json:"ok"`
	Day     string `json:"week"`
	Cleared int    `json:"cleared"`
	Message string `json:"message"`
}

// DemoDataResult reports demo assignment population.
type DemoDataResult struct {
	OK       bool   `json:"ok"`
	Day      string `json:"week"`
	Assigned int    `json:"assigned"`
	Message  string `json:"message"`
}

// SetDayStatusResult reports a forced status change.
type SetDayStatusResult struct {
	OK        bool      `json:"ok"`
	Day       string    `json:"week"`
	OldStatus DayStatus `json:"old_status"`
	NewStatus DayStatus `json:"new_status"`
	Message   string    `json:"message"`
}

// TransitionHourInfo is the admin transition-hour readback.
type TransitionHourInfo struct {
	TransitionHour int    `json:"transition_hour"`
	CurrentTime    string `json:"current_time"`
}

// SetTransitionHourResult acknowledges a transition-hour change.
type SetTransitionHourResult struct {
	OK             bool   `json:"ok"`
	TransitionHour int    `json:"transition_hour"`
	Message        string `json:"message"`
}

// CleanupDaysRequest prunes historical days, keeping the protected executing
// and first open day plus the most recent KeepCount others.
type CleanupDaysRequest struct {
	KeepCount int `json:"keep_count"`
}

// CleanupDaysResult reports which days were removed.
type CleanupDaysResult struct {
	OK           bool     `json:"ok"`
	DeletedCount int      `json:"deleted_count"`
	DeletedDays  []string `json:"deleted_weeks"`
	KeptCount    int      `json:"kept_count"`
}

// SetDayStatusRequest forces a day into a lifecycle status (admin tooling).
type SetDayStatusRequest struct {
	Day    string    `json:"week"`
	Status DayStatus `json:"status"`
}

// SetTransitionHourRequest changes the logical-day rollover hour.
type SetTransitionHourRequest struct {
	TransitionHour *int `json:"transition_hour"`
}
