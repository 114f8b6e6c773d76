// Package calendar implements the logical-day math the auction runs on. A
// logical day is anchored at a configurable transition hour in a fixed civil
// time zone and spans 24 hours; slot keys are always labelled with the
// calendar hour, so they stay stable when the transition hour changes.
package calendar

import (
	"fmt"
	"time"
)

// TimeZoneName is the fixed civil zone all day math happens in.
const TimeZoneName = "America/New_York"

// Location is the loaded fixed zone.
var Location *time.Location

func init() {
	loc, err := time.LoadLocation(TimeZoneName)
	if err != nil {
		panic(fmt.Sprintf("load %s: %v", TimeZoneName, err))
	}
	Location = loc
}

// Clock abstracts "now" so the day cycle and release cutoffs are testable.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock in the configured zone.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().In(Location)
}

// FakeClock is a settable clock for tests.
type FakeClock struct {
	Current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{Current: t.In(Location)}
}

func (c *FakeClock) Now() time.Time {
	return c.Current
}

// Advance moves the fake clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}

// Set jumps the fake clock to an absolute instant.
func (c *FakeClock) Set(t time.Time) {
	c.Current = t.In(Location)
}

// DayStartFor returns the start of the logical day containing t: the most
// recent occurrence of transitionHour:00:00 not after t.
func DayStartFor(t time.Time, transitionHour int) time.Time {
	t = t.In(Location)
	if t.Hour() < transitionHour {
		t = t.AddDate(0, 0, -1)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), transitionHour, 0, 0, 0, Location)
}

// FormatDay renders a day key (YYYY-MM-DD).
func FormatDay(t time.Time) string {
	return t.In(Location).Format("2006-01-02")
}

// ParseDay resolves a day key to the instant the logical day starts.
func ParseDay(dayKey string, transitionHour int) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", dayKey, Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key %q: %w", dayKey, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), transitionHour, 0, 0, 0, Location), nil
}

// DayCloseTime is the last instant of the logical day: start + 24h - 1s.
func DayCloseTime(dayStart time.Time) time.Time {
	return dayStart.Add(24*time.Hour - time.Second)
}

// LogicalToCalendarHour maps a logical hour index (0-23, counted from the
// transition hour) to the calendar hour it starts at.
func LogicalToCalendarHour(logicalHour, transitionHour int) int {
	return (transitionHour + logicalHour) % 24
}

// CalendarToLogicalHour maps a calendar hour back to its logical index.
// onCurrentDay says whether the hour falls on the logical day's first
// calendar date (at or after the transition) or on the next one (before it).
func CalendarToLogicalHour(calendarHour, transitionHour int, onCurrentDay bool) int {
	if onCurrentDay {
		return ((calendarHour-transitionHour)%24 + 24) % 24
	}
	return (calendarHour + 24 - transitionHour) % 24
}

// FormatLogicalHour renders a logical hour as its calendar time range,
// e.g. "06:00-07:00".
func FormatLogicalHour(logicalHour, transitionHour int) string {
	start := LogicalToCalendarHour(logicalHour, transitionHour)
	end := (start + 1) % 24
	return fmt.Sprintf("%02d:00-%02d:00", start, end)
}

// SlotKey builds the stable slot identifier for an hour on a calendar date.
func SlotKey(dayStr string, hour int) string {
	return fmt.Sprintf("%sT%02d:00", dayStr, hour)
}

// SlotKeysForDay returns the 24 slot keys of a logical day. Keys always
// carry the day key's own date and calendar hours 00-23; the transition hour
// changes how hours group into days, never how slots are named.
func SlotKeysForDay(dayKey string) []string {
	keys := make([]string, 0, 24)
	for hour := 0; hour < 24; hour++ {
		keys = append(keys, SlotKey(dayKey, hour))
	}
	return keys
}

// ParseSlotKey resolves a "YYYY-MM-DDTHH:00" key to the instant the hour
// starts.
func ParseSlotKey(slotKey string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02T15:04", slotKey, Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot key %q: %w", slotKey, err)
	}
	return t, nil
}

// HourFloor truncates t to the start of its calendar hour.
func HourFloor(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, Location)
}
