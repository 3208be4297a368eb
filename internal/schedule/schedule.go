// Package schedule answers whether an instant falls inside staffed hours.
// Nothing here reads the wall clock; callers pass the instant and zone.
package schedule

import (
	"fmt"
	"time"

	"replyguard/internal/config"
)

// Hours is an opening range as offsets from local midnight. Close may be 24h.
type Hours struct {
	Open  time.Duration
	Close time.Duration
}

// Weekly holds one range per weekday; a zero Hours means closed all day.
type Weekly [7]Hours

// Default is Sunday 09:00-18:00 and Monday-Saturday 09:00-24:00.
var Default = Weekly{
	time.Sunday:    {Open: 9 * time.Hour, Close: 18 * time.Hour},
	time.Monday:    {Open: 9 * time.Hour, Close: 24 * time.Hour},
	time.Tuesday:   {Open: 9 * time.Hour, Close: 24 * time.Hour},
	time.Wednesday: {Open: 9 * time.Hour, Close: 24 * time.Hour},
	time.Thursday:  {Open: 9 * time.Hour, Close: 24 * time.Hour},
	time.Friday:    {Open: 9 * time.Hour, Close: 24 * time.Hour},
	time.Saturday:  {Open: 9 * time.Hour, Close: 24 * time.Hour},
}

// IsWithinWindow reports whether t falls inside the default weekly schedule in loc.
func IsWithinWindow(t time.Time, loc *time.Location) bool {
	return Default.Contains(t, loc)
}

func (w Weekly) Contains(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	h := w[local.Weekday()]
	if h.Close <= h.Open {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := local.Sub(midnight)
	return offset >= h.Open && offset < h.Close
}

// Schedule binds a weekly table to a civil time zone.
type Schedule struct {
	Weekly   Weekly
	Location *time.Location
}

func (s Schedule) IsOpen(t time.Time) bool {
	return s.Weekly.Contains(t, s.Location)
}

// FromConfig builds a Schedule, overriding Default with any configured days.
func FromConfig(cfg config.ScheduleConfig) (Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Schedule{}, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	weekly := Default
	for day, hours := range cfg.Weekly {
		wd, ok := config.ParseWeekday(day)
		if !ok {
			return Schedule{}, fmt.Errorf("unknown weekday %q", day)
		}
		open, err := config.ParseClock(hours.Open)
		if err != nil {
			return Schedule{}, err
		}
		closeAt, err := config.ParseClock(hours.Close)
		if err != nil {
			return Schedule{}, err
		}
		weekly[wd] = Hours{Open: open, Close: closeAt}
	}
	return Schedule{Weekly: weekly, Location: loc}, nil
}
