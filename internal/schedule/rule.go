package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

var ErrInvalidRule = errors.New("schedule: invalid rule")

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Rule describes when a recurring call fires.
type Rule struct {
	Frequency Frequency `json:"frequency"`
	// Time is the wall-clock firing time, "HH:MM" in Timezone.
	Time string `json:"time"`
	// DayOfWeek is 0 (Sunday) to 6, weekly only.
	DayOfWeek int `json:"day_of_week,omitempty"`
	// DayOfMonth is 1 to 31, monthly only.
	DayOfMonth int `json:"day_of_month,omitempty"`
	// Timezone is an IANA zone name; empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// Validate checks the rule and returns it with defaults applied.
func (r Rule) Validate() (Rule, error) {
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if _, _, err := parseClock(r.Time); err != nil {
		return r, err
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return r, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, r.Timezone)
	}
	switch r.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
			return r, fmt.Errorf("%w: day_of_week must be 0-6", ErrInvalidRule)
		}
	case FrequencyMonthly:
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return r, fmt.Errorf("%w: day_of_month must be 1-31", ErrInvalidRule)
		}
	default:
		return r, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	return r, nil
}

func parseClock(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: time must be HH:MM", ErrInvalidRule)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour out of range", ErrInvalidRule)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute out of range", ErrInvalidRule)
	}
	return hour, minute, nil
}

// NextExecution computes the next firing time after now.
//
// The candidate is today at the rule time in the rule's zone. If that is not
// in the future it moves forward: daily by one day, weekly to the next
// DayOfWeek (a full week when today already matches), monthly to DayOfMonth
// of the following month, clamped to that month's last day.
func NextExecution(r Rule, now time.Time) (time.Time, error) {
	r, err := r.Validate()
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, _ := parseClock(r.Time)
	loc, _ := time.LoadLocation(r.Timezone)

	local := now.In(loc)
	y, m, d := local.Date()
	next := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if next.After(now) {
		return next.UTC(), nil
	}

	switch r.Frequency {
	case FrequencyDaily:
		next = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	case FrequencyWeekly:
		days := (r.DayOfWeek - int(next.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		next = time.Date(y, m, d+days, hour, minute, 0, 0, loc)
	case FrequencyMonthly:
		target := time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
		day := r.DayOfMonth
		if last := daysIn(target.Year(), target.Month(), loc); day > last {
			day = last
		}
		next = time.Date(target.Year(), target.Month(), day, hour, minute, 0, 0, loc)
	}
	return next.UTC(), nil
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
