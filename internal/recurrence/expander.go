// Package recurrence expands weekly recurrence rules into concrete session
// start times. It performs no I/O.
//
// Day arithmetic is done on civil dates: the walk counts calendar days, not
// elapsed 24 hour periods, so a DST transition never shifts a week boundary.
// Each start instant is built with time.Date in the rule's location, which
// keeps the wall clock time stable across transitions. A time of day that
// does not exist on a transition day is normalized by the time package.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database for hosts without one

	"github.com/tkaykim/moveit-sub006/internal/model"
)

// DateLayout is the wire and storage format of civil dates.
const DateLayout = "2006-01-02"

var (
	ErrInvalidInterval  = errors.New("interval weeks must be at least 1")
	ErrInvalidTimeOfDay = errors.New("time of day must be formatted HH:mm")
	ErrInvalidWeekday   = errors.New("weekday must be between 0 (Sunday) and 6 (Saturday)")
	ErrUnknownTimezone  = errors.New("unknown timezone")
	ErrInvalidDate      = errors.New("date must be formatted YYYY-MM-DD")
)

// Expand returns the ordered start times produced by rule. The start date's
// week is always week 0; a day is included when its week number is a
// multiple of IntervalWeeks and its weekday is selected. Both endpoints are
// inclusive. An empty weekday set or an end date before the start date yields
// an empty result.
func Expand(rule model.RecurrenceRule) ([]time.Time, error) {
	if rule.IntervalWeeks < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidInterval, rule.IntervalWeeks)
	}
	hour, minute, err := ParseTimeOfDay(rule.TimeOfDay)
	if err != nil {
		return nil, err
	}
	loc, err := LoadLocation(rule.Timezone)
	if err != nil {
		return nil, err
	}
	selected := make(map[time.Weekday]bool, len(rule.DaysOfWeek))
	for _, wd := range rule.DaysOfWeek {
		if wd < time.Sunday || wd > time.Saturday {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidWeekday, wd)
		}
		selected[wd] = true
	}
	out := []time.Time{}
	if len(selected) == 0 {
		return out, nil
	}

	start := civil(rule.StartDate)
	end := civil(rule.EndDate)
	for day, n := start, 0; !day.After(end); day, n = day.AddDate(0, 0, 1), n+1 {
		if (n/7)%rule.IntervalWeeks != 0 || !selected[day.Weekday()] {
			continue
		}
		y, m, d := day.Date()
		out = append(out, time.Date(y, m, d, hour, minute, 0, 0, loc))
	}
	return out, nil
}

// civil drops the clock and zone of t, keeping its calendar date as UTC
// midnight. UTC has no transitions, so AddDate steps exactly one day.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateIn returns the civil date of instant t as observed in loc, carried as
// UTC midnight so that dates from different sources compare directly.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return civil(t.In(loc))
}

// AddDays moves a civil date by n calendar days.
func AddDays(date time.Time, n int) time.Time {
	return civil(date).AddDate(0, 0, n)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ParseTimeOfDay parses "HH:mm" on a 24 hour clock.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	hour, errH := strconv.Atoi(parts[0])
	minute, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return hour, minute, nil
}

// LoadLocation resolves an IANA zone name. The empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimezone, name)
	}
	return loc, nil
}

// FormatDays encodes a weekday set as "0,2,4" for storage.
func FormatDays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

// ParseDays decodes the storage form written by FormatDays.
func ParseDays(s string) ([]time.Weekday, error) {
	out := []time.Weekday{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, p)
		}
		out = append(out, time.Weekday(n))
	}
	return out, nil
}
