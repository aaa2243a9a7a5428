// Package timeutil provides calendar-day helpers for the engagement engine.
//
// All streak, goal and leaderboard logic works on civil dates: a calendar
// day in the learner-facing time zone, represented as a time.Time at 00:00
// UTC. Representing the day in UTC keeps arithmetic (AddDate, Sub) free of
// DST surprises while the zone decides where midnight falls.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the canonical YYYY-MM-DD layout.
const DateLayout = "2006-01-02"

// Day is 24 hours.
const Day = 24 * time.Hour

// LoadLocation resolves a zone name, falling back to UTC for an empty name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}

// CivilDate returns the calendar day of t in loc as 00:00 UTC.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns the instant the civil day begins in loc.
func StartOfDay(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AddDays shifts a civil date by n days.
func AddDays(day time.Time, n int) time.Time {
	return day.AddDate(0, 0, n)
}

// DaysBetween returns the number of calendar days from a to b (b - a).
// Both must be civil dates.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// IsSameDay reports whether two civil dates are equal.
func IsSameDay(a, b time.Time) bool {
	return a.Equal(b)
}

// IsWeekend checks if the civil date is a Saturday or Sunday.
func IsWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsMonday checks if the civil date is a Monday.
func IsMonday(day time.Time) bool {
	return day.Weekday() == time.Monday
}

// PreviousFriday returns the Friday on or before day.
func PreviousFriday(day time.Time) time.Time {
	offset := (int(day.Weekday()) - int(time.Friday) + 7) % 7
	return AddDays(day, -offset)
}

// ParseDate parses YYYY-MM-DD into a civil date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// ParseInstant accepts either an RFC3339 timestamp or a YYYY-MM-DD date.
// A bare date is interpreted as the end of that day in loc so that every
// completion recorded on it counts.
func ParseInstant(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	day, err := ParseDate(value)
	if err != nil {
		return time.Time{}, err
	}
	return StartOfDay(day, loc).Add(Day - time.Second), nil
}

// FormatDate formats a civil date as YYYY-MM-DD.
func FormatDate(day time.Time) string {
	return day.Format(DateLayout)
}
