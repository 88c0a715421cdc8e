// Package calendar holds the one definition of a calendar day used across
// cuptrack: an ISO "YYYY-MM-DD" string, compared lexicographically, with
// "today" taken in the configured location.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the ISO calendar-date layout.
const Layout = "2006-01-02"

// Now is replaced in tests.
var Now = time.Now

// Today returns the current calendar day in loc. A nil loc means UTC.
func Today(loc *time.Location) string {
	return DayOf(Now(), loc)
}

// DayOf returns the calendar day t falls on in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(Layout)
}

// Parse parses an ISO calendar date. It rejects anything that does not
// round-trip exactly, such as "2026-2-1" or "2026-02-30".
func Parse(day string) (time.Time, error) {
	t, err := time.Parse(Layout, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", day)
	}
	if t.Format(Layout) != day {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", day)
	}
	return t, nil
}

// Valid reports whether day is a well-formed ISO calendar date.
func Valid(day string) bool {
	_, err := Parse(day)
	return err == nil
}

// AddDays returns day shifted by n days.
func AddDays(day string, n int) (string, error) {
	t, err := Parse(day)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(Layout), nil
}
