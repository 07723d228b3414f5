package models

import (
	"fmt"
	"time"
)

// DayLayout is the wire and storage format of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar day in UTC, formatted YYYY-MM-DD. The zero value means "unset".
// Lexical order of valid days equals chronological order.
type Day string

// ParseDay parses s as YYYY-MM-DD.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(t.Format(DayLayout)), nil
}

// DayOf returns the UTC calendar day of t.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format(DayLayout))
}

// Today returns the current UTC day.
func Today() Day {
	return DayOf(time.Now())
}

// Valid reports whether d is a well-formed day.
func (d Day) Valid() bool {
	if d == "" {
		return false
	}
	_, err := time.Parse(DayLayout, string(d))
	return err == nil
}

// Time returns midnight UTC of d. Invalid days return the zero time.
func (d Day) Time() time.Time {
	t, err := time.Parse(DayLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns d shifted by n days.
func (d Day) AddDays(n int) Day {
	return DayOf(d.Time().AddDate(0, 0, n))
}

// String implements fmt.Stringer.
func (d Day) String() string {
	return string(d)
}

// Within reports whether d falls in the inclusive range [from, to]. Empty bounds are open.
func (d Day) Within(from, to Day) bool {
	if from != "" && d < from {
		return false
	}
	if to != "" && d > to {
		return false
	}
	return true
}
