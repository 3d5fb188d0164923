// Package schedule is the pure computation core of the scheduler: clock
// arithmetic, weekly availability intersection, conflict filtering, slot
// scoring and recurring series expansion. It performs no I/O; callers supply
// pre-fetched availability and bookings.
//
// Day-of-week values inside this package always use the Monday-first
// convention (0 = Monday ... 6 = Sunday). Stored records use Sunday-first
// (0 = Sunday, the same numbering as time.Weekday) and must be converted with
// ToUIDay / ToPersistenceDay at the storage boundary.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the calendar-day wire format.
	DateLayout = "2006-01-02"
	// ClockLayout is the zero-padded 24h wall clock format used for start/end times.
	ClockLayout = "15:04"

	minutesPerDay = 24 * 60
)

var (
	ErrInvalidClock = errors.New("time must be HH:MM in 24h format")
	ErrPastMidnight = errors.New("time range crosses midnight")
)

// Overlaps reports whether the half-open intervals [startA, endA) and
// [startB, endB) intersect. Inputs are zero-padded "HH:MM" strings, which
// order lexically the same way they order in time.
func Overlaps(startA, endA, startB, endB string) bool {
	return startA < endB && startB < endA
}

// ParseClock returns the minutes since midnight for an "HH:MM" value.
func ParseClock(clock string) (int, error) {
	if len(clock) != len(ClockLayout) || clock[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, clock)
	}
	h, err := strconv.Atoi(clock[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, clock)
	}
	m, err := strconv.Atoi(clock[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, clock)
	}
	return h*60 + m, nil
}

// ValidClock reports whether clock parses as "HH:MM".
func ValidClock(clock string) bool {
	_, err := ParseClock(clock)
	return err == nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// HourClock renders a whole hour as "HH:00".
func HourClock(hour int) string {
	return FormatClock(hour * 60)
}

// HourOf returns the hour component of an "HH:MM" value. Minutes are
// discarded: slot discovery works at one-hour granularity. Malformed input
// yields 0.
func HourOf(clock string) int {
	head, _, _ := strings.Cut(clock, ":")
	h, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return h
}

// AddMinutes returns clock shifted forward by minutes. The result must stay
// within the same calendar day.
func AddMinutes(clock string, minutes int) (string, error) {
	start, err := ParseClock(clock)
	if err != nil {
		return "", err
	}
	end := start + minutes
	if end >= minutesPerDay || end < 0 {
		return "", fmt.Errorf("%w: %s + %dm", ErrPastMidnight, clock, minutes)
	}
	return FormatClock(end), nil
}

// MinutesBetween returns end - start in minutes.
func MinutesBetween(start, end string) (int, error) {
	s, err := ParseClock(start)
	if err != nil {
		return 0, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return 0, err
	}
	return e - s, nil
}

// ToPersistenceDay converts a Monday-first day index to the Sunday-first
// index used by stored records.
func ToPersistenceDay(uiDay int) int {
	return (uiDay + 1) % 7
}

// ToUIDay converts a stored Sunday-first day index to the Monday-first index
// used everywhere inside the engine.
func ToUIDay(persistenceDay int) int {
	return (persistenceDay + 6) % 7
}

// ValidDay reports whether day is a valid index in either convention.
func ValidDay(day int) bool {
	return day >= 0 && day <= 6
}

// DayIndex returns the Monday-first day index of t.
func DayIndex(t time.Time) int {
	return ToUIDay(int(t.Weekday()))
}

// DateOf truncates t to its calendar day at midnight UTC. Appointment dates
// carry no timezone; every date in the engine is normalised through here.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a "YYYY-MM-DD" calendar day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

// DaysBetween returns the whole number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
