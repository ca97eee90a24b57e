package util

import (
	"time"

	"marketpulse/internal/domain"
)

// Day is 24 hours, the spacing of consecutive daily bars.
const Day = 24 * time.Hour

// Calendar resolves "today" in the reporting calendar of the providers,
// which date every daily bar at UTC midnight.
type Calendar struct {
	now func() time.Time
}

// NewCalendar returns a Calendar reading the wall clock.
func NewCalendar() *Calendar {
	return &Calendar{now: time.Now}
}

// FixedCalendar returns a Calendar frozen at t. Used by tests and the CLI's
// -asof flag.
func FixedCalendar(t time.Time) *Calendar {
	return &Calendar{now: func() time.Time { return t }}
}

// Now returns the current instant.
func (c *Calendar) Now() time.Time { return c.now() }

// Today returns the current UTC date at midnight.
func (c *Calendar) Today() time.Time {
	return Midnight(c.now())
}

// Midnight truncates t to midnight of its UTC date.
func Midnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate formats t as a bar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

// YearStart returns January 1 of t's UTC year.
func YearStart(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}
