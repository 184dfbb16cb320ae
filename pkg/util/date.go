package util

import "time"

// DayLayout is the wire and key format for trading days.
const DayLayout = "2006-01-02"

// FormatDay renders the calendar date of t without converting its location.
func FormatDay(t time.Time) string { return t.Format(DayLayout) }

// ParseDay parses a YYYY-MM-DD string as midnight UTC. Returns (t, true) if it worked.
func ParseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
