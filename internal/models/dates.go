package models

import "time"

// DateLayout is the wire and storage format of calendar days.
const DateLayout = "2006-01-02"

// DayOf truncates t to the start of its UTC calendar day.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate formats the UTC calendar day of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD calendar day as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysInRange returns every UTC calendar day in [start, end], inclusive and
// chronological. It returns nil when start is after end.
func DaysInRange(start, end time.Time) []string {
	start, end = DayOf(start), DayOf(end)
	if start.After(end) {
		return nil
	}
	days := make([]string, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days
}

// RangeBounds converts an inclusive day range into the half-open instant
// range [from, until) used for timestamp scans.
func RangeBounds(start, end time.Time) (from, until time.Time) {
	return DayOf(start), DayOf(end).AddDate(0, 0, 1)
}
