package models

import (
	"math"
	"time"
)

const DateLayout = "2006-01-02"

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD as a UTC calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysBetween returns ceil((end - start) in days).
func DaysBetween(start, end time.Time) int {
	return int(math.Ceil(end.Sub(start).Hours() / 24))
}

// EachDay enumerates the calendar days of [start, end).
func EachDay(start, end time.Time) []time.Time {
	start, end = DateOnly(start), DateOnly(end)
	var days []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Overlaps applies half-open interval semantics: [aStart, aEnd) and [bStart, bEnd).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
