package anonengine

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// JitterDate redraws the day of month of an ISO date string uniformly from
// [1, daysInMonth], keeping year and month exact. Empty and non-date input
// pass through unchanged - a malformed value degrades, it never fails the row.
func JitterDate(rs RandomSource, value string) string {
	if value == "" {
		return value
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return value
	}
	year, month := parsed.Year(), parsed.Month()
	day := IntBetween(rs, 1, daysInMonth(year, month))
	return fmt.Sprintf("%04d-%02d-%02d", year, int(month), day)
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
