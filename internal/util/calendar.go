package util

import "time"

// SessionDays returns the UTC midnight of every weekday in [start, end).
func SessionDays(start, end time.Time) []time.Time {
	day := truncateDay(start)
	var days []time.Time
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		if IsWeekday(day) {
			days = append(days, day)
		}
	}
	return days
}

// IsWeekday reports whether t falls on Monday through Friday in UTC.
func IsWeekday(t time.Time) bool {
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
