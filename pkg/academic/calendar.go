// Package academic isolates calendar math so every caller shares one
// week-numbering policy: ISO 8601 week-of-year, weeks running Monday to
// Sunday, UTC.
package academic

import "time"

// WeekOf returns the ISO 8601 week number of t.
func WeekOf(t time.Time) int {
	_, week := t.UTC().ISOWeek()
	return week
}

// YearWeekOf returns the ISO 8601 year and week number of t. The ISO year
// can differ from the calendar year around January 1st.
func YearWeekOf(t time.Time) (int, int) {
	return t.UTC().ISOWeek()
}

// WeekStart returns the Monday 00:00:00 UTC opening the given ISO week.
func WeekStart(year, week int) time.Time {
	// January 4th always falls in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := jan4.AddDate(0, 0, 1-weekday)
	return monday.AddDate(0, 0, (week-1)*7)
}

// WeekEnd returns the last instant of the given ISO week (Sunday
// 23:59:59.999999999 UTC). A submission after this instant is late.
func WeekEnd(year, week int) time.Time {
	return WeekStart(year, week).AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// IsLate reports whether submittedAt falls after the end of the week the
// submission targets, resolved against the submission's own ISO year.
func IsLate(submittedAt time.Time, weekNumber int) bool {
	year, _ := YearWeekOf(submittedAt)
	return submittedAt.UTC().After(WeekEnd(year, weekNumber))
}
