package automation

import (
	"fmt"
	"time"

	"github.com/verdanthq/verdant-core/internal/settings"
)

// nextFertilizerDue computes the first scheduled fertilizer run strictly
// after the given instant.
//
// The trigger fires when the due instant has elapsed rather than on an
// exact minute match, so a delayed cycle cannot miss its window. Monthly
// schedules clamp the configured day to the length of the target month
// (day 31 in April runs on the 30th).
func nextFertilizerDue(prefs *settings.Preferences, after time.Time) time.Time {
	switch prefs.FertilizerFrequency {
	case settings.Daily:
		due := atTime(after, prefs.FertilizerHour, prefs.FertilizerMinute)
		if !due.After(after) {
			due = due.AddDate(0, 0, 1)
		}
		return due

	case settings.Weekly:
		due := atTime(after, prefs.FertilizerHour, prefs.FertilizerMinute)
		daysAhead := (prefs.FertilizerDayOfWeek - int(due.Weekday()) + 7) % 7
		due = due.AddDate(0, 0, daysAhead)
		if !due.After(after) {
			due = due.AddDate(0, 0, 7)
		}
		return due

	case settings.Monthly:
		due := monthlyOccurrence(after.Year(), after.Month(), prefs, after.Location())
		if !due.After(after) {
			year, month := after.Year(), after.Month()+1
			due = monthlyOccurrence(year, month, prefs, after.Location())
		}
		return due
	}

	// Unknown frequency never fires; Validate rejects it upstream.
	return time.Time{}
}

// atTime returns t's date with the given wall-clock time.
func atTime(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

// monthlyOccurrence returns the scheduled instant within the given month,
// clamping the configured day to the month's length.
func monthlyOccurrence(year int, month time.Month, prefs *settings.Preferences, loc *time.Location) time.Time {
	day := prefs.FertilizerDayOfMonth
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, prefs.FertilizerHour, prefs.FertilizerMinute, 0, 0, loc)
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// scheduleKey fingerprints the fertilizer schedule fields. When the key
// changes between cycles the next-due instant is recomputed.
func scheduleKey(prefs *settings.Preferences) string {
	return fmt.Sprintf("%s/%02d:%02d/%d/%d",
		prefs.FertilizerFrequency,
		prefs.FertilizerHour, prefs.FertilizerMinute,
		prefs.FertilizerDayOfWeek, prefs.FertilizerDayOfMonth)
}
