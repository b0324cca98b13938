package models

import (
	"math"
	"strings"
	"time"
)

// Status vocabulary used across the pipeline. Source statuses are free
// text, so routing decisions match on lowercase substrings while the
// delta comparator requires an exact terminal status.
var (
	completionKeywords = []string{"delivered", "complete", "completed"}
	rescheduleKeywords = []string{"rescheduled", "reschedule", "resched"}
	terminalStatuses   = map[string]struct{}{"delivered": {}, "complete": {}, "completed": {}}
)

// IsCompletedStatus reports whether a status routes the job to the archive.
func IsCompletedStatus(status string) bool {
	return containsAny(status, completionKeywords)
}

// IsTerminalStatus reports whether a status is exactly a completion
// status. Used by the delta comparator so "Delivery Scheduled" never
// counts as delivered.
func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

// IsRescheduledStatus reports whether a status counts as a reschedule
// when scoring a chain.
func IsRescheduledStatus(status string) bool {
	return containsAny(status, rescheduleKeywords)
}

func containsAny(status string, keywords []string) bool {
	s := strings.ToLower(status)
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// DateOnly truncates a timestamp to its calendar date, anchored at UTC.
// Planned dates parse at UTC midnight while reference times arrive in
// server-local zones; pinning both to one zone makes dates compare as
// dates instead of instants.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole days from a to b, rounding down.
func DaysBetween(a, b time.Time) int {
	return int(math.Floor(b.Sub(a).Hours() / 24))
}
