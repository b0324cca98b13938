package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsCompletedStatus(t *testing.T) {
	require.True(t, IsCompletedStatus("Delivered"))
	require.True(t, IsCompletedStatus("Delivery Complete"))
	require.True(t, IsCompletedStatus("COMPLETED - signed"))
	require.False(t, IsCompletedStatus("Delivery Scheduled"))
	require.False(t, IsCompletedStatus("Rescheduled"))
	require.False(t, IsCompletedStatus(""))
}

func TestIsTerminalStatusIsExact(t *testing.T) {
	require.True(t, IsTerminalStatus("Delivered"))
	require.True(t, IsTerminalStatus(" delivered "))
	require.True(t, IsTerminalStatus("Complete"))
	require.True(t, IsTerminalStatus("completed"))

	// Substring matches are not terminal.
	require.False(t, IsTerminalStatus("Delivery Complete"))
	require.False(t, IsTerminalStatus("Delivered - Left at Dock"))
	require.False(t, IsTerminalStatus(""))
}

func TestIsRescheduledStatus(t *testing.T) {
	require.True(t, IsRescheduledStatus("Rescheduled"))
	require.True(t, IsRescheduledStatus("Reschedule per customer"))
	require.True(t, IsRescheduledStatus("Resched 2/20"))
	require.False(t, IsRescheduledStatus("Delivery Scheduled"))
}

func TestDateOnly(t *testing.T) {
	stamp := time.Date(2026, 2, 16, 14, 30, 45, 999, time.UTC)
	require.Equal(t, time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC), DateOnly(stamp))
}

func TestDateOnlyNormalizesZones(t *testing.T) {
	utc := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	denver := time.Date(2026, 2, 16, 9, 0, 0, 0, time.FixedZone("MST", -7*3600))
	tokyo := time.Date(2026, 2, 16, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))

	// The same calendar date in any zone truncates to the same instant.
	require.True(t, DateOnly(utc).Equal(DateOnly(denver)))
	require.True(t, DateOnly(utc).Equal(DateOnly(tokyo)))
	require.False(t, DateOnly(denver).Before(DateOnly(utc)))
	require.False(t, DateOnly(utc).Before(DateOnly(denver)))
}

func TestDaysBetweenRoundsDown(t *testing.T) {
	a := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	require.Equal(t, 0, DaysBetween(a, a.Add(14*time.Hour)))
	require.Equal(t, 1, DaysBetween(a, a.Add(38*time.Hour)))
	require.Equal(t, 6, DaysBetween(a, time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)))

	// Early is negative, never rounded toward zero.
	require.Equal(t, -1, DaysBetween(a, a.Add(-14*time.Hour)))
	require.Equal(t, -2, DaysBetween(a, a.Add(-38*time.Hour)))
}
