package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseScanLogKeepsDocumentOrder(t *testing.T) {
	raw := `{
		"BX-9001": {"username": "jdoe", "timestamp": "1/14/2026 9:15:22 AM", "manual": "0"},
		"BX-9002": {"username": "asmith", "timestamp": "1/14/2026 9:16:07 AM", "manual": "1"},
		"BX-9003": {"username": "asmith", "timestamp": "1/14/2026 9:16:41 AM"}
	}`

	events := ParseScanLog(raw)
	require.Len(t, events, 3)
	require.Equal(t, "BX-9001", events[0].SerialNumber)
	require.Equal(t, "BX-9002", events[1].SerialNumber)
	require.Equal(t, "BX-9003", events[2].SerialNumber)

	require.Equal(t, "jdoe", events[0].Username)
	require.False(t, events[0].Manual)
	require.True(t, events[1].Manual)

	require.NotNil(t, events[0].Timestamp)
	require.Equal(t, time.Date(2026, 1, 14, 9, 15, 22, 0, time.UTC), *events[0].Timestamp)
}

func TestParseScanLogUsernameDefaults(t *testing.T) {
	events := ParseScanLog(`{"BX-1": {"timestamp": "1/14/2026 9:15:22 AM"}, "BX-2": {"username": ""}}`)
	require.Len(t, events, 2)

	// Missing key defaults, present-but-empty value does not.
	require.Equal(t, "Unknown", events[0].Username)
	require.Equal(t, "", events[1].Username)
	require.Nil(t, events[1].Timestamp)
}

func TestParseScanLogIsoTimestamps(t *testing.T) {
	events := ParseScanLog(`{"BX-1": {"username": "jdoe", "timestamp": "2026-01-14T09:15:22Z"}}`)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Timestamp)
	require.Equal(t, 2026, events[0].Timestamp.Year())
}

func TestParseScanLogMalformedInput(t *testing.T) {
	require.Nil(t, ParseScanLog(""))
	require.Nil(t, ParseScanLog("NaN"))
	require.Nil(t, ParseScanLog("null"))
	require.Nil(t, ParseScanLog(`["not", "an", "object"]`))
	require.Nil(t, ParseScanLog(`{"BX-1": {"username": "jdoe"`))
	require.Nil(t, ParseScanLog("plain text"))
}

func TestParseScanLogCoordinates(t *testing.T) {
	events := ParseScanLog(`{"BX-1": {"username": "jdoe", "latitude": "30.2672", "longitude": "-97.7431"}}`)
	require.Len(t, events, 1)
	require.Equal(t, "30.2672", events[0].Latitude)
	require.Equal(t, "-97.7431", events[0].Longitude)
}
