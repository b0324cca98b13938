package normalizer

import (
	"encoding/json"
	"strings"
	"time"

	"example.com/dockops/services/jobtracker/internal/models"
)

// Scan timestamps come from handheld devices in US short form, but a few
// sources emit ISO strings.
var scanTimeLayouts = []string{
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseScanLog decodes the embedded scan-log JSON of one export row.
// The log is an object keyed by box serial number and the most recent
// scan is the last key in document order, so the decoder walks tokens
// instead of unmarshalling into a map. A malformed log yields nil, never
// an error; a bad scan log must not sink the whole row.
func ParseScanLog(raw string) []models.ScanEvent {
	raw = strings.TrimSpace(raw)
	if raw == "" || isNullToken(raw) {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var events []models.ScanEvent
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		serial, ok := keyTok.(string)
		if !ok {
			return nil
		}

		var detail map[string]interface{}
		if err := dec.Decode(&detail); err != nil {
			return nil
		}
		events = append(events, scanEventFromDetail(serial, detail))
	}

	return events
}

func scanEventFromDetail(serial string, detail Record) models.ScanEvent {
	event := models.ScanEvent{
		SerialNumber: serial,
		Username:     "Unknown",
		Manual:       detail.Bool("manual"),
		Latitude:     detail.String("latitude"),
		Longitude:    detail.String("longitude"),
	}

	// An empty username is kept as-is; only a missing key defaults.
	if _, ok := detail["username"]; ok {
		event.Username = detail.String("username")
	}

	event.Timestamp = parseScanTime(detail.String("timestamp"))

	return event
}

func parseScanTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range scanTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
