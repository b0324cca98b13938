package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeRecordFullRow(t *testing.T) {
	rec := Record{
		"_kp_job_id":            float64(1024189),
		"job_date":              "2026-02-10",
		"time_complete":         "14:30:00",
		"time_arival":           "13:45:00",
		"job_status":            "Delivery Complete",
		"order_C1":              "2",
		"_kf_state_id":          "TX",
		"_kf_client_code_id":    "Metro Freight",
		"_kf_lead_id":           "D. Harris",
		"_kf_notification_id":   "Confirmed",
		"notification_detail":   "Called ahead",
		"description_product":   "Sectional Sofa",
		"product_serial_number": "SN-774410",
		"piece_total":           "3",
		"white_glove":           "1",
		"_kf_miles_oneway_id":   float64(142.35),
		"_kf_market_id":         "Austin",
		"_kf_city_id":           "Round Rock",
		"Customer_C1":           "B. Castillo",
		"address_C1":            "114 Lamar Blvd",
		"date_received":         "2026-02-03",
		"timestamp_create":      "2026-02-01 08:15:00",
		"client_order_number":   "ORD-55102",
		"job_reference_prior":   "1019777",
		"signed_by":             "B. Castillo",
		"_kf_product_weight_id": float64(850),
		"people_required":       float64(2),
		"notes_driver":          "Gate code 4411",
		"job_type":              "Delivery",
	}

	job := NewDefault().NormalizeRecord(rec)

	require.Equal(t, "1024189", job.JobID)
	require.Equal(t, "SN-774410", job.ProductSerial)
	require.Equal(t, "1019777", job.PriorJobID)
	require.Equal(t, "Delivery Complete", job.Status)
	require.Equal(t, "TX", job.State)
	require.Equal(t, "Austin", job.Market)
	require.Equal(t, "Metro Freight", job.Carrier)
	require.Equal(t, "D. Harris", job.AssignedDriver)
	require.True(t, job.IsRouted)
	require.True(t, job.WhiteGlove)
	require.Equal(t, 3, job.PieceCount)
	require.Equal(t, 2, job.CrewRequired)
	require.Equal(t, 850, job.WeightLbs)
	require.Equal(t, 142.4, job.MilesOneway)

	require.NotNil(t, job.PlannedDate)
	require.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), *job.PlannedDate)
	require.NotNil(t, job.ActualDate)
	require.Equal(t, time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC), *job.ActualDate)
	require.NotNil(t, job.ArrivalTime)

	// Arrived 13:45, completed 14:30.
	require.NotNil(t, job.DwellMinutes)
	require.Equal(t, 45.0, *job.DwellMinutes)

	// Received Feb 3, planned Feb 10.
	require.NotNil(t, job.LeadTimeDays)
	require.Equal(t, 7, *job.LeadTimeDays)

	// Completed on the planned day.
	require.NotNil(t, job.DelayDays)
	require.Equal(t, 0, *job.DelayDays)
}

func TestNormalizeRecordDefaults(t *testing.T) {
	job := NewDefault().NormalizeRecord(Record{"_kp_job_id": "77"})

	require.Equal(t, "77", job.JobID)
	require.Equal(t, "Unknown", job.Status)
	require.Equal(t, "Unknown", job.State)
	require.Equal(t, "Unknown", job.Market)
	require.Equal(t, "Unknown", job.Carrier)
	require.Equal(t, "Unknown", job.ConfirmationStatus)
	require.Equal(t, "Delivery", job.JobType)
	require.Equal(t, 1, job.CrewRequired)
	require.False(t, job.IsRouted)
	require.Nil(t, job.PlannedDate)
	require.Nil(t, job.ActualDate)
	require.Nil(t, job.DelayDays)
	require.Nil(t, job.DwellMinutes)
	require.Nil(t, job.LeadTimeDays)
}

func TestNormalizeRecordUnknownDriverIsNotRouted(t *testing.T) {
	job := NewDefault().NormalizeRecord(Record{
		"_kp_job_id":   "78",
		"_kf_lead_id":  "unknown",
		"_kf_state_id": "GA",
	})
	require.False(t, job.IsRouted)
}

func TestNormalizeRecordCompletionTimeNeedsDate(t *testing.T) {
	job := NewDefault().NormalizeRecord(Record{
		"_kp_job_id":    "79",
		"time_complete": "09:00:00",
	})
	require.Nil(t, job.ActualDate)
}

func TestNormalizeRecordTwelveHourCompletionTime(t *testing.T) {
	// FileMaker emits both clock forms depending on the layout.
	job := NewDefault().NormalizeRecord(Record{
		"_kp_job_id":    "82",
		"job_date":      "2026-01-14",
		"time_complete": "9:15:22 AM",
	})
	require.NotNil(t, job.ActualDate)
	require.Equal(t, time.Date(2026, 1, 14, 9, 15, 22, 0, time.UTC), *job.ActualDate)

	evening := NewDefault().NormalizeRecord(Record{
		"_kp_job_id":    "83",
		"job_date":      "2026-01-14",
		"time_complete": "4:30 PM",
	})
	require.NotNil(t, evening.ActualDate)
	require.Equal(t, 16, evening.ActualDate.Hour())
}

func TestNormalizeRecordNegativeDwellDiscarded(t *testing.T) {
	// Arrival after completion means the source timestamps are
	// inconsistent.
	job := NewDefault().NormalizeRecord(Record{
		"_kp_job_id":    "80",
		"job_date":      "2026-02-10",
		"time_complete": "09:00:00",
		"time_arival":   "11:00:00",
	})
	require.NotNil(t, job.ActualDate)
	require.Nil(t, job.DwellMinutes)
}

func TestNormalizeRecordNegativeLeadTimeDiscarded(t *testing.T) {
	job := NewDefault().NormalizeRecord(Record{
		"_kp_job_id":    "81",
		"job_date":      "2026-02-10",
		"date_received": "2026-02-12",
	})
	require.Nil(t, job.LeadTimeDays)
}

func TestNormalizeRecordScanLogs(t *testing.T) {
	job := NewDefault().NormalizeRecord(Record{
		"_kp_job_id": "82",
		"box_serial_numbers_scanned_received_json": `{
			"BX-1": {"username": "jdoe", "timestamp": "1/14/2026 9:15:22 AM"},
			"BX-2": {"username": "asmith", "timestamp": "1/14/2026 9:16:07 AM"}
		}`,
		"box_serial_numbers_scanned_delivered_json": `{
			"BX-1": {"username": "jdoe", "timestamp": "1/15/2026 2:03:40 PM"}
		}`,
	})

	require.Equal(t, 2, job.ScanCount)
	require.Equal(t, "asmith", job.LastScanUser)
	require.NotNil(t, job.LastScanTime)
	require.NotEmpty(t, job.ScanEvents)

	require.Equal(t, 1, job.DeliveryScanCount)
	require.NotNil(t, job.LastDeliveryScan)
	require.NotEmpty(t, job.DeliveryScanEvents)
}

func TestNormalizeBatchDropsRowsWithoutID(t *testing.T) {
	jobs := NewDefault().NormalizeBatch([]Record{
		{"job_status": "Delivery Scheduled"},
		{"_kp_job_id": "NaN"},
		{"_kp_job_id": "90", "job_status": "Delivery Scheduled"},
	})
	require.Len(t, jobs, 1)
	require.Equal(t, "90", jobs[0].JobID)
}

func TestParseTimestampLayouts(t *testing.T) {
	iso := ParseTimestamp("2026-02-10")
	require.NotNil(t, iso)
	require.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), *iso)

	us := ParseTimestamp("2/10/2026 3:04:05 PM")
	require.NotNil(t, us)
	require.Equal(t, 15, us.Hour())

	usDate := ParseTimestamp("2/10/2026")
	require.NotNil(t, usDate)
	require.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), *usDate)

	require.Nil(t, ParseTimestamp(""))
	require.Nil(t, ParseTimestamp("next tuesday"))
}
