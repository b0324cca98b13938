package normalizer

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"example.com/dockops/services/jobtracker/internal/models"
)

// FieldMap binds canonical job fields to source column names. Callers
// feeding records from a different upstream can supply their own map
// without touching any downstream logic.
type FieldMap struct {
	JobID              string
	JobDate            string
	TimeComplete       string
	TimeArrival        string
	Status             string
	StopNumber         string
	State              string
	Carrier            string
	Driver             string
	Notification       string
	NotificationDetail string
	ProductDescription string
	ProductSerial      string
	ScanLog            string
	DeliveryScanLog    string
	PieceCount         string
	WhiteGlove         string
	Miles              string
	Market             string
	City               string
	Customer           string
	Address            string
	DateReceived       string
	CreatedTimestamp   string
	OrderNumber        string
	PriorJobID         string
	SignedBy           string
	Weight             string
	CrewRequired       string
	DriverNotes        string
	JobType            string
}

// DefaultFieldMap matches the FileMaker dock export.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		JobID:              "_kp_job_id",
		JobDate:            "job_date",
		TimeComplete:       "time_complete",
		TimeArrival:        "time_arival", // source column is misspelled
		Status:             "job_status",
		StopNumber:         "order_C1",
		State:              "_kf_state_id",
		Carrier:            "_kf_client_code_id",
		Driver:             "_kf_lead_id",
		Notification:       "_kf_notification_id",
		NotificationDetail: "notification_detail",
		ProductDescription: "description_product",
		ProductSerial:      "product_serial_number",
		ScanLog:            "box_serial_numbers_scanned_received_json",
		DeliveryScanLog:    "box_serial_numbers_scanned_delivered_json",
		PieceCount:         "piece_total",
		WhiteGlove:         "white_glove",
		Miles:              "_kf_miles_oneway_id",
		Market:             "_kf_market_id",
		City:               "_kf_city_id",
		Customer:           "Customer_C1",
		Address:            "address_C1",
		DateReceived:       "date_received",
		CreatedTimestamp:   "timestamp_create",
		OrderNumber:        "client_order_number",
		PriorJobID:         "job_reference_prior",
		SignedBy:           "signed_by",
		Weight:             "_kf_product_weight_id",
		CrewRequired:       "people_required",
		DriverNotes:        "notes_driver",
		JobType:            "job_type",
	}
}

// Date and timestamp layouts seen in the export feed.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 3:04:05 PM",
	"2006-01-02 3:04 PM",
	"2006-01-02",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006",
}

// Normalizer turns raw export rows into canonical jobs.
type Normalizer struct {
	fields FieldMap
}

// New creates a Normalizer with a custom field map.
func New(fields FieldMap) *Normalizer {
	return &Normalizer{fields: fields}
}

// NewDefault creates a Normalizer for the standard dock export.
func NewDefault() *Normalizer {
	return New(DefaultFieldMap())
}

// NormalizeBatch converts every record. Rows without a job id are
// dropped because nothing downstream can key them.
func (n *Normalizer) NormalizeBatch(records []Record) []models.Job {
	jobs := make([]models.Job, 0, len(records))
	for _, rec := range records {
		job := n.NormalizeRecord(rec)
		if job.JobID == "" {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// NormalizeRecord maps one export row into a canonical job, applying
// defaults for missing attributes and deriving the temporal metrics.
func (n *Normalizer) NormalizeRecord(rec Record) models.Job {
	f := n.fields

	job := models.Job{
		JobID:              rec.String(f.JobID),
		ProductSerial:      rec.String(f.ProductSerial),
		PriorJobID:         rec.String(f.PriorJobID),
		Status:             stringOr(rec, f.Status, "Unknown"),
		JobType:            stringOr(rec, f.JobType, "Delivery"),
		StopNumber:         rec.String(f.StopNumber),
		Customer:           rec.String(f.Customer),
		Address:            rec.String(f.Address),
		City:               rec.String(f.City),
		State:              stringOr(rec, f.State, "Unknown"),
		Market:             stringOr(rec, f.Market, "Unknown"),
		Carrier:            stringOr(rec, f.Carrier, "Unknown"),
		AssignedDriver:     rec.String(f.Driver),
		ConfirmationStatus: stringOr(rec, f.Notification, "Unknown"),
		NotificationDetail: rec.String(f.NotificationDetail),
		ProductDescription: rec.String(f.ProductDescription),
		OrderNumber:        rec.String(f.OrderNumber),
		SignedBy:           rec.String(f.SignedBy),
		DriverNotes:        rec.String(f.DriverNotes),
		WhiteGlove:         rec.Bool(f.WhiteGlove),
		PieceCount:         rec.Int(f.PieceCount, 0),
		CrewRequired:       rec.Int(f.CrewRequired, 1),
		WeightLbs:          rec.Int(f.Weight, 0),
		MilesOneway:        round1(rec.Float(f.Miles, 0)),
	}

	// A job is routed once a real driver is assigned.
	job.IsRouted = job.AssignedDriver != "" && !strings.EqualFold(job.AssignedDriver, "unknown")

	dateStr := rec.String(f.JobDate)
	job.PlannedDate = ParseTimestamp(dateStr)
	// The actual date requires both the job date and a completion time;
	// a bare completion time with no date is meaningless.
	job.ActualDate = combineDateTime(dateStr, rec.String(f.TimeComplete))
	job.ArrivalTime = combineDateTime(dateStr, rec.String(f.TimeArrival))
	job.DateReceived = ParseTimestamp(rec.String(f.DateReceived))
	job.JobCreatedAt = ParseTimestamp(rec.String(f.CreatedTimestamp))

	n.applyScans(&job, rec)
	deriveMetrics(&job)

	return job
}

func (n *Normalizer) applyScans(job *models.Job, rec Record) {
	events := ParseScanLog(rec.String(n.fields.ScanLog))
	job.ScanCount = len(events)
	if len(events) > 0 {
		last := events[len(events)-1]
		job.LastScanUser = last.Username
		job.LastScanTime = last.Timestamp
		if raw, err := json.Marshal(events); err == nil {
			job.ScanEvents = raw
		}
	}

	delivered := ParseScanLog(rec.String(n.fields.DeliveryScanLog))
	job.DeliveryScanCount = len(delivered)
	if len(delivered) > 0 {
		job.LastDeliveryScan = delivered[len(delivered)-1].Timestamp
		if raw, err := json.Marshal(delivered); err == nil {
			job.DeliveryScanEvents = raw
		}
	}
}

// deriveMetrics computes the delay, dwell and lead-time fields. Dwell
// and lead time are discarded when negative since that always means
// inconsistent source timestamps, but delay keeps its sign: early
// arrivals count as on time.
func deriveMetrics(job *models.Job) {
	if job.PlannedDate != nil && job.ActualDate != nil {
		delay := models.DaysBetween(*job.PlannedDate, *job.ActualDate)
		job.DelayDays = &delay
	}

	if job.ArrivalTime != nil && job.ActualDate != nil {
		minutes := job.ActualDate.Sub(*job.ArrivalTime).Minutes()
		if minutes >= 0 {
			dwell := math.Round(minutes*10) / 10
			job.DwellMinutes = &dwell
		}
	}

	if job.DateReceived != nil && job.PlannedDate != nil {
		lead := models.DaysBetween(*job.DateReceived, *job.PlannedDate)
		if lead >= 0 {
			job.LeadTimeDays = &lead
		}
	}
}

// ParseTimestamp parses a source date or timestamp string, returning nil
// when it is empty or matches no known layout.
func ParseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// combineDateTime joins a date string with a time-of-day string. Both
// parts must be present.
func combineDateTime(dateStr, timeStr string) *time.Time {
	if dateStr == "" || timeStr == "" {
		return nil
	}
	return ParseTimestamp(dateStr + " " + timeStr)
}

func stringOr(rec Record, key, def string) string {
	if v := rec.String(key); v != "" {
		return v
	}
	return def
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
