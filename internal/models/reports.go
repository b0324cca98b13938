package models

import (
	"time"

	"github.com/google/uuid"
)

// DeltaEntry is one job surfaced by the snapshot comparator. Only the
// fields relevant to its category are populated.
type DeltaEntry struct {
	JobID       string     `json:"job_id"`
	Carrier     string     `json:"carrier,omitempty"`
	Market      string     `json:"market,omitempty"`
	Status      string     `json:"status,omitempty"`
	PlannedDate *time.Time `json:"planned_date,omitempty"`
	ActualDate  *time.Time `json:"actual_date,omitempty"`
	DelayDays   *int       `json:"delay_days,omitempty"`
	DaysOverdue *int       `json:"days_overdue,omitempty"`
}

// DeltaSet holds everything that changed between two consecutive
// snapshots. It is rebuilt on every import and never persisted.
type DeltaSet struct {
	NewJobs       []DeltaEntry `json:"new_jobs"`
	NewArrivals   []DeltaEntry `json:"new_arrivals"`
	NewDeliveries []DeltaEntry `json:"new_deliveries"`
	NewOverdue    []DeltaEntry `json:"new_overdue"`
}

// NewDeltaSet returns an empty delta set with non-nil slices so that it
// serializes as empty lists rather than nulls.
func NewDeltaSet() DeltaSet {
	return DeltaSet{
		NewJobs:       []DeltaEntry{},
		NewArrivals:   []DeltaEntry{},
		NewDeliveries: []DeltaEntry{},
		NewOverdue:    []DeltaEntry{},
	}
}

// Total counts every entry across the four categories.
func (d DeltaSet) Total() int {
	return len(d.NewJobs) + len(d.NewArrivals) + len(d.NewDeliveries) + len(d.NewOverdue)
}

// ChainStats summarizes one chain maintenance pass.
type ChainStats struct {
	ChainsProcessed  int `json:"chains_processed"`
	NewChainsCreated int `json:"new_chains_created"`
	JobsLinked       int `json:"jobs_linked"`
	Errors           int `json:"errors"`
}

// ChainAlert flags a chain whose reschedule count or accumulated delay
// crossed an operational threshold.
type ChainAlert struct {
	ChainID         uuid.UUID `json:"chain_id"`
	ProductSerial   string    `json:"product_serial"`
	Carrier         string    `json:"carrier"`
	RescheduleCount int       `json:"reschedule_count"`
	TotalDelayDays  int       `json:"total_delay_days"`
	CurrentStatus   string    `json:"current_status"`
	CurrentJobID    string    `json:"current_job_id"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
}

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// DriverKPI is computed on demand from the current active snapshot.
type DriverKPI struct {
	Driver        string   `json:"driver"`
	TotalJobs     int      `json:"total_jobs"`
	ArrivedCount  int      `json:"arrived_count"`
	OnTimeRate    float64  `json:"on_time_rate"`
	AvgDelayDays  float64  `json:"avg_delay_days"`
	OverdueCount  int      `json:"overdue_count"`
	SignatureRate float64  `json:"signature_rate"`
	Markets       []string `json:"markets"`
}

// KPITrend compares one metric across the two most recent snapshots.
type KPITrend struct {
	Metric     string  `json:"metric"`
	Current    float64 `json:"current"`
	Previous   float64 `json:"previous"`
	Direction  string  `json:"direction"`
	Assessment string  `json:"assessment"`
}

// Trend directions and assessments.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"

	TrendImproved = "improved"
	TrendWorsened = "worsened"
)

// StageDwell aggregates time spent between two consecutive statuses
// across all recorded transitions.
type StageDwell struct {
	FromStatus  string  `json:"from_status"`
	ToStatus    string  `json:"to_status"`
	Transitions int     `json:"transitions"`
	AvgMinutes  float64 `json:"avg_minutes"`
}

// CarrierArchiveStats is one carrier's slice of the archive.
type CarrierArchiveStats struct {
	Count        int     `json:"count"`
	OnTimeRate   float64 `json:"on_time_rate"`
	AvgDelayDays float64 `json:"avg_delay_days"`
}

// ArchiveStats summarizes completed jobs for historical reporting.
type ArchiveStats struct {
	TotalCompleted int                            `json:"total_completed"`
	OnTimeRate     float64                        `json:"on_time_rate"`
	AvgDelayDays   float64                        `json:"avg_delay_days"`
	Carriers       map[string]CarrierArchiveStats `json:"carriers"`
}

// RunSummary is the end-of-run report for one import. It is logged,
// cached and published to the bus.
type RunSummary struct {
	RunAt               time.Time `json:"run_at"`
	ReportDate          time.Time `json:"report_date"`
	Source              string    `json:"source,omitempty"`
	RecordsRead         int       `json:"records_read"`
	DuplicatesRemoved   int       `json:"duplicates_removed"`
	ActiveJobs          int       `json:"active_jobs"`
	StaleRemoved        int       `json:"stale_removed"`
	JobsArchived        int       `json:"jobs_archived"`
	NewJobs             int       `json:"new_jobs"`
	NewArrivals         int       `json:"new_arrivals"`
	NewDeliveries       int       `json:"new_deliveries"`
	NewOverdue          int       `json:"new_overdue"`
	TransitionsRecorded int       `json:"transitions_recorded"`
	ChainsProcessed     int       `json:"chains_processed"`
	ChainsCreated       int       `json:"chains_created"`
	JobsLinked          int       `json:"jobs_linked"`
	CriticalAlerts      int       `json:"critical_alerts"`
	WarningAlerts       int       `json:"warning_alerts"`
	Errors              int       `json:"errors"`
	DurationMs          int64     `json:"duration_ms"`
}
