package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Job is the canonical delivery job record built from one export row.
// Exactly one row per job_id is active at a time; completed jobs move
// to the archive.
type Job struct {
	JobID              string     `gorm:"column:job_id;primaryKey;size:64" json:"job_id"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	ProductSerial      string     `gorm:"size:128;index" json:"product_serial"`
	PriorJobID         string     `gorm:"size:64" json:"prior_job_id"`
	Status             string     `gorm:"index" json:"status"`
	JobType            string     `json:"job_type"`
	StopNumber         string     `json:"stop_number"`
	Customer           string     `json:"customer"`
	Address            string     `json:"address"`
	City               string     `json:"city"`
	State              string     `gorm:"index" json:"state"`
	Market             string     `gorm:"index" json:"market"`
	Carrier            string     `gorm:"index" json:"carrier"`
	AssignedDriver     string     `json:"assigned_driver"`
	IsRouted           bool       `json:"is_routed"`
	ConfirmationStatus string     `json:"confirmation_status"`
	NotificationDetail string     `json:"notification_detail"`
	ProductDescription string     `json:"product_description"`
	OrderNumber        string     `json:"order_number"`
	SignedBy           string     `json:"signed_by"`
	DriverNotes        string     `json:"driver_notes"`
	WhiteGlove         bool       `json:"white_glove"`
	PieceCount         int        `json:"piece_count"`
	CrewRequired       int        `gorm:"default:1" json:"crew_required"`
	WeightLbs          int        `json:"weight_lbs"`
	MilesOneway        float64    `json:"miles_oneway"`
	PlannedDate        *time.Time `gorm:"index" json:"planned_date"`
	ActualDate         *time.Time `json:"actual_date"`
	ArrivalTime        *time.Time `json:"arrival_time"`
	DateReceived       *time.Time `json:"date_received"`
	JobCreatedAt       *time.Time `json:"job_created_at"`
	DelayDays          *int       `json:"delay_days"`
	DwellMinutes       *float64   `json:"dwell_minutes"`
	LeadTimeDays       *int       `json:"lead_time_days"`
	ScanCount          int        `json:"scan_count"`
	LastScanUser       string     `json:"last_scan_user"`
	LastScanTime       *time.Time `json:"last_scan_time"`
	ScanEvents         []byte     `gorm:"type:jsonb" json:"scan_events,omitempty"`
	DeliveryScanCount  int        `json:"delivery_scan_count"`
	LastDeliveryScan   *time.Time `json:"last_delivery_scan"`
	DeliveryScanEvents []byte     `gorm:"type:jsonb" json:"delivery_scan_events,omitempty"`
}

// TableName overrides the default so active and archived jobs share a schema
func (Job) TableName() string {
	return "active_jobs"
}

// ArchivedJob is a completed job preserved immutably. Rows are upserted by
// job_id so a same-day re-run refreshes late-arriving fields without
// duplicating history.
type ArchivedJob struct {
	Job        `gorm:"embedded"`
	ArchivedAt time.Time `gorm:"autoCreateTime" json:"archived_at"`
}

func (ArchivedJob) TableName() string {
	return "job_archive"
}

// ScanEvent is one box scan decoded from the embedded scan log.
// Events keep the encounter order of the source JSON because "most recent"
// is defined by key position, not timestamp.
type ScanEvent struct {
	SerialNumber string     `json:"serial_number"`
	Username     string     `json:"username"`
	Timestamp    *time.Time `json:"timestamp"`
	Manual       bool       `json:"manual"`
	Latitude     string     `json:"latitude"`
	Longitude    string     `json:"longitude"`
}

// Chain groups the jobs that share a product serial across reschedules.
// One chain per serial; updated on every import, never deleted.
type Chain struct {
	ID               uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	ProductSerial    string        `gorm:"size:128;not null;uniqueIndex" json:"product_serial"`
	Carrier          string        `json:"carrier"`
	TotalJobs        int           `json:"total_jobs"`
	RescheduleCount  int           `json:"reschedule_count"`
	FirstPlannedDate *time.Time    `json:"first_planned_date"`
	FinalPlannedDate *time.Time    `json:"final_planned_date"`
	TotalDelayDays   int           `json:"total_delay_days"`
	CurrentStatus    string        `json:"current_status"`
	CurrentJobID     string        `gorm:"size:64" json:"current_job_id"`
	Members          []ChainMember `gorm:"foreignKey:ChainID" json:"-"`
}

func (Chain) TableName() string {
	return "chains"
}

// ChainMember links one job into a chain, ordered by planned date.
type ChainMember struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	ChainID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_chain_member" json:"chain_id"`
	JobID         string     `gorm:"size:64;not null;uniqueIndex:idx_chain_member" json:"job_id"`
	SequenceOrder int        `gorm:"not null" json:"sequence_order"`
	Status        string     `json:"status"`
	PlannedDate   *time.Time `json:"planned_date"`
	ActualDate    *time.Time `json:"actual_date"`
	DelayDays     *int       `json:"delay_days"`
	PriorJobID    string     `gorm:"size:64" json:"prior_job_id"`
	LinkedAt      time.Time  `json:"linked_at"`
}

func (ChainMember) TableName() string {
	return "chain_members"
}

// StageTransition records one status change between snapshots.
// The (job_id, to_status) unique index makes re-runs idempotent.
type StageTransition struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	JobID          string    `gorm:"size:64;not null;uniqueIndex:idx_transition_job_status" json:"job_id"`
	FromStatus     *string   `json:"from_status"`
	ToStatus       string    `gorm:"size:128;not null;uniqueIndex:idx_transition_job_status" json:"to_status"`
	TransitionedAt time.Time `gorm:"not null" json:"transitioned_at"`
}

func (StageTransition) TableName() string {
	return "stage_transitions"
}

// KPISnapshot is one day's operational metrics, upserted by report date.
type KPISnapshot struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ReportDate         time.Time `gorm:"not null;uniqueIndex" json:"report_date"`
	TotalJobs          int       `json:"total_jobs"`
	ArrivedCount       int       `json:"arrived_count"`
	OnTimeRate         float64   `json:"on_time_rate"`
	AvgDelayDays       float64   `json:"avg_delay_days"`
	OverdueCount       int       `json:"overdue_count"`
	ReadyForRouting    int       `json:"ready_for_routing"`
	AvgScansPerJob     float64   `json:"avg_scans_per_job"`
	ScanComplianceRate float64   `json:"scan_compliance_rate"`
	WhiteGloveCount    int       `json:"white_glove_count"`
}

func (KPISnapshot) TableName() string {
	return "kpi_snapshots"
}

// CarrierKPI is one carrier's metrics for one report date.
type CarrierKPI struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	ReportDate      time.Time `gorm:"not null;uniqueIndex:idx_carrier_kpi" json:"report_date"`
	Carrier         string    `gorm:"size:64;not null;uniqueIndex:idx_carrier_kpi" json:"carrier"`
	TotalJobs       int       `json:"total_jobs"`
	ArrivedCount    int       `json:"arrived_count"`
	OnTimeRate      float64   `json:"on_time_rate"`
	AvgDelayDays    float64   `json:"avg_delay_days"`
	OverdueCount    int       `json:"overdue_count"`
	ReadyForRouting int       `json:"ready_for_routing"`
	AvgDwellMinutes *float64  `json:"avg_dwell_minutes"`
	AvgLeadTimeDays *float64  `json:"avg_lead_time_days"`
}

func (CarrierKPI) TableName() string {
	return "carrier_kpis"
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Job{},
		&ArchivedJob{},
		&Chain{},
		&ChainMember{},
		&StageTransition{},
		&KPISnapshot{},
		&CarrierKPI{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
