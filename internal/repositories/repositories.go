package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/dockops/services/jobtracker/internal/models"
)

const (
	// readPageSize bounds snapshot reads so a large active table never
	// arrives in one round trip.
	readPageSize = 1000
	// deleteBatchSize keeps the id list of a bulk delete small enough
	// for any backend.
	deleteBatchSize = 50
	// insertBatchSize is the chunk size for bulk inserts.
	insertBatchSize = 500
)

// JobFilter narrows active job listings.
type JobFilter struct {
	Carrier     string
	State       string
	Market      string
	Status      string
	OverdueOnly bool
	Limit       int
	Offset      int
}

// JobRepository provides access to the active job snapshot
type JobRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *gorm.DB, readOnlyDB *gorm.DB) *JobRepository {
	return &JobRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets an active job by its id, or nil when no such job is
// active.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get job by id")
	}
	return &job, nil
}

// ListActive reads the whole active snapshot in pages so memory stays
// bounded regardless of table size.
func (r *JobRepository) ListActive(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	for offset := 0; ; offset += readPageSize {
		var page []models.Job
		err := r.readOnlyDB.WithContext(ctx).
			Order("job_id").
			Limit(readPageSize).
			Offset(offset).
			Find(&page).Error
		if err != nil {
			return nil, errors.Wrap(err, "failed to list active jobs")
		}
		jobs = append(jobs, page...)
		if len(page) < readPageSize {
			break
		}
	}
	return jobs, nil
}

// ListFiltered lists active jobs matching the filter, for the API.
func (r *JobRepository) ListFiltered(ctx context.Context, filter JobFilter, today time.Time) ([]models.Job, error) {
	query := r.readOnlyDB.WithContext(ctx).Model(&models.Job{})

	if filter.Carrier != "" {
		query = query.Where("carrier = ?", filter.Carrier)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.Market != "" {
		query = query.Where("market = ?", filter.Market)
	}
	if filter.Status != "" {
		query = query.Where("LOWER(status) LIKE ?", "%"+strings.ToLower(filter.Status)+"%")
	}
	if filter.OverdueOnly {
		query = query.Where("actual_date IS NULL AND planned_date < ?", models.DateOnly(today))
	}

	limit := filter.Limit
	if limit <= 0 || limit > readPageSize {
		limit = readPageSize
	}

	var jobs []models.Job
	err := query.Order("planned_date, job_id").Limit(limit).Offset(filter.Offset).Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list filtered jobs")
	}
	return jobs, nil
}

// DeleteByIDs removes active rows in small batches and returns how many
// rows went away. A failed batch stops the loop; the caller decides how
// to degrade.
func (r *JobRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	var deleted int64
	for start := 0; start < len(ids); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		result := r.db.WithContext(ctx).
			Where("job_id IN ?", ids[start:end]).
			Delete(&models.Job{})
		if result.Error != nil {
			return deleted, errors.Wrap(result.Error, "failed to delete active jobs")
		}
		deleted += result.RowsAffected
	}
	return deleted, nil
}

// InsertBatch writes fresh snapshot rows. Inserts upsert on job_id so a
// retried run converges on the same state instead of failing on leftover
// rows from a partial delete.
func (r *JobRepository) InsertBatch(ctx context.Context, jobs []models.Job) (int64, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			UpdateAll: true,
		}).
		CreateInBatches(jobs, insertBatchSize)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to insert active jobs")
	}
	return result.RowsAffected, nil
}

// ArchiveRepository provides access to completed jobs
type ArchiveRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Upsert records completed jobs, refreshing rows that already exist so
// re-running a day's import never duplicates history.
func (r *ArchiveRepository) Upsert(ctx context.Context, jobs []models.ArchivedJob) (int64, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			UpdateAll: true,
		}).
		CreateInBatches(jobs, insertBatchSize)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to upsert archived jobs")
	}
	return result.RowsAffected, nil
}

// ListAll reads the whole archive in pages.
func (r *ArchiveRepository) ListAll(ctx context.Context) ([]models.ArchivedJob, error) {
	var jobs []models.ArchivedJob
	for offset := 0; ; offset += readPageSize {
		var page []models.ArchivedJob
		err := r.readOnlyDB.WithContext(ctx).
			Order("job_id").
			Limit(readPageSize).
			Offset(offset).
			Find(&page).Error
		if err != nil {
			return nil, errors.Wrap(err, "failed to list archived jobs")
		}
		jobs = append(jobs, page...)
		if len(page) < readPageSize {
			break
		}
	}
	return jobs, nil
}

// ChainRepository provides access to product chains
type ChainRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewChainRepository creates a new chain repository
func NewChainRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ChainRepository {
	return &ChainRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetBySerial gets the chain for a product serial, or nil when no chain
// exists yet.
func (r *ChainRepository) GetBySerial(ctx context.Context, serial string) (*models.Chain, error) {
	var chain models.Chain
	err := r.readOnlyDB.WithContext(ctx).Where("product_serial = ?", serial).First(&chain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get chain by serial")
	}
	return &chain, nil
}

// GetWithMembers gets a chain and its members in sequence order.
func (r *ChainRepository) GetWithMembers(ctx context.Context, serial string) (*models.Chain, error) {
	var chain models.Chain
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_order ASC")
		}).
		Where("product_serial = ?", serial).
		First(&chain).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get chain with members")
	}
	return &chain, nil
}

// Create creates a new chain
func (r *ChainRepository) Create(ctx context.Context, chain *models.Chain) error {
	if chain.ID == uuid.Nil {
		chain.ID = uuid.New()
	}
	// Use write DB for writes
	err := r.db.WithContext(ctx).Create(chain).Error
	if err != nil {
		return errors.Wrap(err, "failed to create chain")
	}
	return nil
}

// Update saves recomputed chain aggregates
func (r *ChainRepository) Update(ctx context.Context, chain *models.Chain) error {
	err := r.db.WithContext(ctx).
		Model(&models.Chain{}).
		Where("id = ?", chain.ID).
		Updates(map[string]interface{}{
			"carrier":            chain.Carrier,
			"total_jobs":         chain.TotalJobs,
			"reschedule_count":   chain.RescheduleCount,
			"first_planned_date": chain.FirstPlannedDate,
			"final_planned_date": chain.FinalPlannedDate,
			"total_delay_days":   chain.TotalDelayDays,
			"current_status":     chain.CurrentStatus,
			"current_job_id":     chain.CurrentJobID,
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to update chain")
	}
	return nil
}

// UpsertMember links a job into a chain, updating the link when the job
// was already a member.
func (r *ChainRepository) UpsertMember(ctx context.Context, member *models.ChainMember) error {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "chain_id"}, {Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"sequence_order", "status", "planned_date", "actual_date",
				"delay_days", "prior_job_id", "linked_at", "updated_at",
			}),
		}).
		Create(member).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert chain member")
	}
	return nil
}

// ListAlertCandidates gets chains whose counters are high enough to
// possibly alert. The completion check stays in the service because it
// is a substring rule, not a column match.
func (r *ChainRepository) ListAlertCandidates(ctx context.Context, minReschedules, minDelayDays int) ([]models.Chain, error) {
	var chains []models.Chain
	err := r.readOnlyDB.WithContext(ctx).
		Where("reschedule_count >= ? OR total_delay_days >= ?", minReschedules, minDelayDays).
		Order("reschedule_count DESC").
		Find(&chains).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alert candidates")
	}
	return chains, nil
}

// ListChains lists chains with at least minJobs members.
func (r *ChainRepository) ListChains(ctx context.Context, minJobs, limit, offset int) ([]models.Chain, error) {
	if limit <= 0 || limit > readPageSize {
		limit = 100
	}
	var chains []models.Chain
	err := r.readOnlyDB.WithContext(ctx).
		Where("total_jobs >= ?", minJobs).
		Order("reschedule_count DESC, updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&chains).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chains")
	}
	return chains, nil
}

// TransitionRepository provides access to stage transitions
type TransitionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TransitionRepository {
	return &TransitionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// CreateBatch records transitions, silently skipping any (job, status)
// pair that was already recorded. Returns the number actually inserted.
func (r *TransitionRepository) CreateBatch(ctx context.Context, transitions []models.StageTransition) (int64, error) {
	if len(transitions) == 0 {
		return 0, nil
	}
	for i := range transitions {
		if transitions[i].ID == uuid.Nil {
			transitions[i].ID = uuid.New()
		}
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "to_status"}},
			DoNothing: true,
		}).
		CreateInBatches(transitions, insertBatchSize)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to create stage transitions")
	}
	return result.RowsAffected, nil
}

// ListByJob gets one job's stage history in order.
func (r *TransitionRepository) ListByJob(ctx context.Context, jobID string) ([]models.StageTransition, error) {
	var transitions []models.StageTransition
	err := r.readOnlyDB.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("transitioned_at ASC, created_at ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transitions by job")
	}
	return transitions, nil
}

// ListAllOrdered gets every transition grouped by job and ordered in
// time, the shape the dwell aggregation wants.
func (r *TransitionRepository) ListAllOrdered(ctx context.Context) ([]models.StageTransition, error) {
	var transitions []models.StageTransition
	err := r.readOnlyDB.WithContext(ctx).
		Order("job_id ASC, transitioned_at ASC, created_at ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transitions")
	}
	return transitions, nil
}

// KPIRepository provides access to KPI snapshots
type KPIRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewKPIRepository creates a new KPI repository
func NewKPIRepository(db *gorm.DB, readOnlyDB *gorm.DB) *KPIRepository {
	return &KPIRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// UpsertSnapshot writes one day's KPIs, replacing the row for that
// report date if the import already ran today.
func (r *KPIRepository) UpsertSnapshot(ctx context.Context, snapshot *models.KPISnapshot) error {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "report_date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_jobs", "arrived_count", "on_time_rate", "avg_delay_days",
				"overdue_count", "ready_for_routing", "avg_scans_per_job",
				"scan_compliance_rate", "white_glove_count", "updated_at",
			}),
		}).
		Create(snapshot).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert kpi snapshot")
	}
	return nil
}

// UpsertCarrierKPIs writes per-carrier KPIs keyed by date and carrier.
func (r *KPIRepository) UpsertCarrierKPIs(ctx context.Context, kpis []models.CarrierKPI) error {
	if len(kpis) == 0 {
		return nil
	}
	for i := range kpis {
		if kpis[i].ID == uuid.Nil {
			kpis[i].ID = uuid.New()
		}
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "report_date"}, {Name: "carrier"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_jobs", "arrived_count", "on_time_rate", "avg_delay_days",
				"overdue_count", "ready_for_routing", "avg_dwell_minutes",
				"avg_lead_time_days", "updated_at",
			}),
		}).
		CreateInBatches(kpis, insertBatchSize).Error
	if err != nil {
		return errors.Wrap(err, "failed to upsert carrier kpis")
	}
	return nil
}

// History gets snapshots from the trailing window, oldest first.
func (r *KPIRepository) History(ctx context.Context, days int, today time.Time) ([]models.KPISnapshot, error) {
	cutoff := models.DateOnly(today).AddDate(0, 0, -days)
	var snapshots []models.KPISnapshot
	err := r.readOnlyDB.WithContext(ctx).
		Where("report_date >= ?", cutoff).
		Order("report_date ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get kpi history")
	}
	return snapshots, nil
}

// LatestTwo gets the two most recent snapshots, newest first.
func (r *KPIRepository) LatestTwo(ctx context.Context) ([]models.KPISnapshot, error) {
	var snapshots []models.KPISnapshot
	err := r.readOnlyDB.WithContext(ctx).
		Order("report_date DESC").
		Limit(2).
		Find(&snapshots).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest kpi snapshots")
	}
	return snapshots, nil
}

// CarriersForDate gets the per-carrier KPIs of one report date.
func (r *KPIRepository) CarriersForDate(ctx context.Context, date time.Time) ([]models.CarrierKPI, error) {
	var kpis []models.CarrierKPI
	err := r.readOnlyDB.WithContext(ctx).
		Where("report_date = ?", models.DateOnly(date)).
		Order("total_jobs DESC").
		Find(&kpis).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get carrier kpis")
	}
	return kpis, nil
}
