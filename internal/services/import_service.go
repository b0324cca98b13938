package services

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/dockops/services/jobtracker/internal/cache"
	"example.com/dockops/services/jobtracker/internal/ingest"
	"example.com/dockops/services/jobtracker/internal/messaging"
	"example.com/dockops/services/jobtracker/internal/metrics"
	"example.com/dockops/services/jobtracker/internal/models"
	"example.com/dockops/services/jobtracker/internal/normalizer"
	"example.com/dockops/services/jobtracker/internal/repositories"
	"example.com/dockops/services/jobtracker/internal/search"
	"example.com/dockops/services/jobtracker/internal/snapshot"
	"example.com/dockops/services/jobtracker/internal/tracing"
)

// How long import artifacts stay cached. Two days covers a missed run
// over a weekend day without serving stale reports for long.
const artifactTTL = 48 * time.Hour

// ImportService runs the snapshot reconciliation pipeline: normalize a
// raw export, diff it against the previous snapshot, sync the active
// store, archive completed jobs and refresh chains and KPIs.
type ImportService struct {
	db             *gorm.DB
	readOnlyDB     *gorm.DB
	jobRepo        *repositories.JobRepository
	archiveRepo    *repositories.ArchiveRepository
	transitionRepo *repositories.TransitionRepository
	chainService   *ChainService
	kpiService     *KPIService
	normalizer     *normalizer.Normalizer
	cache          *cache.RedisCache
	elasticClient  *search.ElasticClient
	serviceBus     messaging.ServiceBusClient
	metrics        *metrics.Metrics
	tracer         tracing.Tracer

	mu          sync.RWMutex
	lastDeltas  *models.DeltaSet
	lastSummary *models.RunSummary
	lastAlerts  []models.ChainAlert
}

// NewImportService creates a new import service
func NewImportService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	cacheClient *cache.RedisCache,
	elasticClient *search.ElasticClient,
	serviceBus messaging.ServiceBusClient,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *ImportService {
	return &ImportService{
		db:             db,
		readOnlyDB:     readOnlyDB,
		jobRepo:        repositories.NewJobRepository(db, readOnlyDB),
		archiveRepo:    repositories.NewArchiveRepository(db, readOnlyDB),
		transitionRepo: repositories.NewTransitionRepository(db, readOnlyDB),
		chainService:   NewChainService(db, readOnlyDB, tracer),
		kpiService:     NewKPIService(db, readOnlyDB, tracer),
		normalizer:     normalizer.NewDefault(),
		cache:          cacheClient,
		elasticClient:  elasticClient,
		serviceBus:     serviceBus,
		metrics:        metricsCollector,
		tracer:         tracer,
	}
}

// Chains exposes the chain service for the API layer.
func (s *ImportService) Chains() *ChainService {
	return s.chainService
}

// KPIs exposes the KPI service for the API layer.
func (s *ImportService) KPIs() *KPIService {
	return s.kpiService
}

// RunFromSource loads one export and runs the pipeline on it.
func (s *ImportService) RunFromSource(ctx context.Context, source ingest.RecordSource, today time.Time) (*models.RunSummary, error) {
	records, err := source.Records(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load import source")
	}
	return s.Run(ctx, records, today, source.Name())
}

// Run executes the full pipeline on one batch of export records. An
// empty batch fails before any write; a truncated export must never
// wipe the active store. Store failures in later stages degrade the run
// instead of aborting it: whatever could be written is written, the
// rest is logged and counted. The previous snapshot's reference date is
// derived from its row insert times.
func (s *ImportService) Run(ctx context.Context, records []normalizer.Record, today time.Time, sourceName string) (*models.RunSummary, error) {
	return s.RunAsOf(ctx, records, today, time.Time{}, sourceName)
}

// RunAsOf runs the pipeline with an explicit previous report date.
// Backfill replays historical exports, so row insert times say nothing
// about when the replayed snapshot was originally taken; the caller
// supplies the prior file's date instead. A zero previousDate falls
// back to the stored snapshot's insert times.
func (s *ImportService) RunAsOf(ctx context.Context, records []normalizer.Record, today, previousDate time.Time, sourceName string) (*models.RunSummary, error) {
	start := time.Now()
	txn := s.tracer.StartTransaction("import-run")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "source", sourceName)

	if len(records) == 0 {
		err := errors.New("import source produced no records")
		s.tracer.RecordError(txn, err)
		s.metrics.RecordError("import_run")
		return nil, err
	}

	summary := &models.RunSummary{
		RunAt:       start,
		ReportDate:  models.DateOnly(today),
		Source:      sourceName,
		RecordsRead: len(records),
	}

	log.Info().
		Str("source", sourceName).
		Int("records", len(records)).
		Msg("Import run started")

	// Normalize and deduplicate. The raw batch keeps every reschedule
	// row for the chain tracker; everything else works on the deduped
	// batch.
	span := s.tracer.StartSpan("normalize", txn)
	raw := s.normalizer.NormalizeBatch(records)
	jobs, duplicates := normalizer.Deduplicate(raw)
	span.End()
	summary.DuplicatesRemoved = duplicates
	s.metrics.IncrementCounterBy("records_processed", int64(len(records)))

	// Split the batch into active and completed jobs
	active := make([]models.Job, 0, len(jobs))
	completed := make([]models.ArchivedJob, 0)
	for _, job := range jobs {
		if models.IsCompletedStatus(job.Status) {
			completed = append(completed, models.ArchivedJob{Job: job})
		} else {
			active = append(active, job)
		}
	}
	summary.ActiveJobs = len(active)

	// Load the previous snapshot before any write touches it
	span = s.tracer.StartSpan("load-previous-snapshot", txn)
	previous, err := s.jobRepo.ListActive(ctx)
	span.End()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load previous snapshot, deltas degrade to empty")
		s.tracer.RecordError(txn, err)
		s.metrics.RecordError("snapshot_read")
		summary.Errors++
		previous = nil
	} else {
		s.metrics.RecordSuccess("snapshot_read")
	}

	// Compare snapshots
	if previousDate.IsZero() {
		previousDate = snapshot.SnapshotDate(previous)
	}
	deltas := snapshot.Compare(jobs, previous, today, previousDate)
	summary.NewJobs = len(deltas.NewJobs)
	summary.NewArrivals = len(deltas.NewArrivals)
	summary.NewDeliveries = len(deltas.NewDeliveries)
	summary.NewOverdue = len(deltas.NewOverdue)

	// Record stage transitions, stamped with the batch's report date so
	// a replayed export keeps its historical timeline.
	span = s.tracer.StartSpan("record-transitions", txn)
	transitions := snapshot.DetectTransitions(jobs, previous, today)
	recorded, err := s.transitionRepo.CreateBatch(ctx, transitions)
	span.End()
	if err != nil {
		log.Error().Err(err).Msg("Failed to record stage transitions")
		s.tracer.RecordError(txn, err)
		summary.Errors++
	}
	summary.TransitionsRecorded = int(recorded)

	// Replace the active snapshot
	span = s.tracer.StartSpan("sync-active-jobs", txn)
	summary.StaleRemoved = s.syncActive(ctx, active, previous, summary)
	span.End()

	// Archive completed jobs
	span = s.tracer.StartSpan("archive-completed", txn)
	s.archiveCompleted(ctx, completed, summary)
	span.End()

	// Maintain product chains. Chains need the raw batch: a reschedule
	// shows up as several rows sharing one serial and dedup keeps only
	// the newest of them.
	chainStats := s.chainService.ProcessChains(ctx, raw, today)
	summary.ChainsProcessed = chainStats.ChainsProcessed
	summary.ChainsCreated = chainStats.NewChainsCreated
	summary.JobsLinked = chainStats.JobsLinked
	summary.Errors += chainStats.Errors

	// Collect chain alerts
	alerts, err := s.chainService.GetChainAlerts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect chain alerts")
		s.tracer.RecordError(txn, err)
		summary.Errors++
		alerts = nil
	}
	for _, alert := range alerts {
		if alert.Severity == models.SeverityCritical {
			summary.CriticalAlerts++
		} else {
			summary.WarningAlerts++
		}
	}

	// Compute and store KPIs
	span = s.tracer.StartSpan("store-kpis", txn)
	kpiSnapshot := s.kpiService.ComputeSnapshot(jobs, today)
	if err := s.kpiService.StoreSnapshot(ctx, &kpiSnapshot); err != nil {
		log.Error().Err(err).Msg("Failed to store KPI snapshot")
		s.tracer.RecordError(txn, err)
		summary.Errors++
	}
	carrierKPIs := s.kpiService.ComputeCarrierKPIs(jobs, today)
	if err := s.kpiService.StoreCarrierKPIs(ctx, carrierKPIs); err != nil {
		log.Error().Err(err).Msg("Failed to store carrier KPIs")
		s.tracer.RecordError(txn, err)
		summary.Errors++
	}
	span.End()

	summary.DurationMs = time.Since(start).Milliseconds()

	s.publishArtifacts(ctx, summary, &deltas, alerts, today)

	s.metrics.RecordTimer("import_run_ms", summary.DurationMs)
	s.metrics.SetGauge("active_jobs", int64(summary.ActiveJobs))
	s.metrics.SetGauge("chain_alerts", int64(summary.CriticalAlerts+summary.WarningAlerts))
	s.metrics.IncrementCounter("import_runs")
	if summary.Errors > 0 {
		s.metrics.RecordError("import_run")
	} else {
		s.metrics.RecordSuccess("import_run")
	}

	log.Info().
		Str("source", sourceName).
		Int("records", summary.RecordsRead).
		Int("duplicates_removed", summary.DuplicatesRemoved).
		Int("active_jobs", summary.ActiveJobs).
		Int("stale_removed", summary.StaleRemoved).
		Int("archived", summary.JobsArchived).
		Int("new_jobs", summary.NewJobs).
		Int("new_arrivals", summary.NewArrivals).
		Int("new_deliveries", summary.NewDeliveries).
		Int("new_overdue", summary.NewOverdue).
		Int("transitions", summary.TransitionsRecorded).
		Int("chains", summary.ChainsProcessed).
		Int("alerts", summary.CriticalAlerts+summary.WarningAlerts).
		Int("errors", summary.Errors).
		Int64("duration_ms", summary.DurationMs).
		Msg("Import run complete")

	return summary, nil
}

// syncActive replaces the active snapshot with the new batch: delete
// everything that was there, insert what the export says is active now.
// Inserts upsert by job_id, so rows a failed delete left behind are
// refreshed rather than fatal. Returns how many stale rows, jobs no
// longer in the export, went away.
func (s *ImportService) syncActive(ctx context.Context, active, previous []models.Job, summary *models.RunSummary) int {
	batchIDs := make(map[string]struct{}, len(active))
	for i := range active {
		batchIDs[active[i].JobID] = struct{}{}
	}

	stale := 0
	existingIDs := make([]string, 0, len(previous))
	for i := range previous {
		existingIDs = append(existingIDs, previous[i].JobID)
		if _, inBatch := batchIDs[previous[i].JobID]; !inBatch {
			stale++
		}
	}

	if _, err := s.jobRepo.DeleteByIDs(ctx, existingIDs); err != nil {
		log.Error().Err(err).Msg("Failed to clear previous snapshot, continuing with upsert")
		s.metrics.RecordError("snapshot_sync")
		summary.Errors++
	}

	inserted, err := s.jobRepo.InsertBatch(ctx, active)
	if err != nil {
		log.Error().Err(err).Msg("Failed to insert active snapshot")
		s.metrics.RecordError("snapshot_sync")
		summary.Errors++
		return stale
	}

	s.metrics.RecordSuccess("snapshot_sync")
	log.Info().
		Int64("inserted", inserted).
		Int("stale_removed", stale).
		Msg("Active snapshot replaced")

	return stale
}

// archiveCompleted upserts completed jobs into the archive and indexes
// them for search. Indexing failures only warn; the archive row is the
// durable record, the index is a convenience.
func (s *ImportService) archiveCompleted(ctx context.Context, completed []models.ArchivedJob, summary *models.RunSummary) {
	if len(completed) == 0 {
		return
	}

	if _, err := s.archiveRepo.Upsert(ctx, completed); err != nil {
		log.Error().Err(err).Msg("Failed to archive completed jobs")
		s.metrics.RecordError("archive_write")
		summary.Errors++
		return
	}
	summary.JobsArchived = len(completed)
	s.metrics.RecordSuccess("archive_write")
	s.metrics.IncrementCounterBy("jobs_archived", int64(len(completed)))

	for i := range completed {
		if err := s.elasticClient.IndexArchivedJob(ctx, &completed[i]); err != nil {
			log.Warn().
				Err(err).
				Str("job_id", completed[i].JobID).
				Msg("Failed to index archived job")
		}
	}
}

// publishArtifacts caches the run's artifacts, keeps them in memory for
// the API and announces the run on the bus. All best-effort.
func (s *ImportService) publishArtifacts(ctx context.Context, summary *models.RunSummary, deltas *models.DeltaSet, alerts []models.ChainAlert, today time.Time) {
	s.mu.Lock()
	s.lastDeltas = deltas
	s.lastSummary = summary
	s.lastAlerts = alerts
	s.mu.Unlock()

	if s.cache.Enabled() {
		pairs := []struct {
			key   string
			value interface{}
		}{
			{cache.KeyLatestDeltas, deltas},
			{cache.GetDeltaCacheKey(today), deltas},
			{cache.KeyLatestSummary, summary},
			{cache.GetRunSummaryCacheKey(today), summary},
			{cache.KeyLatestAlerts, alerts},
			{cache.GetAlertsCacheKey(today), alerts},
		}
		for _, pair := range pairs {
			if err := s.cache.Set(ctx, pair.key, pair.value, artifactTTL); err != nil {
				log.Warn().Err(err).Str("key", pair.key).Msg("Failed to cache import artifact")
			}
		}
	}

	if err := s.serviceBus.SendEvent(ctx, messaging.EventImportCompleted, summary); err != nil {
		log.Warn().Err(err).Msg("Failed to publish import event")
	}
}

// LatestDeltas returns the most recent delta report, from memory when
// this process ran the import or from the cache when another one did.
func (s *ImportService) LatestDeltas(ctx context.Context) (*models.DeltaSet, error) {
	s.mu.RLock()
	deltas := s.lastDeltas
	s.mu.RUnlock()
	if deltas != nil {
		return deltas, nil
	}

	if s.cache.Enabled() {
		var cached models.DeltaSet
		if err := s.cache.Get(ctx, cache.KeyLatestDeltas, &cached); err == nil {
			return &cached, nil
		}
	}

	return nil, nil
}

// LatestSummary returns the most recent run summary, if any.
func (s *ImportService) LatestSummary(ctx context.Context) (*models.RunSummary, error) {
	s.mu.RLock()
	summary := s.lastSummary
	s.mu.RUnlock()
	if summary != nil {
		return summary, nil
	}

	if s.cache.Enabled() {
		var cached models.RunSummary
		if err := s.cache.Get(ctx, cache.KeyLatestSummary, &cached); err == nil {
			return &cached, nil
		}
	}

	return nil, nil
}

// LatestAlerts returns the most recent chain alerts, falling back to a
// fresh query when neither memory nor cache has them.
func (s *ImportService) LatestAlerts(ctx context.Context) ([]models.ChainAlert, error) {
	s.mu.RLock()
	alerts := s.lastAlerts
	s.mu.RUnlock()
	if alerts != nil {
		return alerts, nil
	}

	if s.cache.Enabled() {
		var cached []models.ChainAlert
		if err := s.cache.Get(ctx, cache.KeyLatestAlerts, &cached); err == nil {
			return cached, nil
		}
	}

	return s.chainService.GetChainAlerts(ctx)
}

// ActiveJobs lists the active snapshot with filters for the API.
func (s *ImportService) ActiveJobs(ctx context.Context, filter repositories.JobFilter, today time.Time) ([]models.Job, error) {
	return s.jobRepo.ListFiltered(ctx, filter, today)
}

// GetJob fetches one active job.
func (s *ImportService) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return s.jobRepo.GetByID(ctx, jobID)
}

// ListActive returns the whole active snapshot, used for on-demand
// driver KPIs.
func (s *ImportService) ListActive(ctx context.Context) ([]models.Job, error) {
	return s.jobRepo.ListActive(ctx)
}
