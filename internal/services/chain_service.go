package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/dockops/services/jobtracker/internal/models"
	"example.com/dockops/services/jobtracker/internal/repositories"
	"example.com/dockops/services/jobtracker/internal/tracing"
)

// Alert thresholds. Two reschedules of the same product is worth a
// look, three means the carrier needs investigating, and two weeks of
// accumulated delay is a problem even without a reschedule.
const (
	rescheduleWarningCount  = 2
	rescheduleCriticalCount = 3
	delayWarningDays        = 14
)

// ChainService maintains product chains, the job sequences that track
// one product serial across reschedules.
type ChainService struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
	chainRepo  *repositories.ChainRepository
	tracer     tracing.Tracer
}

// NewChainService creates a new chain service
func NewChainService(db *gorm.DB, readOnlyDB *gorm.DB, tracer tracing.Tracer) *ChainService {
	return &ChainService{
		db:         db,
		readOnlyDB: readOnlyDB,
		chainRepo:  repositories.NewChainRepository(db, readOnlyDB),
		tracer:     tracer,
	}
}

// ProcessChains links the batch into chains and refreshes every chain's
// aggregates. A product only forms a chain once it has at least two
// jobs. Serials are processed independently so one bad group never
// blocks the rest; failures are counted, logged and skipped.
func (s *ChainService) ProcessChains(ctx context.Context, jobs []models.Job, today time.Time) models.ChainStats {
	txn := s.tracer.StartTransaction("process-chains")
	defer s.tracer.EndTransaction(txn)

	groups := make(map[string][]models.Job)
	for _, job := range jobs {
		if job.ProductSerial == "" {
			continue
		}
		groups[job.ProductSerial] = append(groups[job.ProductSerial], job)
	}

	var stats models.ChainStats
	for serial, group := range groups {
		if len(group) < 2 {
			continue
		}

		created, linked, err := s.processSerial(ctx, serial, group, today)
		stats.JobsLinked += linked
		if err != nil {
			stats.Errors++
			s.tracer.RecordError(txn, err)
			log.Error().
				Err(err).
				Str("product_serial", serial).
				Msg("Failed to process product chain")
			continue
		}

		stats.ChainsProcessed++
		if created {
			stats.NewChainsCreated++
		}
	}

	log.Info().
		Int("chains_processed", stats.ChainsProcessed).
		Int("new_chains", stats.NewChainsCreated).
		Int("jobs_linked", stats.JobsLinked).
		Int("errors", stats.Errors).
		Msg("Chain maintenance complete")

	return stats
}

// processSerial updates or creates the chain for one product serial.
func (s *ChainService) processSerial(ctx context.Context, serial string, group []models.Job, today time.Time) (bool, int, error) {
	chain, err := s.chainRepo.GetBySerial(ctx, serial)
	if err != nil {
		return false, 0, err
	}

	created := false
	if chain == nil {
		chain = &models.Chain{
			ID:            uuid.New(),
			ProductSerial: serial,
		}
		if err := s.chainRepo.Create(ctx, chain); err != nil {
			return false, 0, err
		}
		created = true
	}

	sortByPlanned(group)

	linked := 0
	now := time.Now()
	for i := range group {
		member := &models.ChainMember{
			ChainID:       chain.ID,
			JobID:         group[i].JobID,
			SequenceOrder: i + 1,
			Status:        group[i].Status,
			PlannedDate:   group[i].PlannedDate,
			ActualDate:    group[i].ActualDate,
			DelayDays:     group[i].DelayDays,
			PriorJobID:    group[i].PriorJobID,
			LinkedAt:      now,
		}
		if err := s.chainRepo.UpsertMember(ctx, member); err != nil {
			return created, linked, err
		}
		linked++
	}

	applyChainAggregates(chain, group, today)
	if err := s.chainRepo.Update(ctx, chain); err != nil {
		return created, linked, err
	}

	return created, linked, nil
}

// applyChainAggregates recomputes a chain's rollup from its sorted jobs.
// Total delay measures from the first planned date to today, clamped at
// zero, because the product has been owed to the customer since that
// first promise regardless of how often it was rebooked.
func applyChainAggregates(chain *models.Chain, group []models.Job, today time.Time) {
	chain.TotalJobs = len(group)

	chain.RescheduleCount = 0
	for i := range group {
		if models.IsRescheduledStatus(group[i].Status) {
			chain.RescheduleCount++
		}
	}

	chain.FirstPlannedDate = nil
	chain.FinalPlannedDate = nil
	current := &group[len(group)-1]
	for i := range group {
		if group[i].PlannedDate == nil {
			continue
		}
		if chain.FirstPlannedDate == nil {
			chain.FirstPlannedDate = group[i].PlannedDate
		}
		chain.FinalPlannedDate = group[i].PlannedDate
		current = &group[i]
	}

	chain.TotalDelayDays = 0
	if chain.FirstPlannedDate != nil {
		delay := models.DaysBetween(models.DateOnly(*chain.FirstPlannedDate), models.DateOnly(today))
		if delay > 0 {
			chain.TotalDelayDays = delay
		}
	}

	chain.CurrentStatus = current.Status
	chain.CurrentJobID = current.JobID
	chain.Carrier = current.Carrier
}

// GetChainAlerts flags chains that crossed an alert threshold. Chains
// whose current job already completed are excluded; a delivered product
// needs no attention. Each chain raises at most one alert, the most
// severe that applies.
func (s *ChainService) GetChainAlerts(ctx context.Context) ([]models.ChainAlert, error) {
	candidates, err := s.chainRepo.ListAlertCandidates(ctx, rescheduleWarningCount, delayWarningDays)
	if err != nil {
		return nil, err
	}

	alerts := make([]models.ChainAlert, 0, len(candidates))
	for i := range candidates {
		chain := &candidates[i]
		if models.IsCompletedStatus(chain.CurrentStatus) {
			continue
		}

		var severity, message string
		switch {
		case chain.RescheduleCount >= rescheduleCriticalCount:
			severity = models.SeverityCritical
			message = fmt.Sprintf("Product rescheduled %d times - investigate carrier", chain.RescheduleCount)
		case chain.RescheduleCount == rescheduleWarningCount:
			severity = models.SeverityWarning
			message = fmt.Sprintf("Product rescheduled %d times", chain.RescheduleCount)
		case chain.TotalDelayDays >= delayWarningDays:
			severity = models.SeverityWarning
			message = fmt.Sprintf("Product delayed %d days from original planned date", chain.TotalDelayDays)
		default:
			continue
		}

		alerts = append(alerts, models.ChainAlert{
			ChainID:         chain.ID,
			ProductSerial:   chain.ProductSerial,
			Carrier:         chain.Carrier,
			RescheduleCount: chain.RescheduleCount,
			TotalDelayDays:  chain.TotalDelayDays,
			CurrentStatus:   chain.CurrentStatus,
			CurrentJobID:    chain.CurrentJobID,
			Severity:        severity,
			Message:         message,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Severity != alerts[j].Severity {
			return alerts[i].Severity == models.SeverityCritical
		}
		return alerts[i].RescheduleCount > alerts[j].RescheduleCount
	})

	return alerts, nil
}

// ListChains lists chains with at least minJobs members for the API.
func (s *ChainService) ListChains(ctx context.Context, minJobs, limit, offset int) ([]models.Chain, error) {
	if minJobs < 2 {
		minJobs = 2
	}
	return s.chainRepo.ListChains(ctx, minJobs, limit, offset)
}

// GetChainDetail returns one chain with its members in sequence order,
// or nil when the serial has no chain.
func (s *ChainService) GetChainDetail(ctx context.Context, serial string) (*models.Chain, error) {
	return s.chainRepo.GetWithMembers(ctx, serial)
}

// sortByPlanned orders jobs by planned date ascending with undated jobs
// last, the sequence order of a chain.
func sortByPlanned(group []models.Job) {
	sort.SliceStable(group, func(i, j int) bool {
		pi, pj := group[i].PlannedDate, group[j].PlannedDate
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		}
		return pi.Before(*pj)
	})
}
