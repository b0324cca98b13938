package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/dockops/services/jobtracker/internal/models"
	"example.com/dockops/services/jobtracker/internal/repositories"
	"example.com/dockops/services/jobtracker/internal/tracing"
)

// KPIService computes and stores the daily operational metrics.
type KPIService struct {
	db             *gorm.DB
	readOnlyDB     *gorm.DB
	kpiRepo        *repositories.KPIRepository
	archiveRepo    *repositories.ArchiveRepository
	transitionRepo *repositories.TransitionRepository
	tracer         tracing.Tracer
}

// NewKPIService creates a new KPI service
func NewKPIService(db *gorm.DB, readOnlyDB *gorm.DB, tracer tracing.Tracer) *KPIService {
	return &KPIService{
		db:             db,
		readOnlyDB:     readOnlyDB,
		kpiRepo:        repositories.NewKPIRepository(db, readOnlyDB),
		archiveRepo:    repositories.NewArchiveRepository(db, readOnlyDB),
		transitionRepo: repositories.NewTransitionRepository(db, readOnlyDB),
		tracer:         tracer,
	}
}

// ComputeSnapshot derives one day's KPIs from a processed batch. On-time
// rate counts arrived jobs with a non-positive delay, so early arrivals
// are on time. Average delay covers late jobs only; mixing in early ones
// would flatter the number.
func (s *KPIService) ComputeSnapshot(jobs []models.Job, today time.Time) models.KPISnapshot {
	snap := models.KPISnapshot{
		ReportDate: models.DateOnly(today),
		TotalJobs:  len(jobs),
	}

	var onTime, late, withScans, totalScans int
	var lateDaysSum int
	for i := range jobs {
		job := &jobs[i]

		if job.ActualDate != nil {
			snap.ArrivedCount++
			if job.DelayDays != nil {
				if *job.DelayDays <= 0 {
					onTime++
				} else {
					late++
					lateDaysSum += *job.DelayDays
				}
			}
			if !job.IsRouted {
				snap.ReadyForRouting++
			}
		} else if jobOverdue(job, today) {
			snap.OverdueCount++
		}

		if job.ScanCount > 0 {
			withScans++
			totalScans += job.ScanCount
		}
		if job.WhiteGlove {
			snap.WhiteGloveCount++
		}
	}

	if snap.ArrivedCount > 0 {
		snap.OnTimeRate = roundRate(onTime, snap.ArrivedCount)
	}
	if late > 0 {
		snap.AvgDelayDays = round1f(float64(lateDaysSum) / float64(late))
	}
	if len(jobs) > 0 {
		snap.AvgScansPerJob = round1f(float64(totalScans) / float64(len(jobs)))
		snap.ScanComplianceRate = roundRate(withScans, len(jobs))
	}

	return snap
}

// ComputeCarrierKPIs derives per-carrier KPIs from a processed batch.
// Jobs without a real carrier are skipped; an "Unknown" bucket would
// only obscure the comparison the report exists for.
func (s *KPIService) ComputeCarrierKPIs(jobs []models.Job, today time.Time) []models.CarrierKPI {
	byCarrier := make(map[string][]*models.Job)
	for i := range jobs {
		carrier := jobs[i].Carrier
		if carrier == "" || strings.EqualFold(carrier, "unknown") {
			continue
		}
		byCarrier[carrier] = append(byCarrier[carrier], &jobs[i])
	}

	reportDate := models.DateOnly(today)
	kpis := make([]models.CarrierKPI, 0, len(byCarrier))
	for carrier, group := range byCarrier {
		kpi := models.CarrierKPI{
			ReportDate: reportDate,
			Carrier:    carrier,
			TotalJobs:  len(group),
		}

		var onTime, late, lateDaysSum int
		var dwellSum float64
		var dwellCount int
		var leadSum, leadCount int
		for _, job := range group {
			if job.ActualDate != nil {
				kpi.ArrivedCount++
				if job.DelayDays != nil {
					if *job.DelayDays <= 0 {
						onTime++
					} else {
						late++
						lateDaysSum += *job.DelayDays
					}
				}
				if !job.IsRouted {
					kpi.ReadyForRouting++
				}
			} else if jobOverdue(job, today) {
				kpi.OverdueCount++
			}

			if job.DwellMinutes != nil {
				dwellSum += *job.DwellMinutes
				dwellCount++
			}
			if job.LeadTimeDays != nil {
				leadSum += *job.LeadTimeDays
				leadCount++
			}
		}

		if kpi.ArrivedCount > 0 {
			kpi.OnTimeRate = roundRate(onTime, kpi.ArrivedCount)
		}
		if late > 0 {
			kpi.AvgDelayDays = round1f(float64(lateDaysSum) / float64(late))
		}
		if dwellCount > 0 {
			avg := round1f(dwellSum / float64(dwellCount))
			kpi.AvgDwellMinutes = &avg
		}
		if leadCount > 0 {
			avg := round1f(float64(leadSum) / float64(leadCount))
			kpi.AvgLeadTimeDays = &avg
		}

		kpis = append(kpis, kpi)
	}

	sort.Slice(kpis, func(i, j int) bool {
		if kpis[i].TotalJobs != kpis[j].TotalJobs {
			return kpis[i].TotalJobs > kpis[j].TotalJobs
		}
		return kpis[i].Carrier < kpis[j].Carrier
	})

	return kpis
}

// ComputeDriverKPIs derives per-driver KPIs on demand from the current
// active snapshot. These are never persisted; driver rosters churn too
// much to be worth a table.
func (s *KPIService) ComputeDriverKPIs(jobs []models.Job, today time.Time) []models.DriverKPI {
	byDriver := make(map[string][]*models.Job)
	for i := range jobs {
		driver := jobs[i].AssignedDriver
		if driver == "" || strings.EqualFold(driver, "unknown") {
			continue
		}
		byDriver[driver] = append(byDriver[driver], &jobs[i])
	}

	kpis := make([]models.DriverKPI, 0, len(byDriver))
	for driver, group := range byDriver {
		kpi := models.DriverKPI{
			Driver:    driver,
			TotalJobs: len(group),
		}

		var onTime, late, lateDaysSum, signed int
		markets := make(map[string]struct{})
		for _, job := range group {
			if job.ActualDate != nil {
				kpi.ArrivedCount++
				if job.DelayDays != nil {
					if *job.DelayDays <= 0 {
						onTime++
					} else {
						late++
						lateDaysSum += *job.DelayDays
					}
				}
			} else if jobOverdue(job, today) {
				kpi.OverdueCount++
			}

			// Signature rate is over all jobs, unlike on-time which is
			// over arrivals only.
			if job.SignedBy != "" {
				signed++
			}

			if job.Market != "" && !strings.EqualFold(job.Market, "unknown") {
				markets[job.Market] = struct{}{}
			}
		}

		if kpi.ArrivedCount > 0 {
			kpi.OnTimeRate = roundRate(onTime, kpi.ArrivedCount)
		}
		kpi.SignatureRate = roundRate(signed, kpi.TotalJobs)
		if late > 0 {
			kpi.AvgDelayDays = round1f(float64(lateDaysSum) / float64(late))
		}

		kpi.Markets = make([]string, 0, len(markets))
		for market := range markets {
			kpi.Markets = append(kpi.Markets, market)
		}
		sort.Strings(kpi.Markets)

		kpis = append(kpis, kpi)
	}

	sort.Slice(kpis, func(i, j int) bool {
		if kpis[i].TotalJobs != kpis[j].TotalJobs {
			return kpis[i].TotalJobs > kpis[j].TotalJobs
		}
		return kpis[i].Driver < kpis[j].Driver
	})

	return kpis
}

// StoreSnapshot upserts one day's KPIs.
func (s *KPIService) StoreSnapshot(ctx context.Context, snap *models.KPISnapshot) error {
	return s.kpiRepo.UpsertSnapshot(ctx, snap)
}

// StoreCarrierKPIs upserts one day's per-carrier KPIs.
func (s *KPIService) StoreCarrierKPIs(ctx context.Context, kpis []models.CarrierKPI) error {
	return s.kpiRepo.UpsertCarrierKPIs(ctx, kpis)
}

// Latest returns the most recent KPI snapshot, or nil before the first
// import.
func (s *KPIService) Latest(ctx context.Context) (*models.KPISnapshot, error) {
	snapshots, err := s.kpiRepo.LatestTwo(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

// History returns the KPI snapshots of the trailing window, oldest
// first.
func (s *KPIService) History(ctx context.Context, days int, today time.Time) ([]models.KPISnapshot, error) {
	if days <= 0 {
		days = 30
	}
	return s.kpiRepo.History(ctx, days, today)
}

// LatestCarrierKPIs returns the per-carrier KPIs of the most recent
// report date.
func (s *KPIService) LatestCarrierKPIs(ctx context.Context) ([]models.CarrierKPI, error) {
	latest, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return []models.CarrierKPI{}, nil
	}
	return s.kpiRepo.CarriersForDate(ctx, latest.ReportDate)
}

// Metrics compared by Trends, with whether a rise is good news.
var trendMetrics = []struct {
	name         string
	higherBetter bool
	value        func(*models.KPISnapshot) float64
}{
	{"on_time_rate", true, func(s *models.KPISnapshot) float64 { return s.OnTimeRate }},
	{"avg_delay_days", false, func(s *models.KPISnapshot) float64 { return s.AvgDelayDays }},
	{"overdue_count", false, func(s *models.KPISnapshot) float64 { return float64(s.OverdueCount) }},
}

// Trends compares the two most recent snapshots metric by metric.
// Fewer than two snapshots yields an empty list; there is nothing to
// compare yet.
func (s *KPIService) Trends(ctx context.Context) ([]models.KPITrend, error) {
	snapshots, err := s.kpiRepo.LatestTwo(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshots) < 2 {
		return []models.KPITrend{}, nil
	}

	current, previous := &snapshots[0], &snapshots[1]
	trends := make([]models.KPITrend, 0, len(trendMetrics))
	for _, metric := range trendMetrics {
		currVal := metric.value(current)
		prevVal := metric.value(previous)

		trend := models.KPITrend{
			Metric:     metric.name,
			Current:    currVal,
			Previous:   prevVal,
			Direction:  models.TrendStable,
			Assessment: models.TrendStable,
		}

		switch {
		case currVal > prevVal:
			trend.Direction = models.TrendUp
		case currVal < prevVal:
			trend.Direction = models.TrendDown
		}

		if trend.Direction != models.TrendStable {
			improved := trend.Direction == models.TrendUp
			if !metric.higherBetter {
				improved = !improved
			}
			if improved {
				trend.Assessment = models.TrendImproved
			} else {
				trend.Assessment = models.TrendWorsened
			}
		}

		trends = append(trends, trend)
	}

	return trends, nil
}

// DwellAggregates computes average time between consecutive statuses
// from the recorded transition history.
func (s *KPIService) DwellAggregates(ctx context.Context) ([]models.StageDwell, error) {
	transitions, err := s.transitionRepo.ListAllOrdered(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load transitions for dwell aggregation")
	}

	type dwellKey struct {
		from string
		to   string
	}
	sums := make(map[dwellKey]float64)
	counts := make(map[dwellKey]int)

	for i := 1; i < len(transitions); i++ {
		prev, curr := &transitions[i-1], &transitions[i]
		if prev.JobID != curr.JobID {
			continue
		}
		minutes := curr.TransitionedAt.Sub(prev.TransitionedAt).Minutes()
		if minutes < 0 {
			continue
		}
		key := dwellKey{from: prev.ToStatus, to: curr.ToStatus}
		sums[key] += minutes
		counts[key]++
	}

	aggregates := make([]models.StageDwell, 0, len(counts))
	for key, count := range counts {
		aggregates = append(aggregates, models.StageDwell{
			FromStatus:  key.from,
			ToStatus:    key.to,
			Transitions: count,
			AvgMinutes:  round1f(sums[key] / float64(count)),
		})
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].Transitions != aggregates[j].Transitions {
			return aggregates[i].Transitions > aggregates[j].Transitions
		}
		if aggregates[i].FromStatus != aggregates[j].FromStatus {
			return aggregates[i].FromStatus < aggregates[j].FromStatus
		}
		return aggregates[i].ToStatus < aggregates[j].ToStatus
	})

	return aggregates, nil
}

// ArchiveStats summarizes the whole archive for historical reporting.
func (s *KPIService) ArchiveStats(ctx context.Context) (*models.ArchiveStats, error) {
	txn := s.tracer.StartTransaction("archive-stats")
	defer s.tracer.EndTransaction(txn)

	archived, err := s.archiveRepo.ListAll(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to load archive")
	}

	stats := &models.ArchiveStats{
		TotalCompleted: len(archived),
		Carriers:       make(map[string]models.CarrierArchiveStats),
	}

	type carrierAccum struct {
		count       int
		onTime      int
		measured    int
		late        int
		lateDaysSum int
	}

	var onTime, measured, late, lateDaysSum int
	byCarrier := make(map[string]*carrierAccum)
	for i := range archived {
		job := &archived[i]

		accum := byCarrier[job.Carrier]
		if accum == nil && job.Carrier != "" {
			accum = &carrierAccum{}
			byCarrier[job.Carrier] = accum
		}
		if accum != nil {
			accum.count++
		}

		if job.DelayDays == nil {
			continue
		}
		measured++
		if accum != nil {
			accum.measured++
		}
		if *job.DelayDays <= 0 {
			onTime++
			if accum != nil {
				accum.onTime++
			}
		} else {
			late++
			lateDaysSum += *job.DelayDays
			if accum != nil {
				accum.late++
				accum.lateDaysSum += *job.DelayDays
			}
		}
	}

	if measured > 0 {
		stats.OnTimeRate = roundRate(onTime, measured)
	}
	if late > 0 {
		stats.AvgDelayDays = round1f(float64(lateDaysSum) / float64(late))
	}

	for carrier, accum := range byCarrier {
		carrierStats := models.CarrierArchiveStats{Count: accum.count}
		if accum.measured > 0 {
			carrierStats.OnTimeRate = roundRate(accum.onTime, accum.measured)
		}
		if accum.late > 0 {
			carrierStats.AvgDelayDays = round1f(float64(accum.lateDaysSum) / float64(accum.late))
		}
		stats.Carriers[carrier] = carrierStats
	}

	log.Debug().Int("total_completed", stats.TotalCompleted).Msg("archive stats computed")
	return stats, nil
}

func jobOverdue(job *models.Job, today time.Time) bool {
	return job.PlannedDate != nil &&
		models.DateOnly(*job.PlannedDate).Before(models.DateOnly(today))
}

func roundRate(part, whole int) float64 {
	return round1f(float64(part) / float64(whole) * 100.0)
}

func round1f(f float64) float64 {
	return math.Round(f*10) / 10
}
