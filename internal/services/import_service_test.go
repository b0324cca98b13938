package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"example.com/dockops/services/jobtracker/config"
	"example.com/dockops/services/jobtracker/internal/cache"
	"example.com/dockops/services/jobtracker/internal/messaging"
	"example.com/dockops/services/jobtracker/internal/metrics"
	"example.com/dockops/services/jobtracker/internal/normalizer"
	"example.com/dockops/services/jobtracker/internal/repositories"
)

// newTestImportService wires an import service against an in-memory
// database with cache, search and tracing disabled and a mock bus.
func newTestImportService(t *testing.T) (*ImportService, *gorm.DB) {
	t.Helper()
	db := testDB(t)

	cacheClient, err := cache.NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	bus, err := messaging.NewServiceBusClient(config.AzureConfig{}, "test")
	require.NoError(t, err)

	svc := NewImportService(db, db, cacheClient, nil, bus, metrics.NewMetrics(), testTracer(t))
	return svc, db
}

func firstBatch() []normalizer.Record {
	return []normalizer.Record{
		{
			"_kp_job_id":            "J-1",
			"product_serial_number": "SN-1",
			"job_status":            "Delivery Scheduled",
			"job_date":              "2026-02-16",
			"_kf_client_code_id":    "Metro Freight",
		},
		{
			"_kp_job_id":            "J-2",
			"product_serial_number": "SN-2",
			"job_status":            "Delivered",
			"job_date":              "2026-02-14",
			"time_complete":         "11:20:00",
			"_kf_client_code_id":    "Metro Freight",
		},
		// Two rows for one serial: a reschedule and its replacement.
		{
			"_kp_job_id":            "J-3",
			"product_serial_number": "SN-3",
			"job_status":            "Rescheduled",
			"job_date":              "2026-02-10",
			"timestamp_create":      "2026-02-01 08:00:00",
		},
		{
			"_kp_job_id":            "J-4",
			"product_serial_number": "SN-3",
			"job_status":            "Delivery Scheduled",
			"job_date":              "2026-02-20",
			"timestamp_create":      "2026-02-12 08:00:00",
		},
	}
}

func TestRunFirstImport(t *testing.T) {
	svc, db := newTestImportService(t)
	ctx := context.Background()
	today := date(2026, 2, 16)

	summary, err := svc.Run(ctx, firstBatch(), today, "02_16_26.01.json")
	require.NoError(t, err)

	require.Equal(t, 4, summary.RecordsRead)
	require.Equal(t, 1, summary.DuplicatesRemoved)
	require.Equal(t, 2, summary.ActiveJobs)
	require.Equal(t, 1, summary.JobsArchived)
	require.Equal(t, 0, summary.StaleRemoved)
	require.Equal(t, 0, summary.Errors)

	// A first run has no previous snapshot to differ from.
	require.Equal(t, 0, summary.NewJobs)
	require.Equal(t, 0, summary.NewArrivals)
	require.Equal(t, 0, summary.NewDeliveries)
	require.Equal(t, 0, summary.NewOverdue)

	require.Equal(t, 3, summary.TransitionsRecorded)

	// The chain forms from the pre-dedup rows; dedup keeps only the
	// replacement job for SN-3.
	require.Equal(t, 1, summary.ChainsProcessed)
	require.Equal(t, 1, summary.ChainsCreated)
	require.Equal(t, 2, summary.JobsLinked)

	jobRepo := repositories.NewJobRepository(db, db)
	active, err := jobRepo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "J-1", active[0].JobID)
	require.Equal(t, "J-4", active[1].JobID)

	archiveRepo := repositories.NewArchiveRepository(db, db)
	archived, err := archiveRepo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, "J-2", archived[0].JobID)

	chain, err := svc.Chains().GetChainDetail(ctx, "SN-3")
	require.NoError(t, err)
	require.NotNil(t, chain)
	require.Equal(t, 2, chain.TotalJobs)
	require.Equal(t, 1, chain.RescheduleCount)
	require.Equal(t, "J-4", chain.CurrentJobID)
	require.Len(t, chain.Members, 2)

	snap, err := svc.KPIs().Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, 3, snap.TotalJobs)
	require.Equal(t, 1, snap.ArrivedCount)
	require.Equal(t, 100.0, snap.OnTimeRate)

	deltas, err := svc.LatestDeltas(ctx)
	require.NoError(t, err)
	require.NotNil(t, deltas)
	require.Equal(t, 0, deltas.Total())

	latest, err := svc.LatestSummary(ctx)
	require.NoError(t, err)
	require.Equal(t, summary, latest)

	alerts, err := svc.LatestAlerts(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts)
}

func TestRunSecondImportDeltas(t *testing.T) {
	svc, db := newTestImportService(t)
	ctx := context.Background()

	_, err := svc.Run(ctx, firstBatch(), date(2026, 2, 16), "02_16_26.01.json")
	require.NoError(t, err)

	secondBatch := []normalizer.Record{
		{
			"_kp_job_id":            "J-1",
			"product_serial_number": "SN-1",
			"job_status":            "Delivered",
			"job_date":              "2026-02-16",
			"time_complete":         "10:05:00",
			"_kf_client_code_id":    "Metro Freight",
		},
		{
			"_kp_job_id":            "J-4",
			"product_serial_number": "SN-3",
			"job_status":            "Delivery Scheduled",
			"job_date":              "2026-02-20",
			"timestamp_create":      "2026-02-12 08:00:00",
		},
		{
			"_kp_job_id":            "J-5",
			"product_serial_number": "SN-5",
			"job_status":            "Delivery Scheduled",
			"job_date":              "2026-02-21",
		},
	}

	summary, err := svc.Run(ctx, secondBatch, date(2026, 2, 17), "02_17_26.01.json")
	require.NoError(t, err)

	require.Equal(t, 3, summary.RecordsRead)
	require.Equal(t, 0, summary.DuplicatesRemoved)
	require.Equal(t, 2, summary.ActiveJobs)
	require.Equal(t, 1, summary.JobsArchived)

	// J-1 completed and left the active set.
	require.Equal(t, 1, summary.StaleRemoved)

	require.Equal(t, 1, summary.NewJobs)
	require.Equal(t, 1, summary.NewArrivals)
	require.Equal(t, 1, summary.NewDeliveries)
	require.Equal(t, 0, summary.NewOverdue)

	// J-1 changed status, J-5 appeared, J-4 did not move.
	require.Equal(t, 2, summary.TransitionsRecorded)

	deltas, err := svc.LatestDeltas(ctx)
	require.NoError(t, err)
	require.Equal(t, "J-5", deltas.NewJobs[0].JobID)
	require.Equal(t, "J-1", deltas.NewArrivals[0].JobID)
	require.NotNil(t, deltas.NewArrivals[0].DelayDays)
	require.Equal(t, 0, *deltas.NewArrivals[0].DelayDays)
	require.Equal(t, "J-1", deltas.NewDeliveries[0].JobID)
	require.Equal(t, "Delivered", deltas.NewDeliveries[0].Status)

	jobRepo := repositories.NewJobRepository(db, db)
	active, err := jobRepo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "J-4", active[0].JobID)
	require.Equal(t, "J-5", active[1].JobID)

	archiveRepo := repositories.NewArchiveRepository(db, db)
	archived, err := archiveRepo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 2)

	// Day two means two KPI snapshots and a first trend comparison.
	snap, err := svc.KPIs().Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "2026-02-17", snap.ReportDate.Format("2006-01-02"))

	trends, err := svc.KPIs().Trends(ctx)
	require.NoError(t, err)
	require.Len(t, trends, 3)
}

func TestRunSameBatchTwice(t *testing.T) {
	svc, db := newTestImportService(t)
	ctx := context.Background()
	today := date(2026, 2, 16)

	_, err := svc.Run(ctx, firstBatch(), today, "02_16_26.01.json")
	require.NoError(t, err)

	summary, err := svc.Run(ctx, firstBatch(), today, "02_16_26.02.json")
	require.NoError(t, err)

	require.Equal(t, 2, summary.ActiveJobs)
	require.Equal(t, 0, summary.StaleRemoved)
	require.Equal(t, 0, summary.Errors)

	// Every (job, status) pair is already recorded.
	require.Equal(t, 0, summary.TransitionsRecorded)

	// A completed job never enters the active snapshot, so a rerun that
	// still carries it reports it as new.
	require.Equal(t, 1, summary.NewJobs)
	deltas, err := svc.LatestDeltas(ctx)
	require.NoError(t, err)
	require.Equal(t, "J-2", deltas.NewJobs[0].JobID)

	require.Equal(t, 1, summary.ChainsProcessed)
	require.Equal(t, 0, summary.ChainsCreated)

	jobRepo := repositories.NewJobRepository(db, db)
	active, err := jobRepo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	archiveRepo := repositories.NewArchiveRepository(db, db)
	archived, err := archiveRepo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)

	chain, err := svc.Chains().GetChainDetail(ctx, "SN-3")
	require.NoError(t, err)
	require.Len(t, chain.Members, 2)
}

func TestRunStampsTransitionsWithReportDate(t *testing.T) {
	svc, _ := newTestImportService(t)
	ctx := context.Background()

	_, err := svc.Run(ctx, firstBatch(), date(2026, 2, 16), "02_16_26.01.json")
	require.NoError(t, err)

	secondBatch := []normalizer.Record{
		{
			"_kp_job_id":            "J-4",
			"product_serial_number": "SN-3",
			"job_status":            "Out for Delivery",
			"job_date":              "2026-02-20",
			"timestamp_create":      "2026-02-12 08:00:00",
		},
	}
	_, err = svc.Run(ctx, secondBatch, date(2026, 2, 17), "02_17_26.01.json")
	require.NoError(t, err)

	// Transitions carry the batch's report date, so dwell spans the full
	// day between the two exports rather than the import wall clock.
	dwell, err := svc.KPIs().DwellAggregates(ctx)
	require.NoError(t, err)
	require.Len(t, dwell, 1)
	require.Equal(t, "Delivery Scheduled", dwell[0].FromStatus)
	require.Equal(t, "Out for Delivery", dwell[0].ToStatus)
	require.Equal(t, 1440.0, dwell[0].AvgMinutes)
}

func TestRunAsOfUsesSuppliedPreviousDate(t *testing.T) {
	svc, _ := newTestImportService(t)
	ctx := context.Background()

	batch := []normalizer.Record{
		{
			"_kp_job_id":            "J-1",
			"product_serial_number": "SN-1",
			"job_status":            "Delivery Scheduled",
			"job_date":              "2026-02-14",
		},
	}

	_, err := svc.RunAsOf(ctx, batch, date(2026, 2, 13), time.Time{}, "02_13_26.01.json")
	require.NoError(t, err)

	// Replaying Monday's export against Friday's: the Saturday job
	// slipped its date during the gap even though both stored snapshots
	// were written moments ago.
	summary, err := svc.RunAsOf(ctx, batch, date(2026, 2, 16), date(2026, 2, 13), "02_16_26.01.json")
	require.NoError(t, err)
	require.Equal(t, 1, summary.NewOverdue)

	deltas, err := svc.LatestDeltas(ctx)
	require.NoError(t, err)
	require.Len(t, deltas.NewOverdue, 1)
	require.Equal(t, "J-1", deltas.NewOverdue[0].JobID)
	require.NotNil(t, deltas.NewOverdue[0].DaysOverdue)
	require.Equal(t, 2, *deltas.NewOverdue[0].DaysOverdue)
}

func TestRunEmptyBatchFailsBeforeWrites(t *testing.T) {
	svc, db := newTestImportService(t)
	ctx := context.Background()

	_, err := svc.Run(ctx, firstBatch(), date(2026, 2, 16), "02_16_26.01.json")
	require.NoError(t, err)

	_, err = svc.Run(ctx, []normalizer.Record{}, date(2026, 2, 17), "02_17_26.01.json")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no records")

	// The previous snapshot survives a truncated export.
	jobRepo := repositories.NewJobRepository(db, db)
	active, err := jobRepo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestActiveJobsFilterPassthrough(t *testing.T) {
	svc, _ := newTestImportService(t)
	ctx := context.Background()
	today := date(2026, 2, 16)

	_, err := svc.Run(ctx, firstBatch(), today, "02_16_26.01.json")
	require.NoError(t, err)

	metro, err := svc.ActiveJobs(ctx, repositories.JobFilter{Carrier: "Metro Freight"}, today)
	require.NoError(t, err)
	require.Len(t, metro, 1)
	require.Equal(t, "J-1", metro[0].JobID)

	job, err := svc.GetJob(ctx, "J-4")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "SN-3", job.ProductSerial)

	missing, err := svc.GetJob(ctx, "J-404")
	require.NoError(t, err)
	require.Nil(t, missing)
}
