package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/dockops/services/jobtracker/internal/models"
)

// testDB creates an in-memory SQLite database with all required tables.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := models.SetupModels(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func TestJobRepositoryInsertBatchUpserts(t *testing.T) {
	db := testDB(t)
	repo := NewJobRepository(db, db)
	ctx := context.Background()

	jobs := make([]models.Job, 0, 60)
	for i := 0; i < 60; i++ {
		jobs = append(jobs, models.Job{
			JobID:  fmt.Sprintf("J-%03d", i),
			Status: "Delivery Scheduled",
		})
	}

	inserted, err := repo.InsertBatch(ctx, jobs)
	require.NoError(t, err)
	require.Equal(t, int64(60), inserted)

	// Re-inserting the same ids must refresh rows, not duplicate them.
	jobs[0].Status = "Out for Delivery"
	_, err = repo.InsertBatch(ctx, jobs)
	require.NoError(t, err)

	all, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, all, 60)
	require.Equal(t, "Out for Delivery", all[0].Status)
}

func TestJobRepositoryDeleteByIDsInBatches(t *testing.T) {
	db := testDB(t)
	repo := NewJobRepository(db, db)
	ctx := context.Background()

	jobs := make([]models.Job, 0, 60)
	ids := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("J-%03d", i)
		jobs = append(jobs, models.Job{JobID: id, Status: "Pending"})
		ids = append(ids, id)
	}
	_, err := repo.InsertBatch(ctx, jobs)
	require.NoError(t, err)

	deleted, err := repo.DeleteByIDs(ctx, ids)
	require.NoError(t, err)
	require.Equal(t, int64(60), deleted)

	all, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestJobRepositoryGetByID(t *testing.T) {
	db := testDB(t)
	repo := NewJobRepository(db, db)
	ctx := context.Background()

	_, err := repo.InsertBatch(ctx, []models.Job{{JobID: "J-1", Status: "Pending", Carrier: "Skyline"}})
	require.NoError(t, err)

	job, err := repo.GetByID(ctx, "J-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "Skyline", job.Carrier)

	missing, err := repo.GetByID(ctx, "J-404")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestJobRepositoryListFiltered(t *testing.T) {
	db := testDB(t)
	repo := NewJobRepository(db, db)
	ctx := context.Background()
	today := date(2026, 2, 16)

	_, err := repo.InsertBatch(ctx, []models.Job{
		{JobID: "J-1", Carrier: "Metro Freight", State: "TX", Market: "Austin", Status: "Delivery Scheduled", PlannedDate: datePtr(2026, 2, 20)},
		{JobID: "J-2", Carrier: "Skyline", State: "GA", Market: "Atlanta", Status: "Rescheduled by Carrier", PlannedDate: datePtr(2026, 2, 14)},
		{JobID: "J-3", Carrier: "Metro Freight", State: "TX", Market: "Austin", Status: "Out for Delivery", PlannedDate: datePtr(2026, 2, 15), ActualDate: datePtr(2026, 2, 15)},
		{JobID: "J-4", Carrier: "Metro Freight", State: "TX", Market: "Dallas", Status: "Delivery Scheduled", PlannedDate: datePtr(2026, 2, 16)},
	})
	require.NoError(t, err)

	byCarrier, err := repo.ListFiltered(ctx, JobFilter{Carrier: "Metro Freight"}, today)
	require.NoError(t, err)
	require.Len(t, byCarrier, 3)

	byStatus, err := repo.ListFiltered(ctx, JobFilter{Status: "resched"}, today)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "J-2", byStatus[0].JobID)

	// Overdue means past the planned date with no arrival. An arrived
	// job and a job planned for today both stay out.
	overdue, err := repo.ListFiltered(ctx, JobFilter{OverdueOnly: true}, today)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, "J-2", overdue[0].JobID)

	page, err := repo.ListFiltered(ctx, JobFilter{Limit: 2}, today)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "J-2", page[0].JobID)
	require.Equal(t, "J-3", page[1].JobID)

	rest, err := repo.ListFiltered(ctx, JobFilter{Limit: 2, Offset: 2}, today)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, "J-4", rest[0].JobID)
	require.Equal(t, "J-1", rest[1].JobID)
}

func TestArchiveRepositoryUpsertRefreshes(t *testing.T) {
	db := testDB(t)
	repo := NewArchiveRepository(db, db)
	ctx := context.Background()

	job := models.ArchivedJob{Job: models.Job{JobID: "J-9", Status: "Delivered"}}
	_, err := repo.Upsert(ctx, []models.ArchivedJob{job})
	require.NoError(t, err)

	job.Status = "Delivery Complete"
	job.SignedBy = "B. Castillo"
	_, err = repo.Upsert(ctx, []models.ArchivedJob{job})
	require.NoError(t, err)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Delivery Complete", all[0].Status)
	require.Equal(t, "B. Castillo", all[0].SignedBy)
}

func TestChainRepositoryCreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewChainRepository(db, db)
	ctx := context.Background()

	missing, err := repo.GetBySerial(ctx, "SN-404")
	require.NoError(t, err)
	require.Nil(t, missing)

	chain := &models.Chain{ProductSerial: "SN-1", Carrier: "Skyline", TotalJobs: 2}
	require.NoError(t, repo.Create(ctx, chain))
	require.NotEqual(t, uuid.Nil, chain.ID)

	found, err := repo.GetBySerial(ctx, "SN-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, chain.ID, found.ID)
	require.Equal(t, "Skyline", found.Carrier)
}

func TestChainRepositoryUpdate(t *testing.T) {
	db := testDB(t)
	repo := NewChainRepository(db, db)
	ctx := context.Background()

	chain := &models.Chain{ProductSerial: "SN-1"}
	require.NoError(t, repo.Create(ctx, chain))

	chain.Carrier = "Metro Freight"
	chain.TotalJobs = 3
	chain.RescheduleCount = 2
	chain.TotalDelayDays = 9
	chain.CurrentStatus = "Delivery Scheduled"
	chain.CurrentJobID = "J-3"
	require.NoError(t, repo.Update(ctx, chain))

	found, err := repo.GetBySerial(ctx, "SN-1")
	require.NoError(t, err)
	require.Equal(t, 3, found.TotalJobs)
	require.Equal(t, 2, found.RescheduleCount)
	require.Equal(t, 9, found.TotalDelayDays)
	require.Equal(t, "J-3", found.CurrentJobID)
}

func TestChainRepositoryUpsertMemberIdempotent(t *testing.T) {
	db := testDB(t)
	repo := NewChainRepository(db, db)
	ctx := context.Background()

	chain := &models.Chain{ProductSerial: "SN-1"}
	require.NoError(t, repo.Create(ctx, chain))

	// Out of order on purpose; the preload sorts by sequence.
	second := &models.ChainMember{ChainID: chain.ID, JobID: "J-2", SequenceOrder: 2, Status: "Delivery Scheduled", LinkedAt: time.Now()}
	require.NoError(t, repo.UpsertMember(ctx, second))
	first := &models.ChainMember{ChainID: chain.ID, JobID: "J-1", SequenceOrder: 1, Status: "Rescheduled", LinkedAt: time.Now()}
	require.NoError(t, repo.UpsertMember(ctx, first))

	// Relinking an existing member updates it in place.
	relink := &models.ChainMember{ChainID: chain.ID, JobID: "J-2", SequenceOrder: 3, Status: "Out for Delivery", LinkedAt: time.Now()}
	require.NoError(t, repo.UpsertMember(ctx, relink))

	found, err := repo.GetWithMembers(ctx, "SN-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Len(t, found.Members, 2)
	require.Equal(t, "J-1", found.Members[0].JobID)
	require.Equal(t, "J-2", found.Members[1].JobID)
	require.Equal(t, 3, found.Members[1].SequenceOrder)
	require.Equal(t, "Out for Delivery", found.Members[1].Status)
}

func TestChainRepositoryListAlertCandidates(t *testing.T) {
	db := testDB(t)
	repo := NewChainRepository(db, db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Chain{ProductSerial: "SN-A", RescheduleCount: 3, TotalDelayDays: 2}))
	require.NoError(t, repo.Create(ctx, &models.Chain{ProductSerial: "SN-B", RescheduleCount: 0, TotalDelayDays: 20}))
	require.NoError(t, repo.Create(ctx, &models.Chain{ProductSerial: "SN-C", RescheduleCount: 1, TotalDelayDays: 3}))

	candidates, err := repo.ListAlertCandidates(ctx, 2, 14)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, "SN-A", candidates[0].ProductSerial)
	require.Equal(t, "SN-B", candidates[1].ProductSerial)
}

func TestChainRepositoryListChains(t *testing.T) {
	db := testDB(t)
	repo := NewChainRepository(db, db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Chain{ProductSerial: "SN-A", TotalJobs: 3, RescheduleCount: 2}))
	require.NoError(t, repo.Create(ctx, &models.Chain{ProductSerial: "SN-B", TotalJobs: 2, RescheduleCount: 0}))
	require.NoError(t, repo.Create(ctx, &models.Chain{ProductSerial: "SN-C", TotalJobs: 1}))

	chains, err := repo.ListChains(ctx, 2, 100, 0)
	require.NoError(t, err)
	require.Len(t, chains, 2)
	require.Equal(t, "SN-A", chains[0].ProductSerial)
}

func TestTransitionRepositoryCreateBatchSkipsDuplicates(t *testing.T) {
	db := testDB(t)
	repo := NewTransitionRepository(db, db)
	ctx := context.Background()

	t0 := date(2026, 2, 16).Add(6 * time.Hour)
	batch := []models.StageTransition{
		{JobID: "J-1", ToStatus: "Delivery Scheduled", TransitionedAt: t0},
		{JobID: "J-1", FromStatus: strPtr("Delivery Scheduled"), ToStatus: "Out for Delivery", TransitionedAt: t0.Add(time.Hour)},
		{JobID: "J-2", ToStatus: "Delivery Scheduled", TransitionedAt: t0},
	}

	recorded, err := repo.CreateBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, int64(3), recorded)

	// The same (job, status) pairs again insert nothing.
	again, err := repo.CreateBatch(ctx, []models.StageTransition{
		{JobID: "J-1", ToStatus: "Out for Delivery", TransitionedAt: t0.Add(2 * time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), again)

	history, err := repo.ListByJob(ctx, "J-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "Delivery Scheduled", history[0].ToStatus)
	require.Equal(t, "Out for Delivery", history[1].ToStatus)
	require.NotNil(t, history[1].FromStatus)
}

func TestTransitionRepositoryListAllOrdered(t *testing.T) {
	db := testDB(t)
	repo := NewTransitionRepository(db, db)
	ctx := context.Background()

	t0 := date(2026, 2, 16).Add(6 * time.Hour)
	_, err := repo.CreateBatch(ctx, []models.StageTransition{
		{JobID: "J-2", ToStatus: "Delivery Scheduled", TransitionedAt: t0},
		{JobID: "J-1", ToStatus: "Out for Delivery", TransitionedAt: t0.Add(time.Hour)},
		{JobID: "J-1", ToStatus: "Delivery Scheduled", TransitionedAt: t0},
	})
	require.NoError(t, err)

	all, err := repo.ListAllOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "J-1", all[0].JobID)
	require.Equal(t, "Delivery Scheduled", all[0].ToStatus)
	require.Equal(t, "J-1", all[1].JobID)
	require.Equal(t, "Out for Delivery", all[1].ToStatus)
	require.Equal(t, "J-2", all[2].JobID)
}

func TestKPIRepositoryUpsertSnapshotByDate(t *testing.T) {
	db := testDB(t)
	repo := NewKPIRepository(db, db)
	ctx := context.Background()
	today := date(2026, 2, 16)

	first := &models.KPISnapshot{ReportDate: today, TotalJobs: 10, OnTimeRate: 80}
	require.NoError(t, repo.UpsertSnapshot(ctx, first))

	// A same-day rerun replaces the row.
	second := &models.KPISnapshot{ReportDate: today, TotalJobs: 12, OnTimeRate: 85}
	require.NoError(t, repo.UpsertSnapshot(ctx, second))

	latest, err := repo.LatestTwo(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, 12, latest[0].TotalJobs)
	require.Equal(t, 85.0, latest[0].OnTimeRate)
}

func TestKPIRepositoryHistoryWindow(t *testing.T) {
	db := testDB(t)
	repo := NewKPIRepository(db, db)
	ctx := context.Background()
	today := date(2026, 2, 16)

	require.NoError(t, repo.UpsertSnapshot(ctx, &models.KPISnapshot{ReportDate: today, TotalJobs: 3}))
	require.NoError(t, repo.UpsertSnapshot(ctx, &models.KPISnapshot{ReportDate: today.AddDate(0, 0, -5), TotalJobs: 2}))
	require.NoError(t, repo.UpsertSnapshot(ctx, &models.KPISnapshot{ReportDate: today.AddDate(0, 0, -40), TotalJobs: 1}))

	history, err := repo.History(ctx, 30, today)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 2, history[0].TotalJobs)
	require.Equal(t, 3, history[1].TotalJobs)

	latest, err := repo.LatestTwo(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, 3, latest[0].TotalJobs)
	require.Equal(t, 2, latest[1].TotalJobs)
}

func TestKPIRepositoryCarrierKPIsByDateAndCarrier(t *testing.T) {
	db := testDB(t)
	repo := NewKPIRepository(db, db)
	ctx := context.Background()
	today := date(2026, 2, 16)

	require.NoError(t, repo.UpsertCarrierKPIs(ctx, []models.CarrierKPI{
		{ReportDate: today, Carrier: "Metro Freight", TotalJobs: 5, OnTimeRate: 60},
		{ReportDate: today, Carrier: "Skyline", TotalJobs: 8, OnTimeRate: 90},
	}))

	// Re-upserting one carrier refreshes it without touching the other.
	require.NoError(t, repo.UpsertCarrierKPIs(ctx, []models.CarrierKPI{
		{ReportDate: today, Carrier: "Metro Freight", TotalJobs: 6, OnTimeRate: 65},
	}))

	kpis, err := repo.CarriersForDate(ctx, today)
	require.NoError(t, err)
	require.Len(t, kpis, 2)
	require.Equal(t, "Skyline", kpis[0].Carrier)
	require.Equal(t, "Metro Freight", kpis[1].Carrier)
	require.Equal(t, 6, kpis[1].TotalJobs)
	require.Equal(t, 65.0, kpis[1].OnTimeRate)
}

func strPtr(s string) *string { return &s }
