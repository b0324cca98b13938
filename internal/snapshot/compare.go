// Package snapshot compares consecutive import snapshots. Everything
// here is pure: callers supply both snapshots and the reference dates,
// which keeps the delta rules testable without a clock or a store.
package snapshot

import (
	"time"

	"example.com/dockops/services/jobtracker/internal/models"
)

// Compare classifies the differences between the current batch and the
// previous active snapshot. today anchors the overdue check for the
// current run and previousDate is when the previous snapshot was taken,
// so a job is flagged overdue exactly once even when runs skip days.
//
// With no previous snapshot every delta list is empty: a first run has
// nothing to differ from.
func Compare(current, previous []models.Job, today, previousDate time.Time) models.DeltaSet {
	deltas := models.NewDeltaSet()
	if len(previous) == 0 {
		return deltas
	}

	prevByID := make(map[string]*models.Job, len(previous))
	for i := range previous {
		prevByID[previous[i].JobID] = &previous[i]
	}

	for i := range current {
		curr := &current[i]
		prev, known := prevByID[curr.JobID]

		if !known {
			deltas.NewJobs = append(deltas.NewJobs, models.DeltaEntry{
				JobID:   curr.JobID,
				Carrier: curr.Carrier,
				Market:  curr.Market,
				Status:  curr.Status,
			})
			continue
		}

		if prev.ActualDate == nil && curr.ActualDate != nil {
			deltas.NewArrivals = append(deltas.NewArrivals, models.DeltaEntry{
				JobID:      curr.JobID,
				Carrier:    curr.Carrier,
				ActualDate: curr.ActualDate,
				DelayDays:  curr.DelayDays,
			})
		}

		if !models.IsTerminalStatus(prev.Status) && models.IsTerminalStatus(curr.Status) {
			deltas.NewDeliveries = append(deltas.NewDeliveries, models.DeltaEntry{
				JobID:   curr.JobID,
				Carrier: curr.Carrier,
				Status:  curr.Status,
			})
		}

		if isOverdue(curr, today) && !isOverdue(prev, previousDate) {
			days := models.DaysBetween(models.DateOnly(*curr.PlannedDate), models.DateOnly(today))
			deltas.NewOverdue = append(deltas.NewOverdue, models.DeltaEntry{
				JobID:       curr.JobID,
				Carrier:     curr.Carrier,
				PlannedDate: curr.PlannedDate,
				DaysOverdue: &days,
			})
		}
	}

	return deltas
}

// isOverdue reports whether a job had missed its planned date as of the
// given reference date without having arrived.
func isOverdue(job *models.Job, asOf time.Time) bool {
	if job.ActualDate != nil || job.PlannedDate == nil {
		return false
	}
	return models.DateOnly(*job.PlannedDate).Before(models.DateOnly(asOf))
}

// SnapshotDate returns when a stored snapshot was taken. Active rows are
// rewritten wholesale on every import, so the newest insert time is the
// run time of the import that produced them.
func SnapshotDate(jobs []models.Job) time.Time {
	var latest time.Time
	for i := range jobs {
		if jobs[i].CreatedAt.After(latest) {
			latest = jobs[i].CreatedAt
		}
	}
	return latest
}
