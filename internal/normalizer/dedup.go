package normalizer

import (
	"time"

	"example.com/dockops/services/jobtracker/internal/models"
)

// Deduplicate keeps the most recent job per product serial and reports
// how many rows were dropped. Jobs without a serial are exempt because
// there is nothing to key them on. Recency is judged by the source
// creation timestamp, then planned date, then job id, so the outcome is
// deterministic for any input order.
func Deduplicate(jobs []models.Job) ([]models.Job, int) {
	winners := make(map[string]int)
	for i, job := range jobs {
		serial := job.ProductSerial
		if serial == "" {
			continue
		}
		prev, ok := winners[serial]
		if !ok || moreRecent(jobs[i], jobs[prev]) {
			winners[serial] = i
		}
	}

	kept := make([]models.Job, 0, len(jobs))
	for i, job := range jobs {
		if job.ProductSerial == "" || winners[job.ProductSerial] == i {
			kept = append(kept, job)
		}
	}

	return kept, len(jobs) - len(kept)
}

// moreRecent reports whether a should win over b when both carry the
// same product serial. A present timestamp always beats a missing one.
func moreRecent(a, b models.Job) bool {
	if cmp := compareTimes(a.JobCreatedAt, b.JobCreatedAt); cmp != 0 {
		return cmp > 0
	}
	if cmp := compareTimes(a.PlannedDate, b.PlannedDate); cmp != 0 {
		return cmp > 0
	}
	return a.JobID > b.JobID
}

func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.After(*b):
		return 1
	case b.After(*a):
		return -1
	}
	return 0
}
