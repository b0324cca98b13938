package snapshot

import (
	"strings"
	"time"

	"example.com/dockops/services/jobtracker/internal/models"
)

// DetectTransitions finds every status change between the previous
// snapshot and the current batch. Jobs unseen before, including the
// whole first run, produce an initial transition with a nil from_status
// so the stage history starts at intake. Comparison is case-insensitive
// because the source system is not consistent about casing.
func DetectTransitions(current, previous []models.Job, at time.Time) []models.StageTransition {
	prevByID := make(map[string]*models.Job, len(previous))
	for i := range previous {
		prevByID[previous[i].JobID] = &previous[i]
	}

	var transitions []models.StageTransition
	for i := range current {
		curr := &current[i]
		if curr.JobID == "" || curr.Status == "" {
			continue
		}

		prev, known := prevByID[curr.JobID]
		if !known {
			transitions = append(transitions, models.StageTransition{
				JobID:          curr.JobID,
				FromStatus:     nil,
				ToStatus:       curr.Status,
				TransitionedAt: at,
			})
			continue
		}

		if strings.EqualFold(prev.Status, curr.Status) {
			continue
		}

		// A blank previous status gives no known prior stage.
		var from *string
		if prev.Status != "" {
			fromStatus := prev.Status
			from = &fromStatus
		}
		transitions = append(transitions, models.StageTransition{
			JobID:          curr.JobID,
			FromStatus:     from,
			ToStatus:       curr.Status,
			TransitionedAt: at,
		})
	}

	return transitions
}
