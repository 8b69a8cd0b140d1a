package notify

import (
	"fmt"
	"sort"
	"time"

	"confbot/internal/domain"
)

type Kind string

const (
	KindFirst         Kind = "first"
	KindLocationCheck Kind = "location_check"
	jobNamePrefix          = "reminder:slot-"
)

// PlannedJob is one reminder trigger.
type PlannedJob struct {
	Name     string
	Kind     Kind
	Slot     domain.TimeSlot
	Previous *domain.TimeSlot // set for KindLocationCheck
	At       time.Time
	Lead     time.Duration
}

// JobName is the scheduler name of the reminder job for a slot.
func JobName(slotID int64) string { return fmt.Sprintf("%s%d", jobNamePrefix, slotID) }

// BuildPlan computes the complete job set for slots. Slots are grouped by
// their event day and ordered by start inside each day.
func BuildPlan(slots []domain.TimeSlot, lead time.Duration) []PlannedJob {
	ordered := append([]domain.TimeSlot(nil), slots...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date < ordered[j].Date
		}
		return ordered[i].Start.Before(ordered[j].Start)
	})

	out := make([]PlannedJob, 0, len(ordered))
	for i, s := range ordered {
		job := PlannedJob{
			Name: JobName(s.ID),
			Kind: KindFirst,
			Slot: s,
			At:   s.Start.Add(-lead),
			Lead: lead,
		}
		if i > 0 && ordered[i-1].Date == s.Date {
			prev := ordered[i-1]
			job.Kind = KindLocationCheck
			job.Previous = &prev
		}
		out = append(out, job)
	}
	return out
}
