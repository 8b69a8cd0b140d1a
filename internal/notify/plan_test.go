package notify

import (
	"testing"
	"time"

	"confbot/internal/domain"

	"github.com/stretchr/testify/require"
)

func slotAt(id int64, date, from, to string) domain.TimeSlot {
	parse := func(hhmm string) time.Time {
		t, err := time.Parse("2006-01-02 15:04", date+" "+hhmm)
		if err != nil {
			panic(err)
		}
		return t
	}
	return domain.TimeSlot{ID: id, Date: date, Start: parse(from), End: parse(to)}
}

func TestBuildPlan(t *testing.T) {
	slots := []domain.TimeSlot{
		slotAt(3, "2025-06-11", "09:00", "10:00"),
		slotAt(1, "2025-06-10", "09:00", "10:00"),
		slotAt(2, "2025-06-10", "10:00", "11:00"),
		slotAt(4, "2025-06-10", "12:00", "13:00"),
	}
	plan := BuildPlan(slots, 5*time.Minute)
	require.Len(t, plan, 4)

	require.Equal(t, KindFirst, plan[0].Kind)
	require.Equal(t, int64(1), plan[0].Slot.ID)
	require.Nil(t, plan[0].Previous)
	require.Equal(t, slots[1].Start.Add(-5*time.Minute), plan[0].At)
	require.Equal(t, "reminder:slot-1", plan[0].Name)

	require.Equal(t, KindLocationCheck, plan[1].Kind)
	require.Equal(t, int64(2), plan[1].Slot.ID)
	require.Equal(t, int64(1), plan[1].Previous.ID)

	require.Equal(t, KindLocationCheck, plan[2].Kind)
	require.Equal(t, int64(4), plan[2].Slot.ID)
	require.Equal(t, int64(2), plan[2].Previous.ID)

	// A new day starts over with a first-slot job.
	require.Equal(t, KindFirst, plan[3].Kind)
	require.Equal(t, int64(3), plan[3].Slot.ID)
	require.Nil(t, plan[3].Previous)
}

func TestBuildPlanEdgeCases(t *testing.T) {
	require.Empty(t, BuildPlan(nil, time.Minute))

	plan := BuildPlan([]domain.TimeSlot{slotAt(1, "2025-06-10", "09:00", "10:00")}, time.Minute)
	require.Len(t, plan, 1)
	require.Equal(t, KindFirst, plan[0].Kind)
}
