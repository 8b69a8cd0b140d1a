package view

import (
	"strings"
	"testing"
	"time"

	"confbot/internal/domain"

	"github.com/stretchr/testify/require"
)

func slot(id int64, date, from, to string) domain.TimeSlot {
	parse := func(hhmm string) time.Time {
		t, err := time.Parse("2006-01-02 15:04", date+" "+hhmm)
		if err != nil {
			panic(err)
		}
		return t
	}
	return domain.TimeSlot{ID: id, Date: date, Start: parse(from), End: parse(to)}
}

func TestEntryFormats(t *testing.T) {
	r := New(nil)
	talk := domain.Talk{Title: "A title", Speaker: "A Speaker", Location: "a location", Slot: slot(1, "2025-06-15", "09:00", "10:00")}

	require.Equal(t, "09:00 - 10:00: A title (A Speaker)", r.Entry(talk, EntryDefault))
	require.Equal(t, "09:00 - 10:00 a location: A title (A Speaker)", r.Entry(talk, EntryWithPlace))
	require.Equal(t, "a location: A title (A Speaker)", r.Entry(talk, EntryPlaceOnly))
}

func TestDisplayTimezone(t *testing.T) {
	loc := time.FixedZone("NOVT", 7*3600)
	r := New(loc)
	s := slot(1, "2025-06-15", "02:00", "03:00")
	require.Equal(t, "09:00 - 10:00", r.SlotString(s, false))
	require.Equal(t, "15.06 09:00 - 10:00", r.SlotString(s, true))
}

func TestStartingEscapesHTML(t *testing.T) {
	r := New(nil)
	msg := r.Starting(domain.Talk{Title: "Go <generics>", Speaker: "Rob & Ken", Location: "Hall A"}, 5*time.Minute)
	require.Contains(t, msg, "5 minutes")
	require.Contains(t, msg, "&lt;generics&gt;")
	require.Contains(t, msg, "Rob &amp; Ken")
	require.Contains(t, msg, "<b>Hall A</b>")
	require.Contains(t, r.Starting(domain.Talk{}, time.Minute), "1 minute ")
}

func TestChangedListsSlots(t *testing.T) {
	r := New(nil)
	msg := r.Changed([]domain.TimeSlot{
		slot(1, "2025-06-15", "09:00", "10:00"),
		slot(2, "2025-06-15", "10:00", "11:00"),
	})
	require.Contains(t, msg, "15.06 09:00 - 10:00")
	require.Contains(t, msg, "15.06 10:00 - 11:00")
	require.Equal(t, 4, strings.Count(msg, "\n")+1)
}

func TestTimetableGroupsByDayAndLocation(t *testing.T) {
	r := New(nil)
	d1s1 := slot(1, "2025-06-15", "09:00", "10:00")
	d1s2 := slot(2, "2025-06-15", "10:00", "11:00")
	d2s1 := slot(3, "2025-06-16", "09:00", "10:00")
	talks := []domain.Talk{
		{Title: "T1", Speaker: "S1", Location: "A", Slot: d1s1},
		{Title: "T3", Speaker: "S3", Location: "A", Slot: d1s2},
		{Title: "T2", Speaker: "S2", Location: "B", Slot: d1s1},
		{Title: "T4", Speaker: "S4", Location: "A", Slot: d2s1},
	}
	got := r.Timetable(talks, true)
	require.Equal(t, strings.Join([]string{
		"<b>15.06</b>",
		"<i>A</i>",
		"09:00 - 10:00: T1 (S1)",
		"10:00 - 11:00: T3 (S3)",
		"<i>B</i>",
		"09:00 - 10:00: T2 (S2)",
		"",
		"<b>16.06</b>",
		"<i>A</i>",
		"09:00 - 10:00: T4 (S4)",
	}, "\n"), got)

	require.NotContains(t, r.Timetable(talks[:1], false), "15.06")
	require.Contains(t, r.Timetable(nil, true), "empty")
}

func TestPersonal(t *testing.T) {
	r := New(nil)
	require.Contains(t, r.Personal(nil), "/configure")
	got := r.Personal([]domain.Talk{{Title: "T1", Speaker: "S1", Location: "A", Slot: slot(1, "2025-06-15", "09:00", "10:00")}})
	require.Equal(t, "<b>15.06</b>\n09:00 - 10:00 A: T1 (S1)", got)
}

func TestDialogTexts(t *testing.T) {
	r := New(nil)
	require.Equal(t, []string{"Day 1: 15.06", "Day 2: 16.06"}, DateStrings([]string{"2025-06-15", "2025-06-16"}))

	got := r.SlotChoice([]domain.TimeSlot{
		slot(1, "2025-06-15", "09:00", "10:00"),
		slot(2, "2025-06-16", "09:00", "10:00"),
	})
	require.Equal(t, "Choose a slot number:\nDay 1: 15.06\n0: 09:00 - 10:00\nDay 2: 16.06\n1: 09:00 - 10:00", got)

	opts := r.SlotOptions(slot(1, "2025-06-15", "09:00", "10:00"), []domain.Talk{{Title: "T", Speaker: "S", Location: "A"}})
	require.Equal(t, "15.06 09:00 - 10:00\nOptions:\nA: T (S)", opts)
	require.Contains(t, r.Settings(false), "off")
}
