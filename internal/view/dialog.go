package view

import (
	"fmt"
	"strings"

	"confbot/internal/domain"
	"confbot/pkg/tgui"
)

// Prompt texts of the itinerary editing dialog.
const (
	AskIntention     = "Which entries do you want to edit?"
	RepeatIntention  = "Please choose what you want to edit."
	RepeatDay        = "Please choose one of the listed days."
	RepeatSlot       = "Please choose one of the listed slots."
	UnknownLocation  = "There is no such location, please try again."
	Done             = "Done"
	Cancelled        = "Cancelled."
	NothingScheduled = "There is nothing scheduled yet."
	DateHint         = "Use all, today, tomorrow, a day number or DD.MM."
)

// DayChoice lists the days to pick from.
func DayChoice(dates []string) string {
	return tgui.Esc("Available days:\n" + strings.Join(DateStrings(dates), "\n")).String()
}

// SlotChoice lists every slot numbered from 0, grouped by day. Slots must be
// ordered by (date, start).
func (r Renderer) SlotChoice(slots []domain.TimeSlot) string {
	var b strings.Builder
	b.WriteString("Choose a slot number:\n")
	day := 0
	for i, s := range slots {
		if i == 0 || slots[i-1].Date != s.Date {
			day++
			fmt.Fprintf(&b, "Day %d: %s\n", day, Day(s.Date))
		}
		fmt.Fprintf(&b, "%d: %s\n", i, r.SlotString(s, false))
	}
	return tgui.Esc(strings.TrimRight(b.String(), "\n")).String()
}

// SlotOptions shows the talks of one slot while editing.
func (r Renderer) SlotOptions(s domain.TimeSlot, talks []domain.Talk) string {
	lines := make([]string, 0, len(talks)+2)
	lines = append(lines, r.SlotString(s, true), "Options:")
	for _, t := range talks {
		lines = append(lines, r.Entry(t, EntryPlaceOnly))
	}
	return tgui.Esc(strings.Join(lines, "\n")).String()
}
