package view

import (
	"fmt"
	"strings"
	"time"

	"confbot/internal/domain"
	"confbot/pkg/tgui"
)

// ParseMode is the Telegram parse mode every rendered text expects.
const ParseMode = "HTML"

// NothingOption is the editing-dialog answer that clears a selection.
const NothingOption = "Nothing"

// Intention labels offered at the start of the editing dialog.
const (
	IntentionAll    = "All"
	IntentionDay    = "Day"
	IntentionSingle = "Single slot"
)

// EntryFormat picks how a talk line is laid out.
type EntryFormat int

const (
	EntryDefault   EntryFormat = iota // 09:00 - 10:00: Title (Speaker)
	EntryWithPlace                    // 09:00 - 10:00 Room: Title (Speaker)
	EntryPlaceOnly                    // Room: Title (Speaker)
)

type Renderer struct {
	loc *time.Location
}

// New returns a renderer for the display timezone loc (UTC when nil).
func New(loc *time.Location) Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return Renderer{loc: loc}
}

func (r Renderer) Location() *time.Location { return r.loc }

func (r Renderer) clock(t time.Time) string { return t.In(r.loc).Format("15:04") }

// Day formats an event-calendar day ("2006-01-02") as DD.MM.
func Day(date string) string {
	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return date
	}
	return d.Format("02.01")
}

// SlotString renders "09:00 - 10:00", prefixed by the day when withDay is set.
func (r Renderer) SlotString(s domain.TimeSlot, withDay bool) string {
	span := r.clock(s.Start) + " - " + r.clock(s.End)
	if withDay {
		return Day(s.Date) + " " + span
	}
	return span
}

// Entry renders one talk line as plain text.
func (r Renderer) Entry(t domain.Talk, f EntryFormat) string {
	switch f {
	case EntryWithPlace:
		return fmt.Sprintf("%s %s: %s (%s)", r.SlotString(t.Slot, false), t.Location, t.Title, t.Speaker)
	case EntryPlaceOnly:
		return fmt.Sprintf("%s: %s (%s)", t.Location, t.Title, t.Speaker)
	default:
		return fmt.Sprintf("%s: %s (%s)", r.SlotString(t.Slot, false), t.Title, t.Speaker)
	}
}

// DateStrings numbers the days: "Day 1: 10.06".
func DateStrings(dates []string) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = fmt.Sprintf("Day %d: %s", i+1, Day(d))
	}
	return out
}

// Starting is the reminder sent lead before a selected talk begins.
func (r Renderer) Starting(t domain.Talk, lead time.Duration) string {
	return fmt.Sprintf("Talk %s (%s) starts in %s at %s",
		tgui.B(`"`+t.Title+`"`),
		tgui.Esc(t.Speaker),
		minutes(lead),
		tgui.B(t.Location),
	)
}

// Changed lists the touched slots of one attendee after a schedule edit.
func (r Renderer) Changed(slots []domain.TimeSlot) string {
	lines := make([]tgui.H, 0, len(slots)+2)
	lines = append(lines, tgui.B("The schedule changed for these slots:"))
	for _, s := range slots {
		lines = append(lines, tgui.Esc("• "+r.SlotString(s, true)))
	}
	lines = append(lines, tgui.Esc("Please check your selection with /my or /configure."))
	return tgui.JoinH("\n", lines...).String()
}

func (r Renderer) Settings(enabled bool) string {
	state := "off"
	if enabled {
		state = "on"
	}
	return tgui.B("Current settings").String() + "\n" + tgui.Esc("Notifications: "+state).String()
}

// Timetable renders talks grouped by day, then by location. Input must be
// ordered by (date, location, start), as returned by the schedule store.
func (r Renderer) Timetable(talks []domain.Talk, withDay bool) string {
	if len(talks) == 0 {
		return tgui.Esc("The schedule is empty.").String()
	}
	var b strings.Builder
	for i, t := range talks {
		newDay := i == 0 || talks[i-1].Slot.Date != t.Slot.Date
		if newDay && withDay {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tgui.B(Day(t.Slot.Date)).String())
			b.WriteString("\n")
		}
		if newDay || talks[i-1].Location != t.Location {
			b.WriteString(tgui.I(t.Location).String())
			b.WriteString("\n")
		}
		b.WriteString(tgui.Esc(r.Entry(t, EntryDefault)).String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Personal renders an attendee's itinerary grouped by day. Input must be
// ordered by (date, start).
func (r Renderer) Personal(talks []domain.Talk) string {
	if len(talks) == 0 {
		return tgui.Esc("You have not selected any talks yet. Use /configure.").String()
	}
	var b strings.Builder
	for i, t := range talks {
		if i == 0 || talks[i-1].Slot.Date != t.Slot.Date {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tgui.B(Day(t.Slot.Date)).String())
			b.WriteString("\n")
		}
		b.WriteString(tgui.Esc(r.Entry(t, EntryWithPlace)).String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func minutes(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
