// Package dialog implements the personal itinerary editing conversation as
// an explicit state machine.
//
// Step is pure: given a session and an event it returns the next session and
// the effects to perform. The Driver executes effects against storage and
// the chat, feeding query results back into Step as Loaded events.
package dialog

import (
	"strconv"
	"strings"

	"confbot/internal/domain"
	"confbot/internal/view"
)

type State string

const (
	StateIdle            State = "idle"
	StateChooseIntention State = "choose_intention"
	StateChooseDay       State = "choose_day"
	StateChooseSlot      State = "choose_slot"
	StateEditing         State = "editing"
)

// Option maps a location label of the slot being edited to its talk.
type Option struct {
	Location string `json:"location"`
	TalkID   int64  `json:"talk_id"`
}

// Session is the serializable per-chat dialog state.
type Session struct {
	State     State    `json:"state"`
	Remaining []int64  `json:"remaining,omitempty"`
	Days      []string `json:"days,omitempty"`
	Choices   []int64  `json:"choices,omitempty"`
	Current   int64    `json:"current,omitempty"`
	Options   []Option `json:"options,omitempty"`
}

func (s Session) Active() bool { return s.State != "" && s.State != StateIdle }

// Query names a read the driver performs for a Load effect.
type Query string

const (
	QueryAllSlotIDs Query = "all_slot_ids"
	QueryDates      Query = "dates"
	QuerySlots      Query = "slots"
	QueryDaySlotIDs Query = "day_slot_ids"
	QuerySlotTalks  Query = "slot_talks"
)

type Event interface{ isEvent() }

// Begin starts (or restarts) the dialog.
type Begin struct{}

// Cancel aborts the dialog.
type Cancel struct{}

// Text is a plain user answer.
type Text struct{ Text string }

// Loaded carries the result of a Load effect.
type Loaded struct {
	Query   Query
	IDs     []int64
	Dates   []string
	Slots   []domain.TimeSlot
	SlotID  int64 // QuerySlotTalks: the slot that was asked for
	Slot    domain.TimeSlot
	Talks   []domain.Talk
	Missing bool // QuerySlotTalks: the slot no longer exists
}

func (Begin) isEvent()  {}
func (Cancel) isEvent() {}
func (Text) isEvent()   {}
func (Loaded) isEvent() {}

type Effect interface{ isEffect() }

// Prompt sends text (view HTML) with an optional reply keyboard.
type Prompt struct {
	Text           string
	Keyboard       []string
	RemoveKeyboard bool
}

// Load asks the driver to run a query and feed the result back.
type Load struct {
	Query  Query
	Date   string
	SlotID int64
}

// SaveSelection stores the answer for one slot; nil TalkID clears it.
type SaveSelection struct {
	SlotID int64
	TalkID *int64
}

// Finish ends the dialog; the driver drops the stored session.
type Finish struct{}

func (Prompt) isEffect()        {}
func (Load) isEffect()          {}
func (SaveSelection) isEffect() {}
func (Finish) isEffect()        {}

// Machine holds the presentation settings transitions render with.
type Machine struct {
	render view.Renderer
}

func NewMachine(r view.Renderer) Machine { return Machine{render: r} }

// Step returns the next session and the effects to run, in order.
func (m Machine) Step(s Session, ev Event) (Session, []Effect) {
	switch e := ev.(type) {
	case Begin:
		return Session{State: StateChooseIntention}, []Effect{Prompt{
			Text:     view.AskIntention,
			Keyboard: []string{view.IntentionAll, view.IntentionDay, view.IntentionSingle},
		}}
	case Cancel:
		if !s.Active() {
			return Session{State: StateIdle}, nil
		}
		return Session{State: StateIdle}, []Effect{Prompt{Text: view.Cancelled, RemoveKeyboard: true}, Finish{}}
	case Text:
		return m.onText(s, strings.TrimSpace(e.Text))
	case Loaded:
		return m.onLoaded(s, e)
	}
	return s, nil
}

func (m Machine) onText(s Session, text string) (Session, []Effect) {
	switch s.State {
	case StateChooseIntention:
		switch text {
		case view.IntentionAll:
			return s, []Effect{Load{Query: QueryAllSlotIDs}}
		case view.IntentionDay:
			return s, []Effect{Load{Query: QueryDates}}
		case view.IntentionSingle:
			return s, []Effect{Load{Query: QuerySlots}}
		}
		return s, []Effect{Prompt{Text: view.RepeatIntention}}

	case StateChooseDay:
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 || n > len(s.Days) {
			return s, []Effect{Prompt{Text: view.RepeatDay}}
		}
		return s, []Effect{Load{Query: QueryDaySlotIDs, Date: s.Days[n-1]}}

	case StateChooseSlot:
		n, err := strconv.Atoi(text)
		if err != nil || n < 0 || n >= len(s.Choices) {
			return s, []Effect{Prompt{Text: view.RepeatSlot}}
		}
		return m.edit([]int64{s.Choices[n]})

	case StateEditing:
		if s.Current == 0 {
			// Options not loaded yet.
			return s, nil
		}
		if text == view.NothingOption {
			return m.advance(s, SaveSelection{SlotID: s.Current})
		}
		for _, o := range s.Options {
			if o.Location == text {
				id := o.TalkID
				return m.advance(s, SaveSelection{SlotID: s.Current, TalkID: &id})
			}
		}
		return s, []Effect{Prompt{Text: view.UnknownLocation}}
	}
	return s, nil
}

func (m Machine) onLoaded(s Session, e Loaded) (Session, []Effect) {
	switch {
	case s.State == StateChooseIntention && e.Query == QueryAllSlotIDs:
		return m.edit(e.IDs)

	case s.State == StateChooseIntention && e.Query == QueryDates:
		if len(e.Dates) == 0 {
			return m.nothing()
		}
		kb := make([]string, len(e.Dates))
		for i := range e.Dates {
			kb[i] = strconv.Itoa(i + 1)
		}
		return Session{State: StateChooseDay, Days: e.Dates}, []Effect{Prompt{Text: view.DayChoice(e.Dates), Keyboard: kb}}

	case s.State == StateChooseIntention && e.Query == QuerySlots:
		if len(e.Slots) == 0 {
			return m.nothing()
		}
		ids := make([]int64, len(e.Slots))
		for i, sl := range e.Slots {
			ids[i] = sl.ID
		}
		return Session{State: StateChooseSlot, Choices: ids}, []Effect{Prompt{Text: m.render.SlotChoice(e.Slots), RemoveKeyboard: true}}

	case s.State == StateChooseDay && e.Query == QueryDaySlotIDs:
		return m.edit(e.IDs)

	case s.State == StateEditing && e.Query == QuerySlotTalks:
		if len(s.Remaining) == 0 || e.SlotID != s.Remaining[0] {
			return s, nil
		}
		if e.Missing {
			return m.edit(s.Remaining[1:])
		}
		s.Current = e.Slot.ID
		s.Options = make([]Option, len(e.Talks))
		kb := make([]string, 0, len(e.Talks)+1)
		for i, t := range e.Talks {
			s.Options[i] = Option{Location: t.Location, TalkID: t.ID}
			kb = append(kb, t.Location)
		}
		kb = append(kb, view.NothingOption)
		return s, []Effect{Prompt{Text: m.render.SlotOptions(e.Slot, e.Talks), Keyboard: kb}}
	}
	return s, nil
}

// edit enters the editing state for the given slots, or finishes when none are left.
func (m Machine) edit(remaining []int64) (Session, []Effect) {
	if len(remaining) == 0 {
		return Session{State: StateIdle}, []Effect{Prompt{Text: view.Done, RemoveKeyboard: true}, Finish{}}
	}
	rest := append([]int64(nil), remaining...)
	return Session{State: StateEditing, Remaining: rest}, []Effect{Load{Query: QuerySlotTalks, SlotID: rest[0]}}
}

func (m Machine) advance(s Session, save SaveSelection) (Session, []Effect) {
	next, effects := m.edit(s.Remaining[1:])
	return next, append([]Effect{save}, effects...)
}

func (m Machine) nothing() (Session, []Effect) {
	return Session{State: StateIdle}, []Effect{Prompt{Text: view.NothingScheduled, RemoveKeyboard: true}, Finish{}}
}
