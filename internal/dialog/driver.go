package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"confbot/internal/domain"
	"confbot/pkg/logx"
)

// Store is the storage surface the driver needs.
type Store interface {
	GetAllSlotIDs(ctx context.Context) ([]int64, error)
	GetAllDates(ctx context.Context) ([]string, error)
	GetAllSlots(ctx context.Context) ([]domain.TimeSlot, error)
	GetSlotIDsOnDay(ctx context.Context, date string) ([]int64, error)
	GetInTimeSlot(ctx context.Context, slotID int64) (domain.TimeSlot, []domain.Talk, error)
	SaveSelection(ctx context.Context, attendeeID, slotID int64, talkID *int64) error

	LoadSession(ctx context.Context, chatID int64) ([]byte, bool, error)
	SaveSession(ctx context.Context, chatID int64, state []byte) error
	DeleteSession(ctx context.Context, chatID int64) error
}

// Prompter delivers a Prompt effect to a chat.
type Prompter interface {
	Prompt(ctx context.Context, chatID int64, p Prompt) error
}

// maxSteps bounds the Load feedback loop of a single Handle call.
const maxSteps = 16

type Driver struct {
	m     Machine
	store Store
	out   Prompter
	log   logx.Logger
}

func NewDriver(m Machine, store Store, out Prompter, log logx.Logger) *Driver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{m: m, store: store, out: out, log: log.With(logx.String("comp", "dialog"))}
}

// Active reports whether chatID has a dialog in progress.
func (d *Driver) Active(ctx context.Context, chatID int64) (bool, error) {
	s, err := d.load(ctx, chatID)
	if err != nil {
		return false, err
	}
	return s.Active(), nil
}

// Handle feeds ev to the chat's session and runs the resulting effects.
// A Text event for a chat without an active dialog is not handled.
func (d *Driver) Handle(ctx context.Context, chatID, userID int64, ev Event) (bool, error) {
	s, err := d.load(ctx, chatID)
	if err != nil {
		return false, err
	}
	if _, ok := ev.(Text); ok && !s.Active() {
		return false, nil
	}

	finished := false
	for step := 0; ev != nil; step++ {
		if step >= maxSteps {
			return true, fmt.Errorf("dialog: too many steps in state %s", s.State)
		}
		var effects []Effect
		s, effects = d.m.Step(s, ev)
		ev = nil
		for _, eff := range effects {
			switch e := eff.(type) {
			case Prompt:
				if err := d.out.Prompt(ctx, chatID, e); err != nil {
					return true, err
				}
			case SaveSelection:
				if err := d.store.SaveSelection(ctx, userID, e.SlotID, e.TalkID); err != nil {
					return true, err
				}
			case Load:
				next, err := d.run(ctx, e)
				if err != nil {
					return true, err
				}
				ev = next
			case Finish:
				finished = true
			}
		}
	}

	if finished || !s.Active() {
		return true, d.store.DeleteSession(ctx, chatID)
	}
	return true, d.save(ctx, chatID, s)
}

func (d *Driver) run(ctx context.Context, l Load) (Event, error) {
	out := Loaded{Query: l.Query}
	var err error
	switch l.Query {
	case QueryAllSlotIDs:
		out.IDs, err = d.store.GetAllSlotIDs(ctx)
	case QueryDates:
		out.Dates, err = d.store.GetAllDates(ctx)
	case QuerySlots:
		out.Slots, err = d.store.GetAllSlots(ctx)
	case QueryDaySlotIDs:
		out.IDs, err = d.store.GetSlotIDsOnDay(ctx, l.Date)
	case QuerySlotTalks:
		out.SlotID = l.SlotID
		out.Slot, out.Talks, err = d.store.GetInTimeSlot(ctx, l.SlotID)
		if errors.Is(err, domain.ErrNotFound) {
			d.log.Warn("slot vanished during dialog", logx.Int64("slot", l.SlotID))
			out.Missing, err = true, nil
		}
	default:
		err = fmt.Errorf("dialog: unknown query %q", l.Query)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Driver) load(ctx context.Context, chatID int64) (Session, error) {
	raw, ok, err := d.store.LoadSession(ctx, chatID)
	if err != nil || !ok {
		return Session{State: StateIdle}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// A session written by an incompatible build is dropped.
		d.log.Warn("discarding unreadable session", logx.Int64("chat", chatID), logx.Err(err))
		return Session{State: StateIdle}, nil
	}
	return s, nil
}

func (d *Driver) save(ctx context.Context, chatID int64, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return d.store.SaveSession(ctx, chatID, raw)
}
