package domain

import (
	"fmt"
	"time"
)

// DateLayout is the canonical textual form of an event-calendar day.
const DateLayout = "2006-01-02"

// TimeSlot is a fixed interval during which at most one talk per location runs.
//
// Date is the event-calendar day (YYYY-MM-DD in the event timezone). It is kept
// separately from Start so that grouping by day does not depend on the zone the
// instants are rendered in.
type TimeSlot struct {
	ID    int64
	Date  string
	Start time.Time
	End   time.Time
}

// Key returns the natural identity of the slot.
func (s TimeSlot) Key() SlotKey { return NewSlotKey(s.Date, s.Start, s.End) }

// SlotKey is the natural key of a TimeSlot: (date, start_time, end_time).
//
// Instants are stored as unix seconds so the key is comparable and
// independent of the time.Location the caller happened to use.
type SlotKey struct {
	Date  string
	Start int64
	End   int64
}

func NewSlotKey(date string, start, end time.Time) SlotKey {
	return SlotKey{Date: date, Start: start.UTC().Unix(), End: end.UTC().Unix()}
}

func (k SlotKey) StartTime() time.Time { return time.Unix(k.Start, 0).UTC() }
func (k SlotKey) EndTime() time.Time   { return time.Unix(k.End, 0).UTC() }

// Slot returns a TimeSlot carrying this key and the given surrogate id.
func (k SlotKey) Slot(id int64) TimeSlot {
	return TimeSlot{ID: id, Date: k.Date, Start: k.StartTime(), End: k.EndTime()}
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s %s-%s", k.Date, k.StartTime().Format("15:04Z"), k.EndTime().Format("15:04Z"))
}

// Talk is a scheduled presentation bound to exactly one slot and location.
type Talk struct {
	ID       int64
	Title    string
	Speaker  string
	Location string
	Slot     TimeSlot
}

// TalkKey identifies a talk by its slot and location.
type TalkKey struct {
	SlotID   int64
	Location string
}

// TalkDraft is a talk described by natural keys, before slot ids are resolved.
type TalkDraft struct {
	Slot     SlotKey
	Location string
	Title    string
	Speaker  string
}

// UpsertStats summarizes what UpsertTalks did.
type UpsertStats struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Selection maps (attendee, slot) to the chosen talk.
type Selection struct {
	AttendeeID int64
	SlotID     int64
	TalkID     int64
}

// SlotSelection is a bare (attendee, slot) pair.
type SlotSelection struct {
	AttendeeID int64
	SlotID     int64
}

// Recipient is an opted-in attendee paired with the talk they selected.
type Recipient struct {
	AttendeeID int64
	Talk       Talk
}

// Preference holds per-user flags.
//
// NotificationsEnabled is tri-state: nil means "never set" and counts as enabled.
type Preference struct {
	UserID               int64
	Username             string
	NotificationsEnabled *bool
	Admin                bool
}

// WantsNotifications reports the effective notification setting.
func (p Preference) WantsNotifications() bool {
	return p.NotificationsEnabled == nil || *p.NotificationsEnabled
}

// Edit is one administrative schedule edit row.
//
// An Edit with Delete set removes the talk at (Slot, Location); otherwise it
// inserts or updates the talk there.
type Edit struct {
	Slot     SlotKey
	Location string
	Title    string
	Speaker  string
	Delete   bool
}

// Draft converts an upsert edit into a TalkDraft.
func (e Edit) Draft() TalkDraft {
	return TalkDraft{Slot: e.Slot, Location: e.Location, Title: e.Title, Speaker: e.Speaker}
}
