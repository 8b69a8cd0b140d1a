package domain

import "context"

// ScheduleWriter mutates slots and talks. Implementations are usually bound to a
// transaction so that a batch of edits applies atomically.
type ScheduleWriter interface {
	FindOrCreateSlots(ctx context.Context, keys []SlotKey) (map[SlotKey]int64, error)
	DeleteTalks(ctx context.Context, keys []TalkKey) (int, error)
	UpsertTalks(ctx context.Context, drafts []TalkDraft, slots map[SlotKey]int64) (UpsertStats, error)
}

// ScheduleEditor runs fn inside one transaction. A non-nil error from fn rolls
// everything back.
type ScheduleEditor interface {
	EditSchedule(ctx context.Context, fn func(w ScheduleWriter) error) error
}

type ScheduleRepository interface {
	GetAllSlots(ctx context.Context) ([]TimeSlot, error)
	GetSlot(ctx context.Context, id int64) (TimeSlot, error)
	GetAllSlotIDs(ctx context.Context) ([]int64, error)
	GetAllDates(ctx context.Context) ([]string, error)
	GetSlotIDsOnDay(ctx context.Context, date string) ([]int64, error)
	GetInTimeSlot(ctx context.Context, slotID int64) (TimeSlot, []Talk, error)
	GetAllSpeeches(ctx context.Context, date string) ([]Talk, error)
}

type SelectionRepository interface {
	SaveSelection(ctx context.Context, attendeeID, slotID int64, talkID *int64) error
	GetSelectedSpeeches(ctx context.Context, attendeeID int64, date string) ([]Talk, error)
}

// SelectionQueries resolves notification recipients.
type SelectionQueries interface {
	GetUsersThatSelected(ctx context.Context, slotID int64) ([]Recipient, error)
	GetChangingUsers(ctx context.Context, currentSlotID, previousSlotID int64) ([]Recipient, error)
	GetUserIDsThatSelected(ctx context.Context, slotIDs []int64) ([]SlotSelection, error)
}

type PreferenceRepository interface {
	RegisterUser(ctx context.Context, userID int64, username string) error
	GetNotificationSetting(ctx context.Context, userID int64) (*bool, error)
	SaveNotificationSetting(ctx context.Context, userID int64, enabled bool) error
	SetAdmin(ctx context.Context, userID int64, admin bool) error
	SetAdminByUsername(ctx context.Context, username string, admin bool) (bool, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}
