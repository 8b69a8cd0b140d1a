package router

import (
	"context"
	"io"
	"time"

	"confbot/internal/dialog"
	"confbot/internal/domain"
	"confbot/internal/notify"
	"confbot/internal/reconcile"
	"confbot/internal/storage"
)

// Users is what the dispatcher itself needs from the preference store.
type Users interface {
	RegisterUser(ctx context.Context, userID int64, username string) error
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

type Dialog interface {
	Active(ctx context.Context, chatID int64) (bool, error)
	Handle(ctx context.Context, chatID, userID int64, ev dialog.Event) (bool, error)
}

// Store is the storage surface of the built-in commands.
type Store interface {
	Users
	SetAdmin(ctx context.Context, userID int64, admin bool) error
	SetAdminByUsername(ctx context.Context, username string, admin bool) (bool, error)
	GetNotificationSetting(ctx context.Context, userID int64) (*bool, error)
	SaveNotificationSetting(ctx context.Context, userID int64, enabled bool) error

	GetAllDates(ctx context.Context) ([]string, error)
	GetAllSpeeches(ctx context.Context, date string) ([]domain.Talk, error)
	GetSelectedSpeeches(ctx context.Context, attendeeID int64, date string) ([]domain.Talk, error)

	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Reconciler interface {
	Apply(ctx context.Context, source string, edits []domain.Edit) (reconcile.Outcome, error)
}

// Parser turns an uploaded edit file into edit rows.
type Parser interface {
	Parse(r io.Reader) ([]domain.Edit, error)
}

type JobLister interface {
	Jobs() []notify.PlannedJob
}

var _ Dialog = (*dialog.Driver)(nil)

// defaultMaxUpload caps the size of an uploaded schedule file.
const defaultMaxUpload = 1 << 20

func nowFunc(f func() time.Time) func() time.Time {
	if f == nil {
		return time.Now
	}
	return f
}
