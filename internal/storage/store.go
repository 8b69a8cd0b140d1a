package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"confbot/internal/domain"
	logx "confbot/pkg/logx"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is the persisted form of slot instants (always UTC).
const timeLayout = time.RFC3339

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// rebind rewrites "?" placeholders for the dialect.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries the query methods shared by Store and Tx.
type conn struct {
	q querier
	d dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// Store is the database-backed implementation of the domain repositories.
type Store struct {
	conn
	db  *sql.DB
	log logx.Logger
}

// Tx is a Store view bound to one transaction.
type Tx struct {
	conn
}

var (
	_ domain.ScheduleRepository   = (*Store)(nil)
	_ domain.SelectionRepository  = (*Store)(nil)
	_ domain.SelectionQueries     = (*Store)(nil)
	_ domain.PreferenceRepository = (*Store)(nil)
	_ domain.ScheduleEditor       = (*Store)(nil)
	_ domain.ScheduleWriter       = (*Store)(nil)
	_ domain.ScheduleWriter       = (*Tx)(nil)
)

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle (CLI maintenance commands).
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn in a transaction. The transaction is rolled back when fn
// returns an error or panics, and committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Warn("rollback failed", logx.Err(rbErr))
			}
		}
	}()

	if err = fn(&Tx{conn: conn{q: sqlTx, d: s.d}}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// EditSchedule implements domain.ScheduleEditor.
func (s *Store) EditSchedule(ctx context.Context, fn func(w domain.ScheduleWriter) error) error {
	return s.WithTx(ctx, func(tx *Tx) error { return fn(tx) })
}

// classify wraps err with op and maps constraint violations to domain.IntegrityError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return &domain.IntegrityError{Op: op, Constraint: sqliteConstraint(se.Error()), Err: err}
	}
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code.Class() == "23" {
		return &domain.IntegrityError{Op: op, Constraint: pe.Constraint, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// sqliteConstraint extracts "talks.time_slot_id, talks.location" from
// "constraint failed: UNIQUE constraint failed: talks.time_slot_id, talks.location (2067)".
func sqliteConstraint(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	if j := strings.LastIndex(rest, " ("); j > 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatInstant(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored instant %q: %w", s, err)
	}
	return t.UTC(), nil
}
