package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	logx "confbot/pkg/logx"
)

// Open initializes the configured store and applies the schema.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// New wraps an already opened database. It does not migrate.
func New(db *sql.DB, driver string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := dialectSQLite
	if strings.HasPrefix(strings.ToLower(driver), "postgres") {
		d = dialectPostgres
	}
	return &Store{conn: conn{q: db, d: d}, db: db, log: log}
}

func (s *Store) migrate(ctx context.Context) error {
	name := "migrations/sqlite.sql"
	if s.d == dialectPostgres {
		name = "migrations/postgres.sql"
	}
	b, err := migrationsFS.ReadFile(name)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.migrate(ctx)
}
