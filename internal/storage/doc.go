// Package storage is the relational persistence layer of the bot.
//
// It implements the schedule, selection and preference stores, the recipient
// queries used by the notifier, and small operational tables (dialog sessions,
// audit log). Two drivers are supported:
//   - "sqlite": a local database file (modernc.org/sqlite, pure Go)
//   - "postgres": a server DSN (github.com/lib/pq)
//
// Queries are written with "?" placeholders and rebound per dialect.
// Writers rely on the database's transactions, never on in-process locks.
package storage
