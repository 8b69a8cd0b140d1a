// Package scheduler is the job scheduling substrate: one-shot jobs keyed by
// name, triggered by robfig/cron and executed on cron's goroutines.
//
// The package knows nothing about reminders. Policy (which jobs exist and when
// they fire) lives with the callers; the scheduler only registers, replaces,
// removes and runs them.
package scheduler
