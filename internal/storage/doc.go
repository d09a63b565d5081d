// Package storage is the scheduler's signal journal: an append-only record
// of lifecycle signals (started, stopped, scheduled, cancelled, invoked).
//
// It is an audit trail only. Jobs are not persisted and are not restored
// from the journal.
//
// Drivers:
//   - "file": JSON Lines file, recent entries kept in memory
//   - "sqlite": SQLite database via modernc.org/sqlite (pure Go)
package storage
