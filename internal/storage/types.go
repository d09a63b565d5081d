package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// DefaultRetain bounds how many entries a store keeps queryable.
const DefaultRetain = 10000

// Config configures the journal.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retain caps the entries Recent can see (file: in memory, sqlite: rows).
	// 0 means DefaultRetain.
	Retain int
}

// Entry is one journalled signal. Keep it compact and schema-stable.
type Entry struct {
	Seq   int64     `json:"seq"`
	At    time.Time `json:"at"`
	Kind  string    `json:"kind"`
	JobID string    `json:"job_id,omitempty"`
	Due   time.Time `json:"due,omitempty"`
	Error string    `json:"err,omitempty"`
}

// Store is the journal API.
type Store interface {
	// Append records e and assigns its Seq.
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n of the newest entries, oldest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}
