// Package history persists receiver state changes to the local SQLite
// database, giving the bridge an audit trail that survives restarts and
// works without the time-series backend.
package history

import (
	"context"
	"time"

	"github.com/aviolabs/jblbridge/internal/jbl"
)

// Entry source values.
const (
	// SourceFrame marks changes reported by the receiver itself.
	SourceFrame = "frame"

	// SourceCommand marks optimistic changes from issued commands.
	SourceCommand = "command"

	// SourceConnection marks connection lifecycle transitions.
	SourceConnection = "connection"
)

// Entry represents a single recorded state change.
//
// Each entry stores both the changed fields and a full snapshot of the
// receiver state at the time the change was observed.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Fields maps the changed field names to their new values.
	Fields map[string]any `json:"fields"`

	// Snapshot is the full receiver state after the change.
	Snapshot jbl.ReceiverState `json:"snapshot"`

	// Source identifies how the change was recorded (frame, command, connection).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves receiver state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record persists one state change.
	Record(ctx context.Context, entry Entry) error

	// Recent returns state changes ordered newest first.
	// limit may be clamped by the implementation.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Prune deletes entries older than the given duration and reports how
	// many rows were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
