package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// schema creates the history table on first use. The schema is additive
// only; new columns must be nullable or carry defaults.
const schema = `
CREATE TABLE IF NOT EXISTS state_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	fields     TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	source     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_history_created_at ON state_history(created_at);
`

// SQLiteRepository implements Repository using SQLite.
//
// Changed fields and snapshots are stored as JSON.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates the repository and ensures the schema exists.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Record inserts one state change entry.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) error {
	if entry.Source == "" {
		return fmt.Errorf("history: source is required")
	}
	if entry.Fields == nil {
		entry.Fields = map[string]any{}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	fieldsJSON, err := json.Marshal(entry.Fields)
	if err != nil {
		return fmt.Errorf("marshalling fields: %w", err)
	}
	snapshotJSON, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (fields, snapshot, source, created_at) VALUES (?, ?, ?, ?)",
		string(fieldsJSON),
		string(snapshotJSON),
		entry.Source,
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// Recent returns history entries ordered newest first.
// limit defaults to 50 and is capped at 200.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fields, snapshot, source, created_at
		 FROM state_history
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var fieldsJSON, snapshotJSON, createdAt string

		if err := rows.Scan(&entry.ID, &fieldsJSON, &snapshotJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		if err := json.Unmarshal([]byte(fieldsJSON), &entry.Fields); err != nil {
			return nil, fmt.Errorf("unmarshalling fields: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshotJSON), &entry.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshalling snapshot: %w", err)
		}

		timestamp, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than the given duration.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}
