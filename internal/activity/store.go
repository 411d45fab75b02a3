// Package activity persists a rolling log of generation requests so the
// recent history survives restarts and can be inspected over HTTP.
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded generation attempt.
type Entry struct {
	At          time.Time `json:"at"`
	RequestID   string    `json:"request_id"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DurationMS  float64   `json:"duration_ms"`
	InputBytes  int64     `json:"input_bytes"`
	OutputBytes int64     `json:"output_bytes"`
	InputWidth  int       `json:"input_width"`
	InputHeight int       `json:"input_height"`
}

// Statuses recorded per entry.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Store is a SQLite-backed request log. A nil Store is valid and drops
// writes, so callers do not need to branch on whether logging is enabled.
type Store struct {
	db *sql.DB
}

// Open opens or creates the request log database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open activity db: %w", err)
	}
	// SQLite handles one writer at a time. Serializing through a single
	// connection avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS request_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		at           DATETIME NOT NULL,
		request_id   TEXT NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		duration_ms  REAL NOT NULL DEFAULT 0,
		input_bytes  INTEGER NOT NULL DEFAULT 0,
		output_bytes INTEGER NOT NULL DEFAULT 0,
		input_width  INTEGER NOT NULL DEFAULT 0,
		input_height INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate activity db: %w", err)
	}
	return nil
}

// Record appends one entry. A zero At is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_log
			(at, request_id, status, error, duration_ms, input_bytes, output_bytes, input_width, input_height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At, e.RequestID, e.Status, e.Error, e.DurationMS,
		e.InputBytes, e.OutputBytes, e.InputWidth, e.InputHeight,
	)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A nil Store returns
// no entries.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, request_id, status, error, duration_ms, input_bytes, output_bytes, input_width, input_height
		FROM request_log
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.At, &e.RequestID, &e.Status, &e.Error, &e.DurationMS,
			&e.InputBytes, &e.OutputBytes, &e.InputWidth, &e.InputHeight); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}
	return entries, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
