// Package history keeps a durable audit log of every scan attempt in SQLite.
// Unlike the in-memory job table it survives restarts, and unlike the report
// index it records failures and timeouts too.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/zapscan/zapscan/internal/logging"
)

//go:embed schema.sql
var schemaFS embed.FS

// Entry is one scan attempt. FinishedAt is nil while the scan is in flight or
// when the process died before recording an outcome.
type Entry struct {
	ID         string     `json:"id"`
	Target     string     `json:"target"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store is the scan-attempt log handle.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the history database at path and runs migrations.
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		db.Close()
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With(logging.Field{Key: "component", Value: "history"}),
	}, nil
}

// RecordStart inserts a new in-flight attempt and returns its id.
func (s *Store) RecordStart(ctx context.Context, target string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_history (id, target, status, started_at) VALUES (?, ?, ?, ?)`,
		id, target, "started", time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("record scan start: %w", err)
	}
	return id, nil
}

// RecordFinish marks attempt id terminal with the given status and optional
// error message.
func (s *Store) RecordFinish(ctx context.Context, id, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_history SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record scan finish: %w", err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target, status, error, started_at, finished_at
		 FROM scan_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var finished sql.NullTime
		if err := rows.Scan(&e.ID, &e.Target, &e.Status, &e.Error, &e.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			e.FinishedAt = &t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan history: %w", err)
	}
	return entries, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
