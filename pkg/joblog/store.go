// Package joblog persists operational messages, such as background job
// failures, to the logs table where operators can read them alongside data.
package joblog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Level classifies a log row
type Level string

const (
	LevelJobError Level = "job-error"
	LevelJobInfo  Level = "job-info"
)

// Entry is one row of the logs table
type Entry struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Level     Level     `json:"level"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store writes and reads the logs table
type Store struct {
	db *sql.DB
}

// NewStore creates a new Store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Write inserts a log row
func (s *Store) Write(ctx context.Context, level Level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (message, level) VALUES ($1, $2)`, message, string(level))
	if err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// Recent returns the newest rows of a level, newest first. An empty level
// matches every row.
func (s *Store) Recent(ctx context.Context, level Level, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message, level, created_at
		FROM logs
		WHERE $1 = '' OR level = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(level), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Message, &e.Level, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
