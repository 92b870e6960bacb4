package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/platinummonkey/docmeter/pkg/apperr"
)

// File is an uploaded object owned by a user
type File struct {
	ID        string    `json:"id" db:"id"`
	UserID    int64     `json:"userId" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	Type      string    `json:"type" db:"type"`
	Key       string    `json:"key" db:"key"`
	UploadURL string    `json:"uploadUrl" db:"upload_url"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Store persists file records
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new Store
func NewStore(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Create inserts a file row
func (s *Store) Create(ctx context.Context, f *File) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO files (id, user_id, name, type, key, upload_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, f.ID, f.UserID, f.Name, f.Type, f.Key, f.UploadURL).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", apperr.FromDB(err))
	}
	return nil
}

// ListByUser returns a user's files, newest first
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]File, error) {
	files := []File{}
	err := s.db.SelectContext(ctx, &files, `
		SELECT id, user_id, name, type, key, upload_url, created_at
		FROM files WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// GetByKey returns the file with key owned by userID, or nil
func (s *Store) GetByKey(ctx context.Context, userID int64, key string) (*File, error) {
	var f File
	err := s.db.GetContext(ctx, &f, `
		SELECT id, user_id, name, type, key, upload_url, created_at
		FROM files WHERE key = $1 AND user_id = $2
	`, key, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &f, nil
}
