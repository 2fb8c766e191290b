package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"veribio/pkg/platform/sentinel"
)

const objectSchema = `
CREATE TABLE IF NOT EXISTS biometric_objects (
	id           TEXT PRIMARY KEY,
	content_type TEXT NOT NULL,
	data         BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
`

// ObjectStore keeps raw enrollment images in a bytea table. Suitable for the
// image volumes this service handles; swap in a blob store behind the same
// interface if volumes outgrow the database.
type ObjectStore struct {
	db *sql.DB
}

// NewObjectStore wraps an open database handle.
func NewObjectStore(db *sql.DB) *ObjectStore {
	return &ObjectStore{db: db}
}

// Migrate creates the object table if it does not exist.
func (s *ObjectStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, objectSchema); err != nil {
		return fmt.Errorf("migrate biometric_objects: %w", err)
	}
	return nil
}

func (s *ObjectStore) Upload(ctx context.Context, objectID string, data []byte, contentType string) error {
	query := `
		INSERT INTO biometric_objects (id, content_type, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET content_type = $2, data = $3
	`
	if _, err := s.db.ExecContext(ctx, query, objectID, contentType, data, time.Now()); err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

func (s *ObjectStore) Download(ctx context.Context, objectID string) ([]byte, string, error) {
	var (
		data        []byte
		contentType string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, content_type FROM biometric_objects WHERE id = $1`, objectID).
		Scan(&data, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("object %s: %w", objectID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("download object: %w", err)
	}
	return data, contentType, nil
}

func (s *ObjectStore) Delete(ctx context.Context, objectID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM biometric_objects WHERE id = $1`, objectID)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete object rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("object %s: %w", objectID, sentinel.ErrNotFound)
	}
	return nil
}
