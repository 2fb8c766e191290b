// Package postgres persists biometric templates and raw image objects in
// PostgreSQL via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veribio/internal/biometric/models"
	id "veribio/pkg/domain"
	"veribio/pkg/platform/sentinel"
)

const templateSchema = `
CREATE TABLE IF NOT EXISTS biometric_templates (
	id                UUID PRIMARY KEY,
	subject_id        UUID NOT NULL,
	encoding          JSONB NOT NULL,
	quality_score     DOUBLE PRECISION NOT NULL,
	image_format      TEXT NOT NULL,
	image_size        INTEGER NOT NULL,
	face_location     JSONB,
	custom            JSONB,
	tags              TEXT[] NOT NULL DEFAULT '{}',
	storage_object_id TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_biometric_templates_subject ON biometric_templates (subject_id);
`

// TemplateStore is the PostgreSQL-backed template store.
type TemplateStore struct {
	db *sql.DB
}

// NewTemplateStore wraps an open database handle.
func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// Migrate creates the template table if it does not exist.
func (s *TemplateStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, templateSchema); err != nil {
		return fmt.Errorf("migrate biometric_templates: %w", err)
	}
	return nil
}

func (s *TemplateStore) Add(ctx context.Context, template *models.BiometricTemplate) error {
	encoding, err := json.Marshal(template.Encoding)
	if err != nil {
		return fmt.Errorf("encode template encoding: %w", err)
	}
	faceLocation, err := marshalNullable(template.Metadata.FaceLocation)
	if err != nil {
		return fmt.Errorf("encode face location: %w", err)
	}
	custom, err := marshalNullable(template.Metadata.Custom)
	if err != nil {
		return fmt.Errorf("encode custom metadata: %w", err)
	}

	query := `
		INSERT INTO biometric_templates
			(id, subject_id, encoding, quality_score, image_format, image_size,
			 face_location, custom, tags, storage_object_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(template.ID),
		uuid.UUID(template.SubjectID),
		encoding,
		template.QualityScore,
		template.Metadata.ImageFormat,
		template.Metadata.ImageSize,
		faceLocation,
		custom,
		tagsArray(template.Tags),
		template.StorageObjectID,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("template %s: %w", template.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *TemplateStore) Get(ctx context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error) {
	query := selectTemplates + ` WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(templateID))
	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", templateID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return template, nil
}

func (s *TemplateStore) Update(ctx context.Context, template *models.BiometricTemplate) error {
	custom, err := marshalNullable(template.Metadata.Custom)
	if err != nil {
		return fmt.Errorf("encode custom metadata: %w", err)
	}
	// Encoding and quality are immutable after enrollment; only mutable
	// fields are written here.
	query := `
		UPDATE biometric_templates
		SET tags = $2, custom = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(template.ID),
		tagsArray(template.Tags),
		custom,
		template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s: %w", template.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *TemplateStore) Delete(ctx context.Context, templateID id.TemplateID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM biometric_templates WHERE id = $1`, uuid.UUID(templateID))
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("template %s: %w", templateID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *TemplateStore) Search(ctx context.Context, filter models.TemplateFilter) ([]*models.BiometricTemplate, error) {
	query := selectTemplates + ` WHERE quality_score >= $1`
	args := []any{filter.MinQualityScore}
	if !filter.SubjectID.IsNil() {
		args = append(args, uuid.UUID(filter.SubjectID))
		query += ` AND subject_id = $` + strconv.Itoa(len(args))
	}
	if len(filter.Tags) > 0 {
		args = append(args, pq.Array(filter.Tags))
		query += ` AND tags @> $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	defer rows.Close()

	var out []*models.BiometricTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, template)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search templates: %w", err)
	}
	return out, nil
}

func (s *TemplateStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM biometric_templates`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}

const selectTemplates = `
	SELECT id, subject_id, encoding, quality_score, image_format, image_size,
	       face_location, custom, tags, storage_object_id, created_at, updated_at
	FROM biometric_templates`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*models.BiometricTemplate, error) {
	var (
		template     models.BiometricTemplate
		templateID   uuid.UUID
		subjectID    uuid.UUID
		encoding     []byte
		faceLocation []byte
		custom       []byte
		tags         pq.StringArray
	)
	err := row.Scan(
		&templateID,
		&subjectID,
		&encoding,
		&template.QualityScore,
		&template.Metadata.ImageFormat,
		&template.Metadata.ImageSize,
		&faceLocation,
		&custom,
		&tags,
		&template.StorageObjectID,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	template.ID = id.TemplateID(templateID)
	template.SubjectID = id.SubjectID(subjectID)
	template.Tags = tags
	if err := json.Unmarshal(encoding, &template.Encoding); err != nil {
		return nil, fmt.Errorf("decode encoding: %w", err)
	}
	if len(faceLocation) > 0 {
		template.Metadata.FaceLocation = &models.FaceLocation{}
		if err := json.Unmarshal(faceLocation, template.Metadata.FaceLocation); err != nil {
			return nil, fmt.Errorf("decode face location: %w", err)
		}
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &template.Metadata.Custom); err != nil {
			return nil, fmt.Errorf("decode custom metadata: %w", err)
		}
	}
	return &template, nil
}

// tagsArray adapts tags for the NOT NULL text[] column; nil becomes the
// empty array rather than SQL NULL.
func tagsArray(tags []string) any {
	if tags == nil {
		tags = []string{}
	}
	return pq.Array(tags)
}

// marshalNullable encodes v as JSON, mapping nil values to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *models.FaceLocation:
		if val == nil {
			return nil, nil
		}
	case map[string]string:
		if val == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
