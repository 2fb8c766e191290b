package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"veribio/internal/identity/models"
	id "veribio/pkg/domain"
	"veribio/pkg/platform/sentinel"
)

const identitySchema = `
CREATE TABLE IF NOT EXISTS identities (
	id               UUID PRIMARY KEY,
	subject_id       UUID NOT NULL,
	status           TEXT NOT NULL,
	biometric        JSONB NOT NULL,
	zone             TEXT NOT NULL DEFAULT '',
	contact          JSONB NOT NULL,
	metadata         JSONB NOT NULL,
	verified_at      TIMESTAMPTZ,
	last_verified_at TIMESTAMPTZ,
	revoked_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
`

// PostgresIdentityStore persists identity aggregates in PostgreSQL. Execute
// serializes writers with SELECT ... FOR UPDATE inside a transaction.
type PostgresIdentityStore struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db}
}

// Migrate creates the identities table if it does not exist.
func (s *PostgresIdentityStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, identitySchema); err != nil {
		return fmt.Errorf("migrate identities: %w", err)
	}
	return nil
}

func (s *PostgresIdentityStore) Create(ctx context.Context, identity *models.Identity) error {
	biometric, contact, metadata, err := marshalIdentity(identity)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO identities
			(id, subject_id, status, biometric, zone, contact, metadata,
			 verified_at, last_verified_at, revoked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		uuid.UUID(identity.SubjectID),
		string(identity.Status),
		biometric,
		identity.Zone,
		contact,
		metadata,
		identity.VerifiedAt,
		identity.LastVerifiedAt,
		identity.RevokedAt,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresIdentityStore) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	row := s.db.QueryRowContext(ctx, selectIdentity+` WHERE id = $1`, uuid.UUID(identityID))
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return identity, nil
}

// Execute loads the identity under a row lock, runs validate-then-mutate and
// writes the result back in the same transaction. Validation failure rolls
// back, leaving the stored aggregate untouched.
func (s *PostgresIdentityStore) Execute(
	ctx context.Context,
	identityID id.IdentityID,
	validate func(*models.Identity) error,
	mutate func(*models.Identity),
) (*models.Identity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin identity tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, selectIdentity+` WHERE id = $1 FOR UPDATE`, uuid.UUID(identityID))
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock identity: %w", err)
	}

	if validate != nil {
		if err := validate(identity); err != nil {
			return nil, err
		}
	}
	mutate(identity)

	biometric, contact, metadata, err := marshalIdentity(identity)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE identities
		SET status = $2, biometric = $3, zone = $4, contact = $5, metadata = $6,
		    verified_at = $7, last_verified_at = $8, revoked_at = $9, updated_at = $10
		WHERE id = $1
	`
	_, err = tx.ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		string(identity.Status),
		biometric,
		identity.Zone,
		contact,
		metadata,
		identity.VerifiedAt,
		identity.LastVerifiedAt,
		identity.RevokedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit identity tx: %w", err)
	}
	return identity, nil
}

const selectIdentity = `
	SELECT id, subject_id, status, biometric, zone, contact, metadata,
	       verified_at, last_verified_at, revoked_at, created_at, updated_at
	FROM identities`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		identity   models.Identity
		identityID uuid.UUID
		subjectID  uuid.UUID
		status     string
		biometric  []byte
		contact    []byte
		metadata   []byte
	)
	err := row.Scan(
		&identityID,
		&subjectID,
		&status,
		&biometric,
		&identity.Zone,
		&contact,
		&metadata,
		&identity.VerifiedAt,
		&identity.LastVerifiedAt,
		&identity.RevokedAt,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	identity.ID = id.IdentityID(identityID)
	identity.SubjectID = id.SubjectID(subjectID)
	identity.Status = models.Status(status)
	if err := json.Unmarshal(biometric, &identity.Biometric); err != nil {
		return nil, fmt.Errorf("decode biometric reference: %w", err)
	}
	if err := json.Unmarshal(contact, &identity.Contact); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	if err := json.Unmarshal(metadata, &identity.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &identity, nil
}

func marshalIdentity(identity *models.Identity) (biometric, contact, metadata []byte, err error) {
	biometric, err = json.Marshal(identity.Biometric)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode biometric reference: %w", err)
	}
	contact, err = json.Marshal(identity.Contact)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode contact: %w", err)
	}
	if identity.Metadata == nil {
		metadata = []byte("{}")
	} else if metadata, err = json.Marshal(identity.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return biometric, contact, metadata, nil
}
