// Package domain defines strongly typed identifiers shared across features.
//
// IDs are distinct named types over uuid.UUID so the compiler rejects
// cross-type assignment (a TemplateID can never be passed where a SubjectID
// is expected). Parse functions enforce the trust-boundary invariant that
// IDs are valid, non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "veribio/pkg/domain-errors"
)

// TemplateID identifies a single enrolled biometric template.
type TemplateID uuid.UUID

// SubjectID identifies the person a template belongs to. Many templates may
// share one subject.
type SubjectID uuid.UUID

// IdentityID identifies an identity aggregate in the lifecycle module.
type IdentityID uuid.UUID

// NewTemplateID returns a freshly generated template ID.
func NewTemplateID() TemplateID { return TemplateID(uuid.New()) }

// NewSubjectID returns a freshly generated subject ID.
func NewSubjectID() SubjectID { return SubjectID(uuid.New()) }

// NewIdentityID returns a freshly generated identity ID.
func NewIdentityID() IdentityID { return IdentityID(uuid.New()) }

func (id TemplateID) String() string { return uuid.UUID(id).String() }
func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id IdentityID) String() string { return uuid.UUID(id).String() }

func (id TemplateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id IdentityID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// IDs travel as their canonical string form in JSON and text contexts.

func (id TemplateID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id SubjectID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id IdentityID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TemplateID) UnmarshalText(text []byte) error {
	parsed, err := ParseTemplateID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *SubjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseSubjectID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *IdentityID) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentityID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseTemplateID parses and validates a template ID from its string form.
func ParseTemplateID(s string) (TemplateID, error) {
	u, err := parseUUID(s, "template id")
	return TemplateID(u), err
}

// ParseSubjectID parses and validates a subject ID from its string form.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject id")
	return SubjectID(u), err
}

// ParseIdentityID parses and validates an identity ID from its string form.
func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s, "identity id")
	return IdentityID(u), err
}

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be the nil UUID")
	}
	return u, nil
}
