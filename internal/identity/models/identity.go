// Package models holds the identity aggregate: lifecycle state, invariants
// and the domain events its transitions emit.
package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
)

// Status is the lifecycle state of an identity.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRevoked  Status = "revoked"
)

// CanTransitionTo encodes the state machine edges. Revoked is terminal;
// pending may be revoked directly without ever verifying.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusVerified || to == StatusRevoked
	case StatusVerified:
		return to == StatusVerified || to == StatusRevoked
	default:
		return false
	}
}

// Metadata keys written by revocation.
const (
	MetadataKeyRevocationReason = "RevocationReason"
	MetadataKeyRevokedBy        = "RevokedBy"
)

// BiometricReference is the subject's canonical biometric data: the encoding
// itself plus a fingerprint over its bytes. The fingerprint lets callers
// detect concurrent reference replacement without shipping encodings around.
type BiometricReference struct {
	Encoding    []float64 `json:"encoding"`
	Fingerprint string    `json:"fingerprint"`
}

// NewBiometricReference fingerprints the encoding with SHA-256 over its
// IEEE-754 representation.
func NewBiometricReference(encoding []float64) BiometricReference {
	h := sha256.New()
	var buf [8]byte
	for _, v := range encoding {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return BiometricReference{
		Encoding:    append([]float64(nil), encoding...),
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
	}
}

// IsZero reports whether the reference holds no encoding.
func (r BiometricReference) IsZero() bool { return len(r.Encoding) == 0 }

// ContactInformation is the identity's reachable contact data.
type ContactInformation struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Identity is the aggregate root for a tracked biological identity.
//
// Invariants:
//   - Status transitions follow pending → verified → revoked, with
//     pending → revoked as a direct edge; revoked is terminal
//   - VerifiedAt and RevokedAt are set exactly once (first transition wins);
//     LastVerifiedAt updates on every successful re-verification
//   - Once revoked, no field changes: every mutation guard rejects with
//     invalid_state and the aggregate is left untouched
//   - The biometric reference is replaceable only after re-verifying the
//     current reference
type Identity struct {
	ID             id.IdentityID      `json:"id"`
	SubjectID      id.SubjectID       `json:"subject_id"`
	Status         Status             `json:"status"`
	Biometric      BiometricReference `json:"biometric"`
	Zone           string             `json:"zone,omitempty"`
	Contact        ContactInformation `json:"contact"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
	VerifiedAt     *time.Time         `json:"verified_at,omitempty"`
	LastVerifiedAt *time.Time         `json:"last_verified_at,omitempty"`
	RevokedAt      *time.Time         `json:"revoked_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// NewIdentity constructs a pending identity with its canonical biometric
// reference.
func NewIdentity(
	identityID id.IdentityID,
	subjectID id.SubjectID,
	reference BiometricReference,
	zone string,
	contact ContactInformation,
	now time.Time,
) (*Identity, error) {
	if identityID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identity id is required")
	}
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject id is required")
	}
	if reference.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "biometric reference is required")
	}
	return &Identity{
		ID:        identityID,
		SubjectID: subjectID,
		Status:    StatusPending,
		Biometric: reference,
		Zone:      zone,
		Contact:   contact,
		Metadata:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (i *Identity) IsRevoked() bool { return i.Status == StatusRevoked }

// CanVerifyBiometric checks whether a verification attempt may proceed.
func (i *Identity) CanVerifyBiometric() error {
	if i.IsRevoked() {
		return revokedErr()
	}
	return nil
}

// ApplyVerification transitions to verified. VerifiedAt is set only on the
// first successful verification; LastVerifiedAt updates every time. Call
// CanVerifyBiometric first.
func (i *Identity) ApplyVerification(now time.Time) IdentityVerified {
	first := i.VerifiedAt == nil
	if first {
		verifiedAt := now
		i.VerifiedAt = &verifiedAt
	}
	lastVerifiedAt := now
	i.LastVerifiedAt = &lastVerifiedAt
	i.Status = StatusVerified
	i.UpdatedAt = now
	return IdentityVerified{
		IdentityID:        i.ID,
		FirstVerification: first,
		OccurredAt:        now,
	}
}

// ApplyRevocation transitions to revoked. Idempotent: a second revocation is
// a silent no-op that retains the first call's timestamp, reason and actor.
func (i *Identity) ApplyRevocation(reason, actor string, now time.Time) (IdentityRevoked, bool) {
	if i.IsRevoked() {
		return IdentityRevoked{}, false
	}
	revokedAt := now
	i.RevokedAt = &revokedAt
	i.Status = StatusRevoked
	if i.Metadata == nil {
		i.Metadata = map[string]string{}
	}
	i.Metadata[MetadataKeyRevocationReason] = reason
	i.Metadata[MetadataKeyRevokedBy] = actor
	i.UpdatedAt = now
	return IdentityRevoked{
		IdentityID: i.ID,
		Reason:     reason,
		RevokedBy:  actor,
		OccurredAt: now,
	}, true
}

// CanUpdateBiometric checks whether the biometric reference may be replaced.
func (i *Identity) CanUpdateBiometric() error {
	if i.IsRevoked() {
		return revokedErr()
	}
	return nil
}

// ApplyBiometricUpdate replaces the canonical reference. Call
// CanUpdateBiometric first; the service re-verifies the current reference
// before invoking this.
func (i *Identity) ApplyBiometricUpdate(reference BiometricReference, now time.Time) BiometricUpdated {
	event := BiometricUpdated{
		IdentityID:     i.ID,
		OldFingerprint: i.Biometric.Fingerprint,
		NewFingerprint: reference.Fingerprint,
		OccurredAt:     now,
	}
	i.Biometric = reference
	i.UpdatedAt = now
	return event
}

// CanUpdateZone checks whether the zone classification may change.
func (i *Identity) CanUpdateZone() error {
	if i.IsRevoked() {
		return revokedErr()
	}
	return nil
}

// ApplyZoneChange moves the identity to a new zone. Call CanUpdateZone first.
func (i *Identity) ApplyZoneChange(zone string, now time.Time) ZoneChanged {
	event := ZoneChanged{
		IdentityID: i.ID,
		From:       i.Zone,
		To:         zone,
		OccurredAt: now,
	}
	i.Zone = zone
	i.UpdatedAt = now
	return event
}

// CanUpdateContact checks whether contact information may change.
func (i *Identity) CanUpdateContact() error {
	if i.IsRevoked() {
		return revokedErr()
	}
	return nil
}

// ApplyContactUpdate replaces the contact information. Call CanUpdateContact
// first.
func (i *Identity) ApplyContactUpdate(contact ContactInformation, now time.Time) {
	i.Contact = contact
	i.UpdatedAt = now
}

func revokedErr() error {
	return dErrors.New(dErrors.CodeInvalidState, "identity revoked").
		WithDetail("status", string(StatusRevoked))
}
