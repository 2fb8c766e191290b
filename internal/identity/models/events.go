package models

import (
	"time"

	id "veribio/pkg/domain"
)

// Domain events emitted by aggregate transitions. The service forwards them
// to the compliance sink; they are not persisted with the aggregate.

type IdentityCreated struct {
	IdentityID id.IdentityID
	SubjectID  id.SubjectID
	OccurredAt time.Time
}

type IdentityVerified struct {
	IdentityID        id.IdentityID
	FirstVerification bool
	OccurredAt        time.Time
}

type IdentityRevoked struct {
	IdentityID id.IdentityID
	Reason     string
	RevokedBy  string
	OccurredAt time.Time
}

type BiometricUpdated struct {
	IdentityID     id.IdentityID
	OldFingerprint string
	NewFingerprint string
	OccurredAt     time.Time
}

type ZoneChanged struct {
	IdentityID id.IdentityID
	From       string
	To         string
	OccurredAt time.Time
}
