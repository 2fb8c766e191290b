// Package audit is the compliance sink for biometric and identity lifecycle
// events. Recording is fire-and-forget: it never sits on the request's
// critical path for correctness, and a failed append is logged, not
// propagated to the caller's operation.
package audit

import (
	"context"
	"time"
)

// Entity types recorded by this service.
const (
	EntityTemplate = "biometric_template"
	EntityIdentity = "identity"
)

// Actions recorded by this service.
const (
	ActionTemplateEnrolled  = "template.enrolled"
	ActionTemplateVerified  = "template.verified"
	ActionTemplateDeleted   = "template.deleted"
	ActionIdentified        = "identification.performed"
	ActionIdentityCreated   = "identity.created"
	ActionIdentityVerified  = "identity.verified"
	ActionIdentityRevoked   = "identity.revoked"
	ActionBiometricUpdated  = "identity.biometric_updated"
	ActionZoneChanged       = "identity.zone_changed"
	ActionContactUpdated    = "identity.contact_updated"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Action     string            `json:"action"`
	Actor      string            `json:"actor,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Recorder is the compliance sink consumed by services.
type Recorder interface {
	RecordEvent(ctx context.Context, event Event) error
}

// Store is append-only persistence for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Event, error)
}
