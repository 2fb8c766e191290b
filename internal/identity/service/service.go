// Package service orchestrates the identity lifecycle. Transitions are gated
// by biometric verification against the identity's own canonical reference;
// every mutation runs through the store's Execute callback so concurrent
// writers on the same identity are serialized.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"veribio/internal/audit"
	biomodels "veribio/internal/biometric/models"
	"veribio/internal/biometric/ports"
	identitymetrics "veribio/internal/identity/metrics"
	"veribio/internal/identity/models"
	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
	"veribio/pkg/platform/sentinel"
	"veribio/pkg/requestcontext"
)

// IdentityStore is the persistence boundary for identity aggregates.
// Execute must hold the per-aggregate lock across both callbacks.
type IdentityStore interface {
	Create(ctx context.Context, identity *models.Identity) error
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	Execute(ctx context.Context, identityID id.IdentityID,
		validate func(*models.Identity) error,
		mutate func(*models.Identity)) (*models.Identity, error)
}

// Service drives identity lifecycle transitions.
type Service struct {
	identities  IdentityStore
	encoder     ports.EncodingClient
	auditor     audit.Recorder
	logger      *slog.Logger
	metrics     *identitymetrics.Metrics
	threshold   float64
	minQuality  float64
	callTimeout time.Duration
}

// Option configures optional service collaborators and policy.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(recorder audit.Recorder) Option {
	return func(s *Service) { s.auditor = recorder }
}

// WithMatchThreshold overrides the default similarity threshold for
// lifecycle verifications.
func WithMatchThreshold(threshold float64) Option {
	return func(s *Service) { s.threshold = threshold }
}

// WithMinQuality overrides the minimum quality accepted when capturing a
// biometric reference.
func WithMinQuality(minQuality float64) Option {
	return func(s *Service) { s.minQuality = minQuality }
}

// WithCallTimeout bounds calls into the encoding engine.
func WithCallTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.callTimeout = timeout }
}

// New constructs the identity service. Store and encoder are required.
func New(identities IdentityStore, encoder ports.EncodingClient, opts ...Option) (*Service, error) {
	if identities == nil {
		return nil, errors.New("identity store is required")
	}
	if encoder == nil {
		return nil, errors.New("encoding client is required")
	}
	s := &Service{
		identities:  identities,
		encoder:     encoder,
		threshold:   0.75,
		minQuality:  0.6,
		callTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRequest carries the inputs for identity creation.
type CreateRequest struct {
	SubjectID   id.SubjectID
	ImageData   []byte
	ImageFormat string
	Zone        string
	Contact     models.ContactInformation
}

// CreateIdentity captures the canonical biometric reference from the given
// image and creates the identity in pending state.
func (s *Service) CreateIdentity(ctx context.Context, req CreateRequest) (*models.Identity, error) {
	if req.SubjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subject id is required")
	}
	extraction, err := s.extract(ctx, req.ImageData, req.ImageFormat)
	if err != nil {
		return nil, err
	}
	if extraction.QualityScore < s.minQuality {
		return nil, dErrors.New(dErrors.CodeQualityTooLow, "reference sample quality too low").
			WithDetail("quality_score", extraction.QualityScore).
			WithDetail("min_quality_score", s.minQuality)
	}

	now := requestcontext.Now(ctx)
	identity, err := models.NewIdentity(
		id.NewIdentityID(),
		req.SubjectID,
		models.NewBiometricReference(extraction.Encoding),
		req.Zone,
		req.Contact,
		now,
	)
	if err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to create identity")
	}

	s.metrics.IncTransition(string(models.StatusPending))
	s.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityIdentity,
		EntityID:   identity.ID.String(),
		Action:     audit.ActionIdentityCreated,
		Actor:      requestcontext.Actor(ctx),
		Details:    map[string]string{"subject_id": req.SubjectID.String()},
	})
	return identity, nil
}

// VerifyRequest carries the inputs for a lifecycle verification.
type VerifyRequest struct {
	ImageData   []byte
	ImageFormat string
	Threshold   *float64
}

// VerifyBiometric matches a probe against the identity's canonical reference.
// A successful match transitions pending → verified; re-verifying an already
// verified identity updates LastVerifiedAt only. A failed match is a hard
// biometric_mismatch error and leaves the identity untouched.
func (s *Service) VerifyBiometric(ctx context.Context, identityID id.IdentityID, req VerifyRequest) (*models.Identity, error) {
	identity, err := s.getIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if err := identity.CanVerifyBiometric(); err != nil {
		s.metrics.IncRejectedMutation()
		return nil, err
	}

	threshold := s.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "threshold must be in (0,1]")
	}

	extraction, err := s.extract(ctx, req.ImageData, req.ImageFormat)
	if err != nil {
		return nil, err
	}
	comparison, err := s.compare(ctx, extraction.Encoding, identity.Biometric.Encoding)
	if err != nil {
		return nil, err
	}
	if comparison.Similarity < threshold {
		s.metrics.IncVerifyFailure()
		return nil, dErrors.New(dErrors.CodeBiometricMismatch, "biometric does not match identity reference").
			WithDetail("identity_id", identityID.String()).
			WithDetail("match_score", comparison.Similarity).
			WithDetail("threshold", threshold)
	}

	// The comparison ran against the reference read above; the fingerprint
	// guard rejects the transition if the reference was replaced in between.
	fingerprint := identity.Biometric.Fingerprint
	now := requestcontext.Now(ctx)
	var event models.IdentityVerified
	updated, err := s.identities.Execute(ctx, identityID,
		func(i *models.Identity) error {
			if err := i.CanVerifyBiometric(); err != nil {
				return err
			}
			if i.Biometric.Fingerprint != fingerprint {
				return dErrors.New(dErrors.CodeConflict, "biometric reference changed during verification")
			}
			return nil
		},
		func(i *models.Identity) {
			event = i.ApplyVerification(now)
		},
	)
	if err != nil {
		return nil, s.translateExecuteErr(err)
	}

	s.metrics.IncTransition(string(models.StatusVerified))
	s.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityIdentity,
		EntityID:   identityID.String(),
		Action:     audit.ActionIdentityVerified,
		Actor:      requestcontext.Actor(ctx),
		Details: map[string]string{
			"first_verification": strconv.FormatBool(event.FirstVerification),
			"match_score":        strconv.FormatFloat(comparison.Similarity, 'f', 4, 64),
		},
	})
	return updated, nil
}

// Revoke terminates the identity. Idempotent: revoking an already revoked
// identity succeeds silently and retains the first revocation's timestamp,
// reason and actor.
func (s *Service) Revoke(ctx context.Context, identityID id.IdentityID, reason, actor string) (*models.Identity, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "revocation reason is required")
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "revoking actor is required")
	}

	now := requestcontext.Now(ctx)
	var (
		event models.IdentityRevoked
		fresh bool
	)
	updated, err := s.identities.Execute(ctx, identityID,
		nil,
		func(i *models.Identity) {
			event, fresh = i.ApplyRevocation(reason, actor, now)
		},
	)
	if err != nil {
		return nil, s.translateExecuteErr(err)
	}
	if !fresh {
		return updated, nil
	}

	s.metrics.IncTransition(string(models.StatusRevoked))
	s.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityIdentity,
		EntityID:   identityID.String(),
		Action:     audit.ActionIdentityRevoked,
		Actor:      actor,
		Details: map[string]string{
			"reason": event.Reason,
		},
	})
	return updated, nil
}

// UpdateBiometricRequest carries the inputs for a reference replacement.
// The verification image must match the current reference before the new
// one is stored.
type UpdateBiometricRequest struct {
	NewImageData          []byte
	VerificationImageData []byte
	ImageFormat           string
}

// UpdateBiometric replaces the canonical reference after re-verifying the
// current one.
func (s *Service) UpdateBiometric(ctx context.Context, identityID id.IdentityID, req UpdateBiometricRequest) (*models.Identity, error) {
	identity, err := s.getIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if err := identity.CanUpdateBiometric(); err != nil {
		s.metrics.IncRejectedMutation()
		return nil, err
	}

	verification, err := s.extract(ctx, req.VerificationImageData, req.ImageFormat)
	if err != nil {
		return nil, err
	}
	comparison, err := s.compare(ctx, verification.Encoding, identity.Biometric.Encoding)
	if err != nil {
		return nil, err
	}
	if comparison.Similarity < s.threshold {
		s.metrics.IncVerifyFailure()
		return nil, dErrors.New(dErrors.CodeBiometricMismatch, "verification sample does not match current reference").
			WithDetail("identity_id", identityID.String()).
			WithDetail("match_score", comparison.Similarity).
			WithDetail("threshold", s.threshold)
	}

	replacement, err := s.extract(ctx, req.NewImageData, req.ImageFormat)
	if err != nil {
		return nil, err
	}
	if replacement.QualityScore < s.minQuality {
		return nil, dErrors.New(dErrors.CodeQualityTooLow, "replacement sample quality too low").
			WithDetail("quality_score", replacement.QualityScore).
			WithDetail("min_quality_score", s.minQuality)
	}

	fingerprint := identity.Biometric.Fingerprint
	newReference := models.NewBiometricReference(replacement.Encoding)
	now := requestcontext.Now(ctx)
	var event models.BiometricUpdated
	updated, err := s.identities.Execute(ctx, identityID,
		func(i *models.Identity) error {
			if err := i.CanUpdateBiometric(); err != nil {
				return err
			}
			if i.Biometric.Fingerprint != fingerprint {
				return dErrors.New(dErrors.CodeConflict, "biometric reference changed during update")
			}
			return nil
		},
		func(i *models.Identity) {
			event = i.ApplyBiometricUpdate(newReference, now)
		},
	)
	if err != nil {
		return nil, s.translateExecuteErr(err)
	}

	s.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityIdentity,
		EntityID:   identityID.String(),
		Action:     audit.ActionBiometricUpdated,
		Actor:      requestcontext.Actor(ctx),
		Details: map[string]string{
			"old_fingerprint": event.OldFingerprint,
			"new_fingerprint": event.NewFingerprint,
		},
	})
	return updated, nil
}

// UpdateZone moves the identity to a new zone classification.
func (s *Service) UpdateZone(ctx context.Context, identityID id.IdentityID, zone string) (*models.Identity, error) {
	if zone == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "zone is required")
	}
	now := requestcontext.Now(ctx)
	var event models.ZoneChanged
	updated, err := s.identities.Execute(ctx, identityID,
		func(i *models.Identity) error { return i.CanUpdateZone() },
		func(i *models.Identity) {
			event = i.ApplyZoneChange(zone, now)
		},
	)
	if err != nil {
		return nil, s.translateExecuteErr(err)
	}

	s.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityIdentity,
		EntityID:   identityID.String(),
		Action:     audit.ActionZoneChanged,
		Actor:      requestcontext.Actor(ctx),
		Details: map[string]string{
			"from": event.From,
			"to":   event.To,
		},
	})
	return updated, nil
}

// UpdateContactInformation replaces the identity's contact data.
func (s *Service) UpdateContactInformation(ctx context.Context, identityID id.IdentityID, contact models.ContactInformation) (*models.Identity, error) {
	if contact.Email == "" && contact.Phone == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "contact information is required")
	}
	now := requestcontext.Now(ctx)
	updated, err := s.identities.Execute(ctx, identityID,
		func(i *models.Identity) error { return i.CanUpdateContact() },
		func(i *models.Identity) {
			i.ApplyContactUpdate(contact, now)
		},
	)
	if err != nil {
		return nil, s.translateExecuteErr(err)
	}

	s.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityIdentity,
		EntityID:   identityID.String(),
		Action:     audit.ActionContactUpdated,
		Actor:      requestcontext.Actor(ctx),
	})
	return updated, nil
}

// GetIdentity returns the identity by ID.
func (s *Service) GetIdentity(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	return s.getIdentity(ctx, identityID)
}

func (s *Service) getIdentity(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	if identityID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "identity id is required")
	}
	identity, err := s.identities.FindByID(ctx, identityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "identity %s not found", identityID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to load identity")
	}
	return identity, nil
}

// translateExecuteErr maps store sentinels to domain errors and counts
// guard rejections. Guard errors already carry their code and pass through.
func (s *Service) translateExecuteErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "identity not found")
	}
	if dErrors.HasCode(err, dErrors.CodeInvalidState) {
		s.metrics.IncRejectedMutation()
		return err
	}
	var de *dErrors.DomainError
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeStorageError, "identity update failed")
}

func (s *Service) extract(ctx context.Context, image []byte, format string) (*biomodels.ExtractionResult, error) {
	if len(image) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "image data is required")
	}
	if format == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "image format is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	extraction, err := s.encoder.Extract(ctx, image, format)
	if err != nil {
		return nil, translateEncoderErr(err)
	}
	if len(extraction.Encoding) == 0 {
		return nil, dErrors.New(dErrors.CodeExtractionFailed, "no biometric feature found in image")
	}
	return extraction, nil
}

func (s *Service) compare(ctx context.Context, probe, reference []float64) (*biomodels.ComparisonResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	comparison, err := s.encoder.Compare(ctx, probe, reference)
	if err != nil {
		return nil, translateEncoderErr(err)
	}
	return comparison, nil
}

func translateEncoderErr(err error) error {
	if errors.Is(err, ports.ErrNoBiometricFeature) {
		return dErrors.Wrap(err, dErrors.CodeExtractionFailed, "no biometric feature found in image")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeEngineUnavailable, "encoding engine timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeEngineUnavailable, "encoding engine failed")
}

func (s *Service) recordAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.RecordEvent(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit record failed",
			"action", event.Action, "entity_id", event.EntityID, "error", err)
	}
}
