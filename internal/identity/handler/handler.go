// Package handler wires identity lifecycle endpoints to the identity service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veribio/internal/identity/models"
	"veribio/internal/identity/service"
	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
	"veribio/pkg/platform/httputil"
	"veribio/pkg/requestcontext"
)

// Service defines the identity operations the transport layer needs.
type Service interface {
	CreateIdentity(ctx context.Context, req service.CreateRequest) (*models.Identity, error)
	VerifyBiometric(ctx context.Context, identityID id.IdentityID, req service.VerifyRequest) (*models.Identity, error)
	Revoke(ctx context.Context, identityID id.IdentityID, reason, actor string) (*models.Identity, error)
	UpdateBiometric(ctx context.Context, identityID id.IdentityID, req service.UpdateBiometricRequest) (*models.Identity, error)
	UpdateZone(ctx context.Context, identityID id.IdentityID, zone string) (*models.Identity, error)
	UpdateContactInformation(ctx context.Context, identityID id.IdentityID, contact models.ContactInformation) (*models.Identity, error)
	GetIdentity(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
}

// Handler exposes identity lifecycle operations over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an identity handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts identity endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identities", h.HandleCreate)
	r.Get("/identities/{identityID}", h.HandleGet)
	r.Post("/identities/{identityID}/verify", h.HandleVerify)
	r.Post("/identities/{identityID}/revoke", h.HandleRevoke)
	r.Put("/identities/{identityID}/biometric", h.HandleUpdateBiometric)
	r.Put("/identities/{identityID}/zone", h.HandleUpdateZone)
	r.Put("/identities/{identityID}/contact", h.HandleUpdateContact)
}

// IdentityResponse is the wire form of an identity. The biometric reference
// is reduced to its fingerprint; the raw encoding never leaves the service.
type IdentityResponse struct {
	ID                   string                    `json:"id"`
	SubjectID            string                    `json:"subject_id"`
	Status               string                    `json:"status"`
	BiometricFingerprint string                    `json:"biometric_fingerprint"`
	Zone                 string                    `json:"zone,omitempty"`
	Contact              models.ContactInformation `json:"contact"`
	Metadata             map[string]string         `json:"metadata,omitempty"`
	VerifiedAt           *time.Time                `json:"verified_at,omitempty"`
	LastVerifiedAt       *time.Time                `json:"last_verified_at,omitempty"`
	RevokedAt            *time.Time                `json:"revoked_at,omitempty"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

func toIdentityResponse(identity *models.Identity) IdentityResponse {
	return IdentityResponse{
		ID:                   identity.ID.String(),
		SubjectID:            identity.SubjectID.String(),
		Status:               string(identity.Status),
		BiometricFingerprint: identity.Biometric.Fingerprint,
		Zone:                 identity.Zone,
		Contact:              identity.Contact,
		Metadata:             identity.Metadata,
		VerifiedAt:           identity.VerifiedAt,
		LastVerifiedAt:       identity.LastVerifiedAt,
		RevokedAt:            identity.RevokedAt,
		CreatedAt:            identity.CreatedAt,
		UpdatedAt:            identity.UpdatedAt,
	}
}

// CreateRequest is the wire form of identity creation. Image is base64 in JSON.
type CreateRequest struct {
	SubjectID   string `json:"subject_id"`
	Image       []byte `json:"image"`
	ImageFormat string `json:"image_format"`
	Zone        string `json:"zone,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// HandleCreate handles POST /v1/identities.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.Decode[CreateRequest](w, r, h.logger)
	if !ok {
		return
	}
	subjectID, err := id.ParseSubjectID(req.SubjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.service.CreateIdentity(ctx, service.CreateRequest{
		SubjectID:   subjectID,
		ImageData:   req.Image,
		ImageFormat: req.ImageFormat,
		Zone:        req.Zone,
		Contact:     models.ContactInformation{Email: req.Email, Phone: req.Phone},
	})
	if err != nil {
		h.logger.WarnContext(ctx, "identity creation failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", req.SubjectID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identity created",
		"request_id", requestcontext.RequestID(ctx),
		"identity_id", identity.ID.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, toIdentityResponse(identity))
}

// HandleGet handles GET /v1/identities/{identityID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identity, err := h.service.GetIdentity(r.Context(), identityID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// VerifyRequest is the wire form of a lifecycle verification.
type VerifyRequest struct {
	Image       []byte   `json:"image"`
	ImageFormat string   `json:"image_format"`
	Threshold   *float64 `json:"threshold,omitempty"`
}

// HandleVerify handles POST /v1/identities/{identityID}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[VerifyRequest](w, r, h.logger)
	if !ok {
		return
	}

	identity, err := h.service.VerifyBiometric(ctx, identityID, service.VerifyRequest{
		ImageData:   req.Image,
		ImageFormat: req.ImageFormat,
		Threshold:   req.Threshold,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "identity verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"identity_id", identityID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// RevokeRequest is the wire form of a revocation.
type RevokeRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor,omitempty"`
}

// HandleRevoke handles POST /v1/identities/{identityID}/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[RevokeRequest](w, r, h.logger)
	if !ok {
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}

	identity, err := h.service.Revoke(ctx, identityID, req.Reason, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identity revoked",
		"request_id", requestcontext.RequestID(ctx),
		"identity_id", identityID.String(),
		"actor", actor,
	)
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// UpdateBiometricRequest is the wire form of a reference replacement. Both
// images travel base64 in JSON.
type UpdateBiometricRequest struct {
	NewImage          []byte `json:"new_image"`
	VerificationImage []byte `json:"verification_image"`
	ImageFormat       string `json:"image_format"`
}

// HandleUpdateBiometric handles PUT /v1/identities/{identityID}/biometric.
func (h *Handler) HandleUpdateBiometric(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[UpdateBiometricRequest](w, r, h.logger)
	if !ok {
		return
	}

	identity, err := h.service.UpdateBiometric(ctx, identityID, service.UpdateBiometricRequest{
		NewImageData:          req.NewImage,
		VerificationImageData: req.VerificationImage,
		ImageFormat:           req.ImageFormat,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "biometric update failed",
			"request_id", requestcontext.RequestID(ctx),
			"identity_id", identityID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// UpdateZoneRequest is the wire form of a zone change.
type UpdateZoneRequest struct {
	Zone string `json:"zone"`
}

// HandleUpdateZone handles PUT /v1/identities/{identityID}/zone.
func (h *Handler) HandleUpdateZone(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[UpdateZoneRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Zone == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "zone is required"))
		return
	}

	identity, err := h.service.UpdateZone(r.Context(), identityID, req.Zone)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}

// UpdateContactRequest is the wire form of a contact change.
type UpdateContactRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// HandleUpdateContact handles PUT /v1/identities/{identityID}/contact.
func (h *Handler) HandleUpdateContact(w http.ResponseWriter, r *http.Request) {
	identityID, err := id.ParseIdentityID(chi.URLParam(r, "identityID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[UpdateContactRequest](w, r, h.logger)
	if !ok {
		return
	}

	identity, err := h.service.UpdateContactInformation(r.Context(), identityID, models.ContactInformation{
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityResponse(identity))
}
