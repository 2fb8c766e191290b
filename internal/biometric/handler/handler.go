// Package handler wires biometric matching endpoints to the engine.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"veribio/internal/biometric/engine"
	"veribio/internal/biometric/models"
	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
	"veribio/pkg/platform/httputil"
	"veribio/pkg/requestcontext"
)

// Matcher defines the engine operations the transport layer needs.
type Matcher interface {
	Enroll(ctx context.Context, req engine.EnrollRequest) (*models.EnrollmentResult, error)
	Verify(ctx context.Context, req engine.VerifyRequest) (*models.VerificationResult, error)
	Identify(ctx context.Context, req engine.IdentifyRequest) (*models.IdentificationResult, error)
	GetTemplate(ctx context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error)
	ListTemplates(ctx context.Context, filter models.TemplateFilter) ([]*models.BiometricTemplate, error)
	DeleteTemplate(ctx context.Context, templateID id.TemplateID) (bool, error)
	Statistics(ctx context.Context) (*models.EngineStatistics, error)
}

// Handler exposes the matching engine over HTTP.
type Handler struct {
	matcher Matcher
	logger  *slog.Logger
}

// New constructs a biometric handler with its dependencies.
func New(matcher Matcher, logger *slog.Logger) *Handler {
	return &Handler{matcher: matcher, logger: logger}
}

// Register mounts biometric endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/templates", h.HandleEnroll)
	r.Get("/templates", h.HandleListTemplates)
	r.Get("/templates/{templateID}", h.HandleGetTemplate)
	r.Delete("/templates/{templateID}", h.HandleDeleteTemplate)
	r.Post("/templates/{templateID}/verify", h.HandleVerify)
	r.Post("/identify", h.HandleIdentify)
	r.Get("/statistics", h.HandleStatistics)
}

// EnrollRequest is the wire form of an enrollment. Image is base64 in JSON.
type EnrollRequest struct {
	SubjectID       string            `json:"subject_id"`
	Image           []byte            `json:"image"`
	ImageFormat     string            `json:"image_format"`
	MinQualityScore *float64          `json:"min_quality_score,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	CustomData      map[string]string `json:"custom_data,omitempty"`
}

// HandleEnroll handles POST /v1/templates.
func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.Decode[EnrollRequest](w, r, h.logger)
	if !ok {
		return
	}
	subjectID, err := id.ParseSubjectID(req.SubjectID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.matcher.Enroll(ctx, engine.EnrollRequest{
		SubjectID:       subjectID,
		ImageData:       req.Image,
		ImageFormat:     req.ImageFormat,
		MinQualityScore: req.MinQualityScore,
		Tags:            req.Tags,
		CustomData:      req.CustomData,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "enrollment failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", req.SubjectID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "template enrolled",
		"request_id", requestcontext.RequestID(ctx),
		"template_id", result.TemplateID.String(),
		"subject_id", req.SubjectID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, result)
}

// VerifyRequest is the wire form of a 1:1 verification.
type VerifyRequest struct {
	Image       []byte   `json:"image"`
	ImageFormat string   `json:"image_format"`
	Threshold   *float64 `json:"threshold,omitempty"`
}

// HandleVerify handles POST /v1/templates/{templateID}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	templateID, err := id.ParseTemplateID(chi.URLParam(r, "templateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[VerifyRequest](w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.matcher.Verify(ctx, engine.VerifyRequest{
		TemplateID:  templateID,
		ImageData:   req.Image,
		ImageFormat: req.ImageFormat,
		Threshold:   req.Threshold,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// IdentifyRequest is the wire form of a 1:N identification.
type IdentifyRequest struct {
	Image           []byte   `json:"image"`
	ImageFormat     string   `json:"image_format"`
	SubjectID       string   `json:"subject_id,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	MinQualityScore float64  `json:"min_quality_score,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	MaxResults      int      `json:"max_results,omitempty"`
}

// HandleIdentify handles POST /v1/identify.
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	req, ok := httputil.Decode[IdentifyRequest](w, r, h.logger)
	if !ok {
		return
	}
	filter := models.TemplateFilter{
		Tags:            req.Tags,
		MinQualityScore: req.MinQualityScore,
	}
	if req.SubjectID != "" {
		subjectID, err := id.ParseSubjectID(req.SubjectID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.SubjectID = subjectID
	}

	result, err := h.matcher.Identify(ctx, engine.IdentifyRequest{
		ImageData:   req.Image,
		ImageFormat: req.ImageFormat,
		Filter:      filter,
		Threshold:   req.Threshold,
		MaxResults:  req.MaxResults,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identification completed",
		"request_id", requestcontext.RequestID(ctx),
		"templates_searched", result.TemplatesSearched,
		"matches", len(result.Matches),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// TemplateResponse is the wire form of a stored template. The raw encoding
// never leaves the service.
type TemplateResponse struct {
	ID           string                  `json:"id"`
	SubjectID    string                  `json:"subject_id"`
	QualityScore float64                 `json:"quality_score"`
	Metadata     models.TemplateMetadata `json:"metadata"`
	Tags         []string                `json:"tags,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

func toTemplateResponse(t *models.BiometricTemplate) TemplateResponse {
	return TemplateResponse{
		ID:           t.ID.String(),
		SubjectID:    t.SubjectID.String(),
		QualityScore: t.QualityScore,
		Metadata:     t.Metadata,
		Tags:         t.Tags,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// HandleGetTemplate handles GET /v1/templates/{templateID}.
func (h *Handler) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := id.ParseTemplateID(chi.URLParam(r, "templateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	template, err := h.matcher.GetTemplate(r.Context(), templateID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTemplateResponse(template))
}

// HandleListTemplates handles GET /v1/templates with optional subject_id,
// tag and min_quality_score query filters.
func (h *Handler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	var filter models.TemplateFilter
	query := r.URL.Query()

	if raw := query.Get("subject_id"); raw != "" {
		subjectID, err := id.ParseSubjectID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.SubjectID = subjectID
	}
	if tags, ok := query["tag"]; ok {
		filter.Tags = tags
	}
	if raw := query.Get("min_quality_score"); raw != "" {
		minQuality, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "min_quality_score must be a number"))
			return
		}
		filter.MinQualityScore = minQuality
	}

	templates, err := h.matcher.ListTemplates(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	responses := make([]TemplateResponse, 0, len(templates))
	for _, t := range templates {
		responses = append(responses, toTemplateResponse(t))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"templates": responses,
		"count":     len(responses),
	})
}

// HandleDeleteTemplate handles DELETE /v1/templates/{templateID}. Deleting a
// template that does not exist reports deleted=false rather than an error.
func (h *Handler) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	templateID, err := id.ParseTemplateID(chi.URLParam(r, "templateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	deleted, err := h.matcher.DeleteTemplate(ctx, templateID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if deleted {
		h.logger.InfoContext(ctx, "template deleted",
			"request_id", requestcontext.RequestID(ctx),
			"template_id", templateID.String(),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// HandleStatistics handles GET /v1/statistics.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.matcher.Statistics(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
