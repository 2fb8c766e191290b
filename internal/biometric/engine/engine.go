// Package engine implements the biometric matching engine: enrollment with
// quality gating, 1:1 verification and 1:N identification over the template
// population. The engine is stateless per call except for cache reads and
// writes, so operations against different templates may run fully in parallel.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veribio/internal/audit"
	"veribio/internal/biometric/metrics"
	"veribio/internal/biometric/models"
	"veribio/internal/biometric/ports"
	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
	"veribio/pkg/platform/sentinel"
	"veribio/pkg/requestcontext"
)

// Config carries the engine's policy defaults. Callers may override quality
// and threshold per request; the defaults apply when they do not.
type Config struct {
	DefaultMinQuality   float64
	DefaultThreshold    float64
	DefaultMaxResults   int
	IdentifyConcurrency int
	CallTimeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultMinQuality <= 0 {
		c.DefaultMinQuality = 0.6
	}
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = 0.75
	}
	if c.DefaultMaxResults <= 0 {
		c.DefaultMaxResults = 10
	}
	if c.IdentifyConcurrency <= 0 {
		c.IdentifyConcurrency = 8
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	return c
}

// Engine orchestrates enrollment, verification and identification.
type Engine struct {
	encoder   ports.EncodingClient
	templates ports.TemplateStore
	objects   ports.ObjectStore
	cache     ports.TemplateCache
	auditor   audit.Recorder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
	tracer    trace.Tracer
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLogger sets a logger for degraded-path reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAudit sets the compliance sink.
func WithAudit(recorder audit.Recorder) Option {
	return func(e *Engine) { e.auditor = recorder }
}

// New constructs a matching engine. Encoder, template store, object store
// and cache are required.
func New(
	encoder ports.EncodingClient,
	templates ports.TemplateStore,
	objects ports.ObjectStore,
	cache ports.TemplateCache,
	cfg Config,
	opts ...Option,
) (*Engine, error) {
	if encoder == nil {
		return nil, errors.New("encoding client is required")
	}
	if templates == nil {
		return nil, errors.New("template store is required")
	}
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	if cache == nil {
		return nil, errors.New("template cache is required")
	}
	e := &Engine{
		encoder:   encoder,
		templates: templates,
		objects:   objects,
		cache:     cache,
		cfg:       cfg.withDefaults(),
		tracer:    otel.Tracer("veribio.biometric.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EnrollRequest carries the inputs for a new enrollment.
type EnrollRequest struct {
	SubjectID       id.SubjectID
	ImageData       []byte
	ImageFormat     string
	MinQualityScore *float64
	CustomData      map[string]string
	Tags            []string
}

// Enroll extracts the sample, gates on quality, stores the raw image and
// persists the template. Exactly one template and one stored image exist per
// successful call; none on any failure path.
func (e *Engine) Enroll(ctx context.Context, req EnrollRequest) (*models.EnrollmentResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Enroll")
	defer span.End()

	if req.SubjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "subject id is required")
	}
	if err := validateImage(req.ImageData, req.ImageFormat); err != nil {
		return nil, err
	}
	minQuality := e.cfg.DefaultMinQuality
	if req.MinQualityScore != nil {
		minQuality = *req.MinQualityScore
	}
	if minQuality < 0 || minQuality > 1 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "min quality score must be in [0,1]")
	}
	span.SetAttributes(attribute.String("subject_id", req.SubjectID.String()))

	extraction, err := e.extract(ctx, req.ImageData, req.ImageFormat)
	if err != nil {
		e.metrics.IncEnrollment(outcomeForError(err))
		return nil, err
	}
	if extraction.QualityScore < minQuality {
		e.metrics.IncEnrollment(metrics.OutcomeQualityTooLow)
		return nil, dErrors.New(dErrors.CodeQualityTooLow, "sample quality below enrollment minimum").
			WithDetail("quality_score", extraction.QualityScore).
			WithDetail("min_quality_score", minQuality)
	}

	templateID := id.NewTemplateID()
	objectID := "templates/" + templateID.String()
	now := requestcontext.Now(ctx)

	if err := e.objects.Upload(ctx, objectID, req.ImageData, contentTypeFor(req.ImageFormat)); err != nil {
		e.metrics.IncEnrollment(metrics.OutcomeError)
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to store enrollment image")
	}

	template, err := models.NewTemplate(
		templateID,
		req.SubjectID,
		extraction.Encoding,
		extraction.QualityScore,
		models.TemplateMetadata{
			ImageFormat:  req.ImageFormat,
			ImageSize:    len(req.ImageData),
			FaceLocation: extraction.FaceLocation,
			Custom:       req.CustomData,
		},
		req.Tags,
		objectID,
		now,
	)
	if err != nil {
		e.deleteObjectQuietly(ctx, objectID)
		e.metrics.IncEnrollment(metrics.OutcomeError)
		return nil, err
	}

	if err := e.templates.Add(ctx, template); err != nil {
		// Roll back the image so a failed enrollment leaves nothing behind.
		e.deleteObjectQuietly(ctx, objectID)
		e.metrics.IncEnrollment(metrics.OutcomeError)
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to persist template")
	}

	e.metrics.IncEnrollment(metrics.OutcomeSuccess)
	e.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityTemplate,
		EntityID:   templateID.String(),
		Action:     audit.ActionTemplateEnrolled,
		Actor:      requestcontext.Actor(ctx),
		Details: map[string]string{
			"subject_id": req.SubjectID.String(),
		},
	})

	return &models.EnrollmentResult{
		TemplateID:   templateID,
		QualityScore: extraction.QualityScore,
		FaceLocation: extraction.FaceLocation,
	}, nil
}

// VerifyRequest carries the inputs for a 1:1 verification.
type VerifyRequest struct {
	TemplateID  id.TemplateID
	ImageData   []byte
	ImageFormat string
	Threshold   *float64
}

// Verify compares a probe image against one stored template. The template is
// never mutated.
func (e *Engine) Verify(ctx context.Context, req VerifyRequest) (*models.VerificationResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Verify")
	defer span.End()

	if req.TemplateID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "template id is required")
	}
	if err := validateImage(req.ImageData, req.ImageFormat); err != nil {
		return nil, err
	}
	threshold, err := e.resolveThreshold(req.Threshold)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("template_id", req.TemplateID.String()))

	template, err := e.resolveTemplate(ctx, req.TemplateID)
	if err != nil {
		e.metrics.IncVerification(outcomeForError(err))
		return nil, err
	}

	extraction, err := e.extract(ctx, req.ImageData, req.ImageFormat)
	if err != nil {
		e.metrics.IncVerification(outcomeForError(err))
		return nil, err
	}

	comparison, err := e.compare(ctx, extraction.Encoding, template.Encoding)
	if err != nil {
		e.metrics.IncVerification(metrics.OutcomeError)
		return nil, err
	}

	matched := comparison.Similarity >= threshold
	if matched {
		e.metrics.IncVerification(metrics.OutcomeMatched)
	} else {
		e.metrics.IncVerification(metrics.OutcomeNoMatch)
	}
	e.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityTemplate,
		EntityID:   req.TemplateID.String(),
		Action:     audit.ActionTemplateVerified,
		Actor:      requestcontext.Actor(ctx),
		Details: map[string]string{
			"matched": boolString(matched),
		},
	})

	return &models.VerificationResult{
		Matched:           matched,
		Similarity:        comparison.Similarity,
		Distance:          comparison.Distance,
		Threshold:         threshold,
		ProbeQualityScore: extraction.QualityScore,
	}, nil
}

// DeleteTemplate removes a template, its cached entry and its stored image.
// Returns false when the template did not exist. The template deletion result
// is authoritative; a missing image object is not an error.
func (e *Engine) DeleteTemplate(ctx context.Context, templateID id.TemplateID) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "engine.DeleteTemplate")
	defer span.End()

	if templateID.IsNil() {
		return false, dErrors.New(dErrors.CodeBadRequest, "template id is required")
	}

	// Evict first so the cache cannot serve the template once deletion begins.
	e.evictQuietly(ctx, templateID)

	template, err := e.templates.Get(ctx, templateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to load template")
	}

	if err := e.templates.Delete(ctx, templateID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to delete template")
	}
	e.evictQuietly(ctx, templateID)
	e.deleteObjectQuietly(ctx, template.StorageObjectID)

	e.recordAudit(ctx, audit.Event{
		EntityType: audit.EntityTemplate,
		EntityID:   templateID.String(),
		Action:     audit.ActionTemplateDeleted,
		Actor:      requestcontext.Actor(ctx),
		Details: map[string]string{
			"subject_id": template.SubjectID.String(),
		},
	})
	return true, nil
}

// GetTemplate resolves a single template through the cache.
func (e *Engine) GetTemplate(ctx context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error) {
	if templateID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "template id is required")
	}
	return e.resolveTemplate(ctx, templateID)
}

// ListTemplates returns all templates matching the filter.
func (e *Engine) ListTemplates(ctx context.Context, filter models.TemplateFilter) ([]*models.BiometricTemplate, error) {
	templates, err := e.templates.Search(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to search templates")
	}
	return templates, nil
}

// Health verifies the template store is reachable.
func (e *Engine) Health(ctx context.Context) error {
	if _, err := e.templates.Count(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageError, "template store unavailable")
	}
	return nil
}

// Statistics summarizes the enrolled population.
func (e *Engine) Statistics(ctx context.Context) (*models.EngineStatistics, error) {
	count, err := e.templates.Count(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to count templates")
	}
	cached, err := e.cache.Len(ctx)
	if err != nil {
		// Statistics degrade rather than fail when the cache is unreachable.
		if e.logger != nil {
			e.logger.WarnContext(ctx, "cache size unavailable", "error", err)
		}
		cached = 0
	}
	return &models.EngineStatistics{
		TemplateCount: count,
		CacheEntries:  cached,
	}, nil
}

// resolveTemplate reads through the cache: hit serves the cached record,
// miss loads from the store and repopulates with a fresh TTL.
func (e *Engine) resolveTemplate(ctx context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error) {
	template, err := e.cache.Get(ctx, templateID)
	if err == nil {
		e.metrics.IncCacheHit()
		return template, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) && !errors.Is(err, sentinel.ErrExpired) {
		// Cache infrastructure failure degrades to a miss.
		if e.logger != nil {
			e.logger.WarnContext(ctx, "template cache read failed",
				"template_id", templateID.String(), "error", err)
		}
	}
	e.metrics.IncCacheMiss()

	template, err = e.templates.Get(ctx, templateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "template %s not found", templateID)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageError, "failed to load template")
	}
	if err := e.cache.Put(ctx, template); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "template cache write failed",
			"template_id", templateID.String(), "error", err)
	}
	return template, nil
}

func (e *Engine) extract(ctx context.Context, image []byte, format string) (*models.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	extraction, err := e.encoder.Extract(ctx, image, format)
	e.metrics.ObserveExtraction(time.Since(start))
	if err != nil {
		return nil, translateEncoderError(err, "extraction")
	}
	if len(extraction.Encoding) == 0 {
		return nil, dErrors.New(dErrors.CodeExtractionFailed, "no biometric feature found in image")
	}
	return extraction, nil
}

func (e *Engine) compare(ctx context.Context, probe, reference []float64) (*models.ComparisonResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	comparison, err := e.encoder.Compare(ctx, probe, reference)
	e.metrics.ObserveComparison(time.Since(start))
	if err != nil {
		return nil, translateEncoderError(err, "comparison")
	}
	return comparison, nil
}

func (e *Engine) resolveThreshold(override *float64) (float64, error) {
	threshold := e.cfg.DefaultThreshold
	if override != nil {
		threshold = *override
	}
	if threshold <= 0 || threshold > 1 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "threshold must be in (0,1]")
	}
	return threshold, nil
}

func (e *Engine) recordAudit(ctx context.Context, event audit.Event) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.RecordEvent(ctx, event); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "audit record failed",
			"action", event.Action, "entity_id", event.EntityID, "error", err)
	}
}

func (e *Engine) deleteObjectQuietly(ctx context.Context, objectID string) {
	if err := e.objects.Delete(ctx, objectID); err != nil &&
		!errors.Is(err, sentinel.ErrNotFound) && e.logger != nil {
		e.logger.WarnContext(ctx, "object delete failed", "object_id", objectID, "error", err)
	}
}

func (e *Engine) evictQuietly(ctx context.Context, templateID id.TemplateID) {
	if err := e.cache.Evict(ctx, templateID); err != nil && e.logger != nil {
		e.logger.WarnContext(ctx, "cache evict failed",
			"template_id", templateID.String(), "error", err)
	}
}

func validateImage(image []byte, format string) error {
	if len(image) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "image data is required")
	}
	if format == "" {
		return dErrors.New(dErrors.CodeBadRequest, "image format is required")
	}
	return nil
}

func contentTypeFor(format string) string {
	return "image/" + format
}

func translateEncoderError(err error, operation string) error {
	if errors.Is(err, ports.ErrNoBiometricFeature) {
		return dErrors.Wrap(err, dErrors.CodeExtractionFailed, "no biometric feature found in image")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeEngineUnavailable, "encoding engine "+operation+" timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeEngineUnavailable, "encoding engine "+operation+" failed")
}

func outcomeForError(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeExtractionFailed:
		return metrics.OutcomeExtractionFailed
	case dErrors.CodeQualityTooLow:
		return metrics.OutcomeQualityTooLow
	default:
		return metrics.OutcomeError
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
