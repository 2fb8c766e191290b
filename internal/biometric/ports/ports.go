// Package ports declares the interfaces the biometric engine and the identity
// service depend on. Implementations live in sibling packages (memory and
// postgres stores, redis cache) or outside the process entirely (the encoding
// engine). Keeping them here lets services depend on behavior, not wiring.
package ports

import (
	"context"
	"errors"

	"veribio/internal/biometric/models"
	id "veribio/pkg/domain"
)

// ErrNoBiometricFeature is returned by EncodingClient implementations when
// the engine found no usable biometric feature in the image. Services
// translate it into an extraction_failed domain error.
var ErrNoBiometricFeature = errors.New("no biometric feature detected")

// EncodingClient is the boundary to the external feature-extraction engine.
// Both calls cross a process boundary: implementations must honor context
// cancellation, and a deadline surfaces as an error, never as a silent
// partial result.
type EncodingClient interface {
	// Extract converts an image into a fixed-length encoding plus a quality
	// score in [0,1]. Returns ErrNoBiometricFeature (possibly wrapped) when
	// the image contains no usable sample.
	Extract(ctx context.Context, image []byte, format string) (*models.ExtractionResult, error)

	// Compare scores two encodings. Similarity and distance are in
	// engine-defined units; higher similarity means a closer match.
	Compare(ctx context.Context, probe, reference []float64) (*models.ComparisonResult, error)
}

// TemplateStore is durable storage for enrollment records.
//
// Error contract (shared by every store implementation):
//   - sentinel.ErrNotFound when the requested template does not exist
//   - sentinel.ErrConflict when Add hits an existing ID
//   - wrapped infrastructure errors otherwise
type TemplateStore interface {
	Add(ctx context.Context, template *models.BiometricTemplate) error
	Get(ctx context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error)
	Update(ctx context.Context, template *models.BiometricTemplate) error
	Delete(ctx context.Context, templateID id.TemplateID) error
	Search(ctx context.Context, filter models.TemplateFilter) ([]*models.BiometricTemplate, error)
	Count(ctx context.Context) (int, error)
}

// ObjectStore holds raw image bytes, referenced from templates by object ID.
// Image bytes are never embedded in template records.
type ObjectStore interface {
	Upload(ctx context.Context, objectID string, data []byte, contentType string) error
	Download(ctx context.Context, objectID string) ([]byte, string, error)
	Delete(ctx context.Context, objectID string) error
}

// TemplateCache is the short-TTL read-through cache in front of the template
// store. Get returns sentinel.ErrNotFound (or ErrExpired) on a miss; callers
// treat any cache error as a miss and fall through to the store. The cache
// must never serve a logically deleted template, so delete paths evict
// unconditionally.
type TemplateCache interface {
	Get(ctx context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error)
	Put(ctx context.Context, template *models.BiometricTemplate) error
	Evict(ctx context.Context, templateID id.TemplateID) error
	Len(ctx context.Context) (int, error)
}
