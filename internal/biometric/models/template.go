// Package models holds the biometric domain types shared by the matching
// engine, its stores and the transport layer.
package models

import (
	"time"

	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
)

// maxCustomDataEntries bounds the free-form metadata map so callers cannot
// grow template records without limit.
const maxCustomDataEntries = 32

// FaceLocation is the bounding rectangle of the detected feature in the
// source image, in pixel coordinates.
type FaceLocation struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// TemplateMetadata describes the image a template was enrolled from.
type TemplateMetadata struct {
	ImageFormat  string            `json:"image_format"`
	ImageSize    int               `json:"image_size"`
	FaceLocation *FaceLocation     `json:"face_location,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// BiometricTemplate is a persisted enrollment record: one encoded sample
// belonging to a subject. Encoding and quality are immutable once stored;
// only tags and custom metadata may change afterwards.
//
// Invariants:
//   - QualityScore is in [0,1] and never below the enroll-time minimum
//     (the engine refuses to persist rejected samples)
//   - Encoding is non-empty and never mutated after enrollment
//   - StorageObjectID references the raw image in object storage; the
//     template record never embeds image bytes
type BiometricTemplate struct {
	ID              id.TemplateID    `json:"id"`
	SubjectID       id.SubjectID     `json:"subject_id"`
	Encoding        []float64        `json:"encoding"`
	QualityScore    float64          `json:"quality_score"`
	Metadata        TemplateMetadata `json:"metadata"`
	Tags            []string         `json:"tags,omitempty"`
	StorageObjectID string           `json:"storage_object_id"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewTemplate validates and constructs an enrollment record.
func NewTemplate(
	templateID id.TemplateID,
	subjectID id.SubjectID,
	encoding []float64,
	quality float64,
	meta TemplateMetadata,
	tags []string,
	objectID string,
	now time.Time,
) (*BiometricTemplate, error) {
	if templateID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "template id is required")
	}
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject id is required")
	}
	if len(encoding) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "encoding must not be empty")
	}
	if quality < 0 || quality > 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "quality score must be in [0,1]")
	}
	if len(meta.Custom) > maxCustomDataEntries {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"custom metadata limited to %d entries", maxCustomDataEntries)
	}
	return &BiometricTemplate{
		ID:              templateID,
		SubjectID:       subjectID,
		Encoding:        encoding,
		QualityScore:    quality,
		Metadata:        meta,
		Tags:            tags,
		StorageObjectID: objectID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// HasTag reports whether the template carries the given tag.
func (t *BiometricTemplate) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// TemplateFilter narrows candidate sets for search and identification.
// Zero-valued fields are ignored; an empty filter matches everything.
type TemplateFilter struct {
	SubjectID       id.SubjectID
	Tags            []string
	MinQualityScore float64
}

// IsZero reports whether the filter constrains nothing.
func (f TemplateFilter) IsZero() bool {
	return f.SubjectID.IsNil() && len(f.Tags) == 0 && f.MinQualityScore == 0
}

// Matches applies the filter to a template. All set constraints must hold;
// tag constraints require every requested tag to be present.
func (f TemplateFilter) Matches(t *BiometricTemplate) bool {
	if !f.SubjectID.IsNil() && t.SubjectID != f.SubjectID {
		return false
	}
	if t.QualityScore < f.MinQualityScore {
		return false
	}
	for _, tag := range f.Tags {
		if !t.HasTag(tag) {
			return false
		}
	}
	return true
}
