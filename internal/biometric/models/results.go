package models

import (
	id "veribio/pkg/domain"
)

// ExtractionResult is what the encoding engine produced for one image.
type ExtractionResult struct {
	Encoding     []float64
	QualityScore float64
	FaceLocation *FaceLocation
}

// ComparisonResult is the raw outcome of comparing two encodings.
// Similarity and distance are in engine-defined units.
type ComparisonResult struct {
	Similarity float64
	Distance   float64
}

// EnrollmentResult is returned by a successful Enroll call.
type EnrollmentResult struct {
	TemplateID   id.TemplateID `json:"template_id"`
	QualityScore float64       `json:"quality_score"`
	FaceLocation *FaceLocation `json:"face_location,omitempty"`
}

// VerificationResult is the outcome of a 1:1 verification. It is ephemeral
// and never persisted.
type VerificationResult struct {
	Matched           bool    `json:"matched"`
	Similarity        float64 `json:"similarity"`
	Distance          float64 `json:"distance"`
	Threshold         float64 `json:"threshold"`
	ProbeQualityScore float64 `json:"probe_quality_score"`
}

// CandidateMatch is one ranked hit from a 1:N identification.
type CandidateMatch struct {
	TemplateID id.TemplateID `json:"template_id"`
	SubjectID  id.SubjectID  `json:"subject_id"`
	Similarity float64       `json:"similarity"`
	Distance   float64       `json:"distance"`
}

// IdentificationResult is the outcome of a 1:N identification. An empty
// Matches slice is a valid outcome, not an error.
type IdentificationResult struct {
	Matches           []CandidateMatch `json:"matches"`
	TemplatesSearched int              `json:"templates_searched"`
	Threshold         float64          `json:"threshold"`
}

// EngineStatistics summarizes the enrolled population for operations
// dashboards.
type EngineStatistics struct {
	TemplateCount int `json:"template_count"`
	CacheEntries  int `json:"cache_entries"`
}
