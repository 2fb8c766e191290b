// Package dErrors provides coded domain errors.
//
// Services return these so transports can translate outcomes to protocol
// status codes without string matching, and so callers get enough structured
// detail (score, threshold, current state) to render an actionable message.
// Infrastructure facts (not found, unavailable) originate as sentinel errors
// in stores and are wrapped into coded errors at the service boundary.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"

	// Biometric-specific outcomes.
	CodeExtractionFailed  Code = "extraction_failed"
	CodeQualityTooLow     Code = "quality_too_low"
	CodeBiometricMismatch Code = "biometric_mismatch"
	CodeInvalidState      Code = "invalid_state"
	CodeEngineUnavailable Code = "engine_unavailable"
	CodeStorageError      Code = "storage_error"
)

// DomainError carries a machine-readable code, a human-readable message and
// optional structured details. It wraps an underlying cause when present.
type DomainError struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// New constructs a coded error with no underlying cause.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, message string) *DomainError {
	if err == nil {
		return nil
	}
	return &DomainError{Code: code, Message: message, cause: err}
}

// WithDetail attaches a structured detail to the error and returns it for chaining.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Detail returns a structured detail by key, or nil.
func (e *DomainError) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// HasCode reports whether err (or anything it wraps) is a DomainError with the
// given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that carry no code.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// DetailsOf returns the structured details of err, or nil.
func DetailsOf(err error) map[string]any {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}
