package dErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeStorageError, "failed to load template")

	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeStorageError, CodeOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "should be nil"))
}

func TestHasCode(t *testing.T) {
	err := New(CodeQualityTooLow, "quality below floor")

	assert.True(t, HasCode(err, CodeQualityTooLow))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(nil, CodeQualityTooLow))
	assert.False(t, HasCode(errors.New("plain"), CodeQualityTooLow))
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := New(CodeBiometricMismatch, "similarity below threshold")
	outer := fmt.Errorf("verify identity: %w", inner)

	assert.True(t, HasCode(outer, CodeBiometricMismatch))
	assert.Equal(t, CodeBiometricMismatch, CodeOf(outer))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeQualityTooLow, "quality below floor").
		WithDetail("quality_score", 0.42).
		WithDetail("min_quality_score", 0.6)

	assert.Equal(t, 0.42, err.Detail("quality_score"))
	assert.Equal(t, 0.6, err.Detail("min_quality_score"))
	assert.Nil(t, err.Detail("missing"))

	details := DetailsOf(err)
	require.Len(t, details, 2)
	assert.Equal(t, 0.42, details["quality_score"])
}

func TestErrorFormatting(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := New(CodeNotFound, "template not found")
		assert.Equal(t, "not_found: template not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		err := Wrap(errors.New("no rows"), CodeNotFound, "template not found")
		assert.Equal(t, "not_found: template not found: no rows", err.Error())
	})
}
