package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veribio/internal/audit"
	"veribio/internal/biometric/cache"
	"veribio/internal/biometric/models"
	"veribio/internal/biometric/ports"
	"veribio/internal/biometric/store/memory"
	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
)

// fakeEncoder scripts extraction and comparison outcomes per test.
type fakeEncoder struct {
	extractFn func(ctx context.Context, image []byte, format string) (*models.ExtractionResult, error)
	compareFn func(ctx context.Context, probe, reference []float64) (*models.ComparisonResult, error)

	extractCalls int
	compareCalls int
}

func (f *fakeEncoder) Extract(ctx context.Context, image []byte, format string) (*models.ExtractionResult, error) {
	f.extractCalls++
	return f.extractFn(ctx, image, format)
}

func (f *fakeEncoder) Compare(ctx context.Context, probe, reference []float64) (*models.ComparisonResult, error) {
	f.compareCalls++
	return f.compareFn(ctx, probe, reference)
}

func staticExtraction(encoding []float64, quality float64) func(context.Context, []byte, string) (*models.ExtractionResult, error) {
	return func(context.Context, []byte, string) (*models.ExtractionResult, error) {
		return &models.ExtractionResult{
			Encoding:     encoding,
			QualityScore: quality,
			FaceLocation: &models.FaceLocation{Top: 10, Right: 90, Bottom: 90, Left: 10},
		}, nil
	}
}

func staticComparison(similarity float64) func(context.Context, []float64, []float64) (*models.ComparisonResult, error) {
	return func(context.Context, []float64, []float64) (*models.ComparisonResult, error) {
		return &models.ComparisonResult{Similarity: similarity, Distance: 1 - similarity}, nil
	}
}

type engineFixture struct {
	engine     *Engine
	encoder    *fakeEncoder
	templates  *memory.TemplateStore
	objects    *memory.ObjectStore
	cache      *cache.InMemoryTemplateCache
	auditStore *audit.InMemoryStore
}

func newEngineFixture(t *testing.T, encoder *fakeEncoder) *engineFixture {
	t.Helper()

	templates := memory.NewTemplateStore()
	objects := memory.NewObjectStore()
	templateCache := cache.NewInMemory(0)
	auditStore := audit.NewInMemoryStore()

	e, err := New(encoder, templates, objects, templateCache, Config{},
		WithAudit(audit.NewPublisher(auditStore)),
	)
	require.NoError(t, err)

	return &engineFixture{
		engine:     e,
		encoder:    encoder,
		templates:  templates,
		objects:    objects,
		cache:      templateCache,
		auditStore: auditStore,
	}
}

func validEnrollRequest() EnrollRequest {
	return EnrollRequest{
		SubjectID:   id.NewSubjectID(),
		ImageData:   []byte("image-bytes"),
		ImageFormat: "jpeg",
		Tags:        []string{"kiosk"},
	}
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()

	t.Run("persists template and image", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5, 0.5}, 0.9),
		})

		req := validEnrollRequest()
		result, err := fx.engine.Enroll(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 0.9, result.QualityScore)
		require.NotNil(t, result.FaceLocation)

		stored, err := fx.templates.Get(ctx, result.TemplateID)
		require.NoError(t, err)
		assert.Equal(t, req.SubjectID, stored.SubjectID)
		assert.Equal(t, []float64{0.5, 0.5}, stored.Encoding)
		assert.Equal(t, "jpeg", stored.Metadata.ImageFormat)

		data, contentType, err := fx.objects.Download(ctx, stored.StorageObjectID)
		require.NoError(t, err)
		assert.Equal(t, req.ImageData, data)
		assert.Equal(t, "image/jpeg", contentType)

		events := fx.auditStore.All()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionTemplateEnrolled, events[0].Action)
	})

	t.Run("rejects sample below quality floor", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.45),
		})

		_, err := fx.engine.Enroll(ctx, validEnrollRequest())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeQualityTooLow))

		var dErr *dErrors.DomainError
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, 0.45, dErr.Detail("quality_score"))
		assert.Equal(t, 0.6, dErr.Detail("min_quality_score"))

		// Nothing was persisted.
		count, err := fx.templates.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Zero(t, fx.objects.Len())
	})

	t.Run("per-request quality override", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.45),
		})

		req := validEnrollRequest()
		minQuality := 0.4
		req.MinQualityScore = &minQuality

		_, err := fx.engine.Enroll(ctx, req)
		require.NoError(t, err)
	})

	t.Run("extraction failure surfaces as extraction_failed", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: func(context.Context, []byte, string) (*models.ExtractionResult, error) {
				return nil, ports.ErrNoBiometricFeature
			},
		})

		_, err := fx.engine.Enroll(ctx, validEnrollRequest())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeExtractionFailed))
	})

	t.Run("store failure rolls back the uploaded image", func(t *testing.T) {
		encoder := &fakeEncoder{extractFn: staticExtraction([]float64{0.5}, 0.9)}
		objects := memory.NewObjectStore()
		e, err := New(encoder, failingTemplateStore{}, objects, cache.NewInMemory(0), Config{})
		require.NoError(t, err)

		_, err = e.Enroll(ctx, validEnrollRequest())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeStorageError))
		assert.Zero(t, objects.Len())
	})

	t.Run("input validation", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
		})

		for name, mutate := range map[string]func(*EnrollRequest){
			"missing subject":  func(r *EnrollRequest) { r.SubjectID = id.SubjectID{} },
			"missing image":    func(r *EnrollRequest) { r.ImageData = nil },
			"missing format":   func(r *EnrollRequest) { r.ImageFormat = "" },
			"quality above 1":  func(r *EnrollRequest) { q := 1.5; r.MinQualityScore = &q },
			"negative quality": func(r *EnrollRequest) { q := -0.1; r.MinQualityScore = &q },
		} {
			t.Run(name, func(t *testing.T) {
				req := validEnrollRequest()
				mutate(&req)
				_, err := fx.engine.Enroll(ctx, req)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
			})
		}
		assert.Zero(t, fx.encoder.extractCalls, "validation failures must not call the encoder")
	})
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	enroll := func(t *testing.T, fx *engineFixture) id.TemplateID {
		t.Helper()
		result, err := fx.engine.Enroll(ctx, validEnrollRequest())
		require.NoError(t, err)
		return result.TemplateID
	}

	t.Run("match at threshold", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
			compareFn: staticComparison(0.75),
		})
		templateID := enroll(t, fx)

		result, err := fx.engine.Verify(ctx, VerifyRequest{
			TemplateID:  templateID,
			ImageData:   []byte("probe"),
			ImageFormat: "jpeg",
		})
		require.NoError(t, err)
		assert.True(t, result.Matched, "similarity equal to threshold must match")
		assert.Equal(t, 0.75, result.Similarity)
		assert.Equal(t, 0.75, result.Threshold)
		assert.Equal(t, 0.9, result.ProbeQualityScore)
	})

	t.Run("no match below threshold", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
			compareFn: staticComparison(0.7499),
		})
		templateID := enroll(t, fx)

		result, err := fx.engine.Verify(ctx, VerifyRequest{
			TemplateID:  templateID,
			ImageData:   []byte("probe"),
			ImageFormat: "jpeg",
		})
		require.NoError(t, err)
		assert.False(t, result.Matched)
	})

	t.Run("per-request threshold override", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
			compareFn: staticComparison(0.6),
		})
		templateID := enroll(t, fx)

		threshold := 0.5
		result, err := fx.engine.Verify(ctx, VerifyRequest{
			TemplateID:  templateID,
			ImageData:   []byte("probe"),
			ImageFormat: "jpeg",
			Threshold:   &threshold,
		})
		require.NoError(t, err)
		assert.True(t, result.Matched)
	})

	t.Run("invalid threshold rejected", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
			compareFn: staticComparison(0.6),
		})
		templateID := enroll(t, fx)

		for _, threshold := range []float64{0, -0.5, 1.01} {
			_, err := fx.engine.Verify(ctx, VerifyRequest{
				TemplateID:  templateID,
				ImageData:   []byte("probe"),
				ImageFormat: "jpeg",
				Threshold:   &threshold,
			})
			assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
		}
	})

	t.Run("unknown template not found", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
			compareFn: staticComparison(0.9),
		})

		_, err := fx.engine.Verify(ctx, VerifyRequest{
			TemplateID:  id.NewTemplateID(),
			ImageData:   []byte("probe"),
			ImageFormat: "jpeg",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("second verify served from cache", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
			compareFn: staticComparison(0.9),
		})
		templateID := enroll(t, fx)

		req := VerifyRequest{TemplateID: templateID, ImageData: []byte("probe"), ImageFormat: "jpeg"}
		_, err := fx.engine.Verify(ctx, req)
		require.NoError(t, err)

		// The first verify populated the cache; the second must not touch
		// the store.
		n, err := fx.cache.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = fx.engine.Verify(ctx, req)
		require.NoError(t, err)
	})
}

func TestDeleteTemplate(t *testing.T) {
	ctx := context.Background()

	t.Run("removes template, cache entry and image", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
			compareFn: staticComparison(0.9),
		})
		result, err := fx.engine.Enroll(ctx, validEnrollRequest())
		require.NoError(t, err)

		// Warm the cache.
		_, err = fx.engine.GetTemplate(ctx, result.TemplateID)
		require.NoError(t, err)

		deleted, err := fx.engine.DeleteTemplate(ctx, result.TemplateID)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Zero(t, fx.objects.Len())

		n, err := fx.cache.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		// Verification against the deleted template is a clean not-found.
		_, err = fx.engine.Verify(ctx, VerifyRequest{
			TemplateID:  result.TemplateID,
			ImageData:   []byte("probe"),
			ImageFormat: "jpeg",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("deleting a missing template is not an error", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
		})
		deleted, err := fx.engine.DeleteTemplate(ctx, id.NewTemplateID())
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		fx := newEngineFixture(t, &fakeEncoder{
			extractFn: staticExtraction([]float64{0.5}, 0.9),
		})
		result, err := fx.engine.Enroll(ctx, validEnrollRequest())
		require.NoError(t, err)

		deleted, err := fx.engine.DeleteTemplate(ctx, result.TemplateID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = fx.engine.DeleteTemplate(ctx, result.TemplateID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, &fakeEncoder{
		extractFn: staticExtraction([]float64{0.5}, 0.9),
	})

	stats, err := fx.engine.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TemplateCount)

	result, err := fx.engine.Enroll(ctx, validEnrollRequest())
	require.NoError(t, err)
	_, err = fx.engine.GetTemplate(ctx, result.TemplateID)
	require.NoError(t, err)

	stats, err = fx.engine.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TemplateCount)
	assert.Equal(t, 1, stats.CacheEntries)
}

func TestHealth(t *testing.T) {
	ctx := context.Background()

	fx := newEngineFixture(t, &fakeEncoder{extractFn: staticExtraction([]float64{0.5}, 0.9)})
	require.NoError(t, fx.engine.Health(ctx))

	e, err := New(&fakeEncoder{}, failingTemplateStore{}, memory.NewObjectStore(), cache.NewInMemory(0), Config{})
	require.NoError(t, err)
	assert.True(t, dErrors.HasCode(e.Health(ctx), dErrors.CodeStorageError))
}

// failingTemplateStore errors on every operation.
type failingTemplateStore struct{}

var errStoreDown = errors.New("store down")

func (failingTemplateStore) Add(context.Context, *models.BiometricTemplate) error { return errStoreDown }
func (failingTemplateStore) Get(context.Context, id.TemplateID) (*models.BiometricTemplate, error) {
	return nil, errStoreDown
}
func (failingTemplateStore) Update(context.Context, *models.BiometricTemplate) error {
	return errStoreDown
}
func (failingTemplateStore) Delete(context.Context, id.TemplateID) error { return errStoreDown }
func (failingTemplateStore) Search(context.Context, models.TemplateFilter) ([]*models.BiometricTemplate, error) {
	return nil, errStoreDown
}
func (failingTemplateStore) Count(context.Context) (int, error) { return 0, errStoreDown }
