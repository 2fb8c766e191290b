//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veribio/internal/biometric/models"
	"veribio/internal/biometric/store/postgres"
	id "veribio/pkg/domain"
	"veribio/pkg/platform/sentinel"
	"veribio/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	templates *postgres.TemplateStore
	objects   *postgres.ObjectStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.templates = postgres.NewTemplateStore(s.postgres.DB)
	s.objects = postgres.NewObjectStore(s.postgres.DB)
	s.Require().NoError(s.templates.Migrate(ctx))
	s.Require().NoError(s.objects.Migrate(ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "biometric_templates", "biometric_objects")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newTemplate(subjectID id.SubjectID, quality float64, tags ...string) *models.BiometricTemplate {
	template, err := models.NewTemplate(
		id.NewTemplateID(),
		subjectID,
		[]float64{0.11, -0.42, 0.73},
		quality,
		models.TemplateMetadata{
			ImageFormat:  "jpeg",
			ImageSize:    2048,
			FaceLocation: &models.FaceLocation{Top: 10, Right: 90, Bottom: 80, Left: 20},
			Custom:       map[string]string{"station": "gate-3"},
		},
		tags,
		"obj-"+id.NewTemplateID().String(),
		time.Now().UTC().Truncate(time.Microsecond),
	)
	s.Require().NoError(err)
	return template
}

func (s *PostgresStoreSuite) TestAddAndGetRoundTrip() {
	ctx := context.Background()
	template := s.newTemplate(id.NewSubjectID(), 0.9, "kiosk")

	s.Require().NoError(s.templates.Add(ctx, template))

	got, err := s.templates.Get(ctx, template.ID)
	s.Require().NoError(err)
	s.Equal(template.ID, got.ID)
	s.Equal(template.SubjectID, got.SubjectID)
	s.Equal(template.Encoding, got.Encoding)
	s.Equal(template.QualityScore, got.QualityScore)
	s.Equal(template.Metadata.ImageFormat, got.Metadata.ImageFormat)
	s.Require().NotNil(got.Metadata.FaceLocation)
	s.Equal(10, got.Metadata.FaceLocation.Top)
	s.Equal("gate-3", got.Metadata.Custom["station"])
	s.Equal([]string{"kiosk"}, []string(got.Tags))
	s.Equal(template.StorageObjectID, got.StorageObjectID)
}

func (s *PostgresStoreSuite) TestAddDuplicateConflicts() {
	ctx := context.Background()
	template := s.newTemplate(id.NewSubjectID(), 0.9)

	s.Require().NoError(s.templates.Add(ctx, template))
	err := s.templates.Add(ctx, template)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestGetMissingNotFound() {
	_, err := s.templates.Get(context.Background(), id.NewTemplateID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateMutableFieldsOnly() {
	ctx := context.Background()
	template := s.newTemplate(id.NewSubjectID(), 0.9, "kiosk")
	s.Require().NoError(s.templates.Add(ctx, template))

	template.Tags = []string{"kiosk", "gate"}
	template.Metadata.Custom = map[string]string{"station": "gate-7"}
	template.UpdatedAt = template.UpdatedAt.Add(time.Minute)
	s.Require().NoError(s.templates.Update(ctx, template))

	got, err := s.templates.Get(ctx, template.ID)
	s.Require().NoError(err)
	s.Equal([]string{"kiosk", "gate"}, []string(got.Tags))
	s.Equal("gate-7", got.Metadata.Custom["station"])
	// Encoding and quality are immutable through Update.
	s.Equal(template.Encoding, got.Encoding)
}

func (s *PostgresStoreSuite) TestUpdateMissingNotFound() {
	template := s.newTemplate(id.NewSubjectID(), 0.9)
	err := s.templates.Update(context.Background(), template)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	template := s.newTemplate(id.NewSubjectID(), 0.9)
	s.Require().NoError(s.templates.Add(ctx, template))

	s.Require().NoError(s.templates.Delete(ctx, template.ID))
	_, err := s.templates.Get(ctx, template.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.templates.Delete(ctx, template.ID), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSearchFilters() {
	ctx := context.Background()
	subject := id.NewSubjectID()

	matching := s.newTemplate(subject, 0.9, "kiosk")
	lowQuality := s.newTemplate(subject, 0.3, "kiosk")
	otherSubject := s.newTemplate(id.NewSubjectID(), 0.9, "kiosk")
	untagged := s.newTemplate(subject, 0.9)
	for _, template := range []*models.BiometricTemplate{matching, lowQuality, otherSubject, untagged} {
		s.Require().NoError(s.templates.Add(ctx, template))
	}

	results, err := s.templates.Search(ctx, models.TemplateFilter{
		SubjectID:       subject,
		Tags:            []string{"kiosk"},
		MinQualityScore: 0.5,
	})
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal(matching.ID, results[0].ID)

	all, err := s.templates.Search(ctx, models.TemplateFilter{})
	s.Require().NoError(err)
	s.Len(all, 4)
}

func (s *PostgresStoreSuite) TestCount() {
	ctx := context.Background()
	count, err := s.templates.Count(ctx)
	s.Require().NoError(err)
	s.Zero(count)

	s.Require().NoError(s.templates.Add(ctx, s.newTemplate(id.NewSubjectID(), 0.9)))
	s.Require().NoError(s.templates.Add(ctx, s.newTemplate(id.NewSubjectID(), 0.8)))

	count, err = s.templates.Count(ctx)
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *PostgresStoreSuite) TestObjectStoreRoundTrip() {
	ctx := context.Background()

	s.Require().NoError(s.objects.Upload(ctx, "obj-1", []byte("image bytes"), "image/jpeg"))

	data, contentType, err := s.objects.Download(ctx, "obj-1")
	s.Require().NoError(err)
	s.Equal([]byte("image bytes"), data)
	s.Equal("image/jpeg", contentType)

	// Upload is idempotent per object ID and replaces content.
	s.Require().NoError(s.objects.Upload(ctx, "obj-1", []byte("replaced"), "image/png"))
	data, contentType, err = s.objects.Download(ctx, "obj-1")
	s.Require().NoError(err)
	s.Equal([]byte("replaced"), data)
	s.Equal("image/png", contentType)

	s.Require().NoError(s.objects.Delete(ctx, "obj-1"))
	_, _, err = s.objects.Download(ctx, "obj-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.objects.Delete(ctx, "obj-1"), sentinel.ErrNotFound)
}
