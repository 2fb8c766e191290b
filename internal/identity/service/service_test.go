package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veribio/internal/audit"
	biomodels "veribio/internal/biometric/models"
	"veribio/internal/identity/models"
	"veribio/internal/identity/store"
	id "veribio/pkg/domain"
	dErrors "veribio/pkg/domain-errors"
)

// scriptedEncoder returns fixed extraction results and compares encodings by
// exact equality: identical encodings score 1, different encodings score 0.
type scriptedEncoder struct {
	mu         sync.Mutex
	extraction *biomodels.ExtractionResult
	extractErr error
}

func (f *scriptedEncoder) setExtraction(encoding []float64, quality float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extraction = &biomodels.ExtractionResult{Encoding: encoding, QualityScore: quality}
}

func (f *scriptedEncoder) Extract(context.Context, []byte, string) (*biomodels.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.extraction, nil
}

func (f *scriptedEncoder) Compare(_ context.Context, probe, reference []float64) (*biomodels.ComparisonResult, error) {
	if len(probe) == len(reference) {
		equal := true
		for i := range probe {
			if probe[i] != reference[i] {
				equal = false
				break
			}
		}
		if equal {
			return &biomodels.ComparisonResult{Similarity: 1, Distance: 0}, nil
		}
	}
	return &biomodels.ComparisonResult{Similarity: 0, Distance: 1}, nil
}

type serviceFixture struct {
	service    *Service
	encoder    *scriptedEncoder
	identities *store.InMemoryIdentityStore
	auditStore *audit.InMemoryStore
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	encoder := &scriptedEncoder{}
	encoder.setExtraction([]float64{0.1, 0.2, 0.3}, 0.9)
	identities := store.NewInMemory()
	auditStore := audit.NewInMemoryStore()

	s, err := New(identities, encoder, WithAudit(audit.NewPublisher(auditStore)))
	require.NoError(t, err)

	return &serviceFixture{
		service:    s,
		encoder:    encoder,
		identities: identities,
		auditStore: auditStore,
	}
}

func (fx *serviceFixture) createIdentity(t *testing.T) *models.Identity {
	t.Helper()
	identity, err := fx.service.CreateIdentity(context.Background(), CreateRequest{
		SubjectID:   id.NewSubjectID(),
		ImageData:   []byte("reference"),
		ImageFormat: "jpeg",
		Zone:        "lobby",
		Contact:     models.ContactInformation{Email: "subject@example.com"},
	})
	require.NoError(t, err)
	return identity
}

func verifyRequest() VerifyRequest {
	return VerifyRequest{ImageData: []byte("probe"), ImageFormat: "jpeg"}
}

func TestCreateIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending identity with fingerprinted reference", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		assert.Equal(t, models.StatusPending, identity.Status)
		assert.NotEmpty(t, identity.Biometric.Fingerprint)
		assert.Equal(t, []float64{0.1, 0.2, 0.3}, identity.Biometric.Encoding)

		events := fx.auditStore.All()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionIdentityCreated, events[0].Action)
	})

	t.Run("rejects low quality reference", func(t *testing.T) {
		fx := newServiceFixture(t)
		fx.encoder.setExtraction([]float64{0.1}, 0.3)

		_, err := fx.service.CreateIdentity(ctx, CreateRequest{
			SubjectID:   id.NewSubjectID(),
			ImageData:   []byte("reference"),
			ImageFormat: "jpeg",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeQualityTooLow))
	})

	t.Run("rejects missing subject", func(t *testing.T) {
		fx := newServiceFixture(t)
		_, err := fx.service.CreateIdentity(ctx, CreateRequest{
			ImageData:   []byte("reference"),
			ImageFormat: "jpeg",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func TestVerifyBiometric(t *testing.T) {
	ctx := context.Background()

	t.Run("matching probe transitions pending to verified", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		updated, err := fx.service.VerifyBiometric(ctx, identity.ID, verifyRequest())
		require.NoError(t, err)
		assert.Equal(t, models.StatusVerified, updated.Status)
		require.NotNil(t, updated.VerifiedAt)
		assert.Equal(t, *updated.VerifiedAt, *updated.LastVerifiedAt)
	})

	t.Run("re-verification only moves LastVerifiedAt", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		first, err := fx.service.VerifyBiometric(ctx, identity.ID, verifyRequest())
		require.NoError(t, err)
		second, err := fx.service.VerifyBiometric(ctx, identity.ID, verifyRequest())
		require.NoError(t, err)

		assert.Equal(t, *first.VerifiedAt, *second.VerifiedAt)

		events, err := fx.auditStore.ListByEntity(ctx, audit.EntityIdentity, identity.ID.String())
		require.NoError(t, err)
		require.Len(t, events, 3) // created + two verifications
		assert.Equal(t, "true", events[1].Details["first_verification"])
		assert.Equal(t, "false", events[2].Details["first_verification"])
	})

	t.Run("mismatch is a hard error and leaves identity pending", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		// The probe now extracts to a different encoding.
		fx.encoder.setExtraction([]float64{9, 9, 9}, 0.9)

		_, err := fx.service.VerifyBiometric(ctx, identity.ID, verifyRequest())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBiometricMismatch))

		var dErr *dErrors.DomainError
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, 0.0, dErr.Detail("match_score"))
		assert.Equal(t, 0.75, dErr.Detail("threshold"))

		current, err := fx.service.GetIdentity(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, current.Status)
	})

	t.Run("revoked identity rejects verification", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)
		_, err := fx.service.Revoke(ctx, identity.ID, "cleanup", "ops")
		require.NoError(t, err)

		_, err = fx.service.VerifyBiometric(ctx, identity.ID, verifyRequest())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("unknown identity not found", func(t *testing.T) {
		fx := newServiceFixture(t)
		_, err := fx.service.VerifyBiometric(ctx, id.NewIdentityID(), verifyRequest())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("revocation is terminal and records reason", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		revoked, err := fx.service.Revoke(ctx, identity.ID, "device stolen", "ops@example.com")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRevoked, revoked.Status)
		require.NotNil(t, revoked.RevokedAt)
		assert.Equal(t, "device stolen", revoked.Metadata[models.MetadataKeyRevocationReason])
		assert.Equal(t, "ops@example.com", revoked.Metadata[models.MetadataKeyRevokedBy])
	})

	t.Run("second revoke succeeds silently, first reason wins", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		first, err := fx.service.Revoke(ctx, identity.ID, "device stolen", "ops")
		require.NoError(t, err)
		second, err := fx.service.Revoke(ctx, identity.ID, "other reason", "someone-else")
		require.NoError(t, err)

		assert.Equal(t, *first.RevokedAt, *second.RevokedAt)
		assert.Equal(t, "device stolen", second.Metadata[models.MetadataKeyRevocationReason])

		// Only one revocation audit event.
		events, err := fx.auditStore.ListByEntity(ctx, audit.EntityIdentity, identity.ID.String())
		require.NoError(t, err)
		revocations := 0
		for _, event := range events {
			if event.Action == audit.ActionIdentityRevoked {
				revocations++
			}
		}
		assert.Equal(t, 1, revocations)
	})

	t.Run("racing revokes produce one timestamp", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		const racers = 8
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := fx.service.Revoke(ctx, identity.ID, "race", "ops")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		events, err := fx.auditStore.ListByEntity(ctx, audit.EntityIdentity, identity.ID.String())
		require.NoError(t, err)
		revocations := 0
		for _, event := range events {
			if event.Action == audit.ActionIdentityRevoked {
				revocations++
			}
		}
		assert.Equal(t, 1, revocations, "exactly one revocation must win")
	})

	t.Run("requires reason and actor", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		_, err := fx.service.Revoke(ctx, identity.ID, "", "ops")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
		_, err = fx.service.Revoke(ctx, identity.ID, "reason", "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func TestUpdateBiometric(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces reference after re-verification", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)
		oldFingerprint := identity.Biometric.Fingerprint

		// Both images extract to the current reference encoding first; the
		// scripted encoder serves the same result for verification and
		// replacement, so the replacement equals the old encoding here.
		updated, err := fx.service.UpdateBiometric(ctx, identity.ID, UpdateBiometricRequest{
			NewImageData:          []byte("new"),
			VerificationImageData: []byte("verification"),
			ImageFormat:           "jpeg",
		})
		require.NoError(t, err)
		assert.Equal(t, oldFingerprint, updated.Biometric.Fingerprint)

		events, err := fx.auditStore.ListByEntity(ctx, audit.EntityIdentity, identity.ID.String())
		require.NoError(t, err)
		assert.Equal(t, audit.ActionBiometricUpdated, events[len(events)-1].Action)
	})

	t.Run("verification against old reference fails after replacement", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)

		// Replace the reference out-of-band.
		_, err := fx.identities.Execute(ctx, identity.ID, nil, func(i *models.Identity) {
			i.Biometric = models.NewBiometricReference([]float64{5, 5, 5})
		})
		require.NoError(t, err)

		// The probe still extracts to the original encoding.
		_, err = fx.service.VerifyBiometric(ctx, identity.ID, verifyRequest())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBiometricMismatch))
	})

	t.Run("revoked identity rejects replacement", func(t *testing.T) {
		fx := newServiceFixture(t)
		identity := fx.createIdentity(t)
		_, err := fx.service.Revoke(ctx, identity.ID, "cleanup", "ops")
		require.NoError(t, err)

		_, err = fx.service.UpdateBiometric(ctx, identity.ID, UpdateBiometricRequest{
			NewImageData:          []byte("new"),
			VerificationImageData: []byte("verification"),
			ImageFormat:           "jpeg",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func TestUpdateZone(t *testing.T) {
	ctx := context.Background()
	fx := newServiceFixture(t)
	identity := fx.createIdentity(t)

	updated, err := fx.service.UpdateZone(ctx, identity.ID, "restricted")
	require.NoError(t, err)
	assert.Equal(t, "restricted", updated.Zone)

	t.Run("empty zone rejected", func(t *testing.T) {
		_, err := fx.service.UpdateZone(ctx, identity.ID, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("revoked identity keeps its zone", func(t *testing.T) {
		_, err := fx.service.Revoke(ctx, identity.ID, "cleanup", "ops")
		require.NoError(t, err)

		_, err = fx.service.UpdateZone(ctx, identity.ID, "lobby")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

		current, err := fx.service.GetIdentity(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, "restricted", current.Zone)
	})
}

func TestUpdateContactInformation(t *testing.T) {
	ctx := context.Background()
	fx := newServiceFixture(t)
	identity := fx.createIdentity(t)

	updated, err := fx.service.UpdateContactInformation(ctx, identity.ID, models.ContactInformation{
		Phone: "+15550100",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", updated.Contact.Phone)

	t.Run("requires email or phone", func(t *testing.T) {
		_, err := fx.service.UpdateContactInformation(ctx, identity.ID, models.ContactInformation{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}
