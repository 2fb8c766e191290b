// Package store provides identity aggregate persistence. Both
// implementations expose the same Execute contract: the per-aggregate lock
// (mutex here, row lock in postgres) is held across validation and mutation,
// which is what serializes concurrent writers on the same identity.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"veribio/internal/identity/models"
	id "veribio/pkg/domain"
	"veribio/pkg/platform/sentinel"
)

// InMemoryIdentityStore stores identities in memory for tests/dev.
type InMemoryIdentityStore struct {
	mu         sync.RWMutex
	identities map[id.IdentityID]*models.Identity
	locks      map[id.IdentityID]*sync.Mutex
}

// NewInMemory constructs an empty in-memory identity store.
func NewInMemory() *InMemoryIdentityStore {
	return &InMemoryIdentityStore{
		identities: make(map[id.IdentityID]*models.Identity),
		locks:      make(map[id.IdentityID]*sync.Mutex),
	}
}

func (s *InMemoryIdentityStore) Create(_ context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.identities[identity.ID]; exists {
		return fmt.Errorf("identity %s: %w", identity.ID, sentinel.ErrConflict)
	}
	s.identities[identity.ID] = cloneIdentity(identity)
	return nil
}

func (s *InMemoryIdentityStore) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	return cloneIdentity(identity), nil
}

// Execute runs validate-then-mutate atomically against one identity. The
// per-identity lock is held for the whole callback pair, so two racing
// writers observe each other's committed state, never an intermediate one.
// On validation failure the stored aggregate is untouched.
func (s *InMemoryIdentityStore) Execute(
	_ context.Context,
	identityID id.IdentityID,
	validate func(*models.Identity) error,
	mutate func(*models.Identity),
) (*models.Identity, error) {
	lock := s.lockFor(identityID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.identities[identityID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}

	working := cloneIdentity(current)
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	mutate(working)

	s.mu.Lock()
	s.identities[identityID] = working
	s.mu.Unlock()

	return cloneIdentity(working), nil
}

func (s *InMemoryIdentityStore) lockFor(identityID id.IdentityID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[identityID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[identityID] = lock
	}
	return lock
}

func cloneIdentity(i *models.Identity) *models.Identity {
	out := *i
	out.Biometric.Encoding = append([]float64(nil), i.Biometric.Encoding...)
	if i.Metadata != nil {
		metadata := make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			metadata[k] = v
		}
		out.Metadata = metadata
	}
	out.VerifiedAt = cloneTime(i.VerifiedAt)
	out.LastVerifiedAt = cloneTime(i.LastVerifiedAt)
	out.RevokedAt = cloneTime(i.RevokedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
