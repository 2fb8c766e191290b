package memory

import (
	"context"
	"fmt"
	"sync"

	"veribio/pkg/platform/sentinel"
)

type storedObject struct {
	data        []byte
	contentType string
}

// ObjectStore keeps raw image bytes in memory for tests/dev.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]storedObject
}

// NewObjectStore constructs an empty in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]storedObject)}
}

func (s *ObjectStore) Upload(_ context.Context, objectID string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectID] = storedObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
	}
	return nil
}

func (s *ObjectStore) Download(_ context.Context, objectID string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectID]
	if !ok {
		return nil, "", fmt.Errorf("object %s: %w", objectID, sentinel.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

func (s *ObjectStore) Delete(_ context.Context, objectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[objectID]; !ok {
		return fmt.Errorf("object %s: %w", objectID, sentinel.ErrNotFound)
	}
	delete(s.objects, objectID)
	return nil
}

// Len reports how many objects are stored. Test helper.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
