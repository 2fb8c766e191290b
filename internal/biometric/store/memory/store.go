// Package memory provides in-memory template and object stores for tests/dev.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"veribio/internal/biometric/models"
	id "veribio/pkg/domain"
	"veribio/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return ErrConflict when Add would overwrite an existing entity
// - Return nil for successful operations
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[id.TemplateID]*models.BiometricTemplate
}

// NewTemplateStore constructs an empty in-memory template store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[id.TemplateID]*models.BiometricTemplate)}
}

func (s *TemplateStore) Add(_ context.Context, template *models.BiometricTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[template.ID]; exists {
		return fmt.Errorf("template %s: %w", template.ID, sentinel.ErrConflict)
	}
	s.templates[template.ID] = cloneTemplate(template)
	return nil
}

func (s *TemplateStore) Get(_ context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	template, ok := s.templates[templateID]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", templateID, sentinel.ErrNotFound)
	}
	return cloneTemplate(template), nil
}

func (s *TemplateStore) Update(_ context.Context, template *models.BiometricTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[template.ID]; !ok {
		return fmt.Errorf("template %s: %w", template.ID, sentinel.ErrNotFound)
	}
	s.templates[template.ID] = cloneTemplate(template)
	return nil
}

func (s *TemplateStore) Delete(_ context.Context, templateID id.TemplateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[templateID]; !ok {
		return fmt.Errorf("template %s: %w", templateID, sentinel.ErrNotFound)
	}
	delete(s.templates, templateID)
	return nil
}

// Search returns all templates matching the filter, ordered by template ID
// for deterministic results.
func (s *TemplateStore) Search(_ context.Context, filter models.TemplateFilter) ([]*models.BiometricTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.BiometricTemplate
	for _, template := range s.templates {
		if filter.Matches(template) {
			out = append(out, cloneTemplate(template))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *TemplateStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates), nil
}

// cloneTemplate deep-copies a template so callers can never mutate stored
// encodings through a shared slice.
func cloneTemplate(t *models.BiometricTemplate) *models.BiometricTemplate {
	out := *t
	out.Encoding = append([]float64(nil), t.Encoding...)
	out.Tags = append([]string(nil), t.Tags...)
	if t.Metadata.FaceLocation != nil {
		loc := *t.Metadata.FaceLocation
		out.Metadata.FaceLocation = &loc
	}
	if t.Metadata.Custom != nil {
		custom := make(map[string]string, len(t.Metadata.Custom))
		for k, v := range t.Metadata.Custom {
			custom[k] = v
		}
		out.Metadata.Custom = custom
	}
	return &out
}
