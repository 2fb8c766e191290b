// Package cache provides the short-TTL read-through cache in front of the
// template store. Entries expire a fixed duration after their last load;
// delete and update paths evict immediately so the cache never serves a
// logically deleted template.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"veribio/internal/biometric/models"
	id "veribio/pkg/domain"
	"veribio/pkg/platform/sentinel"
)

// DefaultTTL is the retention for cached templates unless overridden.
const DefaultTTL = 15 * time.Minute

type entry struct {
	template  *models.BiometricTemplate
	expiresAt time.Time
}

// InMemoryTemplateCache caches templates in-process. Safe for concurrent
// readers and writers; expired entries are reaped lazily on access and
// skipped by Len.
type InMemoryTemplateCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[id.TemplateID]entry
}

// Option configures the cache.
type Option func(*InMemoryTemplateCache)

// WithClock overrides the time source. Test hook for TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryTemplateCache) {
		c.now = now
	}
}

// NewInMemory constructs an empty cache. A non-positive ttl falls back to
// DefaultTTL.
func NewInMemory(ttl time.Duration, opts ...Option) *InMemoryTemplateCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &InMemoryTemplateCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[id.TemplateID]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InMemoryTemplateCache) Get(_ context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error) {
	c.mu.RLock()
	e, ok := c.entries[templateID]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("template %s: %w", templateID, sentinel.ErrNotFound)
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have refreshed it.
		if cur, ok := c.entries[templateID]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, templateID)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("template %s: %w", templateID, sentinel.ErrExpired)
	}
	return e.template, nil
}

func (c *InMemoryTemplateCache) Put(_ context.Context, template *models.BiometricTemplate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[template.ID] = entry{
		template:  template,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

func (c *InMemoryTemplateCache) Evict(_ context.Context, templateID id.TemplateID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, templateID)
	return nil
}

// Len counts live (non-expired) entries.
func (c *InMemoryTemplateCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	count := 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			count++
		}
	}
	return count, nil
}
