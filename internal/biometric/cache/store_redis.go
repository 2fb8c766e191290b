package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"veribio/internal/biometric/models"
	id "veribio/pkg/domain"
	"veribio/pkg/platform/sentinel"
)

const templateKeyPrefix = "veribio:tpl:"

// RedisTemplateCache is a Redis-backed template cache. This is the
// production-recommended implementation for distributed deployments where
// multiple instances need to share cache state; TTL enforcement is delegated
// to Redis key expiry.
type RedisTemplateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed template cache. A non-positive ttl
// falls back to DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisTemplateCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTemplateCache{client: client, ttl: ttl}
}

func templateKey(templateID id.TemplateID) string {
	return templateKeyPrefix + templateID.String()
}

func (c *RedisTemplateCache) Get(ctx context.Context, templateID id.TemplateID) (*models.BiometricTemplate, error) {
	raw, err := c.client.Get(ctx, templateKey(templateID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("template %s: %w", templateID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get template: %w", err)
	}
	var template models.BiometricTemplate
	if err := json.Unmarshal(raw, &template); err != nil {
		return nil, fmt.Errorf("decode cached template: %w", err)
	}
	return &template, nil
}

// Put stores the template with TTL. Set-with-expiry is atomic, so readers
// never observe a half-written entry.
func (c *RedisTemplateCache) Put(ctx context.Context, template *models.BiometricTemplate) error {
	raw, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("encode template for cache: %w", err)
	}
	if err := c.client.Set(ctx, templateKey(template.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set template: %w", err)
	}
	return nil
}

func (c *RedisTemplateCache) Evict(ctx context.Context, templateID id.TemplateID) error {
	if err := c.client.Del(ctx, templateKey(templateID)).Err(); err != nil {
		return fmt.Errorf("redis evict template: %w", err)
	}
	return nil
}

// Len scans the keyspace for live template entries. Used by statistics only;
// not on any request path.
func (c *RedisTemplateCache) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, templateKeyPrefix+"*", 256).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan templates: %w", err)
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}
