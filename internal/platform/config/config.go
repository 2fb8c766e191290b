// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures everything main needs to wire the service.
type Config struct {
	Addr     string `env:"VERIBIO_ADDR" envDefault:":8080"`
	LogLevel string `env:"VERIBIO_LOG_LEVEL" envDefault:"info"`

	// Persistence. Empty PostgresDSN selects the in-memory stores (dev mode).
	PostgresDSN string `env:"VERIBIO_POSTGRES_DSN"`

	// Cache. Empty RedisURL selects the in-process cache.
	RedisURL string        `env:"VERIBIO_REDIS_URL"`
	CacheTTL time.Duration `env:"VERIBIO_CACHE_TTL" envDefault:"15m"`

	// Audit. Empty broker list selects the in-process channel worker.
	KafkaBrokers []string `env:"VERIBIO_KAFKA_BROKERS" envSeparator:","`
	AuditTopic   string   `env:"VERIBIO_AUDIT_TOPIC" envDefault:"veribio.audit"`

	// Encoding engine endpoint. Empty selects the in-process mock encoder.
	EncoderURL     string        `env:"VERIBIO_ENCODER_URL"`
	EncoderTimeout time.Duration `env:"VERIBIO_ENCODER_TIMEOUT" envDefault:"5s"`

	// Matching policy defaults; callers may override per request.
	DefaultMinQuality   float64 `env:"VERIBIO_MIN_QUALITY" envDefault:"0.6"`
	DefaultThreshold    float64 `env:"VERIBIO_MATCH_THRESHOLD" envDefault:"0.75"`
	IdentifyConcurrency int     `env:"VERIBIO_IDENTIFY_CONCURRENCY" envDefault:"8"`
	IdentifyMaxResults  int     `env:"VERIBIO_IDENTIFY_MAX_RESULTS" envDefault:"10"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
