package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"veribio/internal/audit"
	"veribio/internal/biometric/cache"
	"veribio/internal/biometric/encoding"
	"veribio/internal/biometric/engine"
	biometrichandler "veribio/internal/biometric/handler"
	biometricmetrics "veribio/internal/biometric/metrics"
	"veribio/internal/biometric/ports"
	biomemory "veribio/internal/biometric/store/memory"
	biopostgres "veribio/internal/biometric/store/postgres"
	identityhandler "veribio/internal/identity/handler"
	identitymetrics "veribio/internal/identity/metrics"
	identityservice "veribio/internal/identity/service"
	identitystore "veribio/internal/identity/store"
	"veribio/internal/platform/config"
	"veribio/internal/platform/httpserver"
	"veribio/internal/platform/logger"
	platformredis "veribio/internal/platform/redis"
	httptransport "veribio/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "veribio: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Encoding engine client. An empty URL selects the deterministic
	// in-process encoder for local development.
	var encoder ports.EncodingClient
	if cfg.EncoderURL != "" {
		encoder = encoding.NewHTTPClient(cfg.EncoderURL, cfg.EncoderTimeout)
	} else {
		encoder = encoding.MockClient{}
		log.Warn("no encoder URL configured, using in-process mock encoder")
	}

	// Persistence: Postgres when a DSN is configured, in-memory otherwise.
	var (
		templates  ports.TemplateStore
		objects    ports.ObjectStore
		identityDB identityservice.IdentityStore
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		templateStore := biopostgres.NewTemplateStore(db)
		objectStore := biopostgres.NewObjectStore(db)
		identities := identitystore.NewPostgres(db)
		for _, migrate := range []func(context.Context) error{
			templateStore.Migrate, objectStore.Migrate, identities.Migrate,
		} {
			if err := migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		templates, objects, identityDB = templateStore, objectStore, identities
		log.Info("using postgres persistence")
	} else {
		templates = biomemory.NewTemplateStore()
		objects = biomemory.NewObjectStore()
		identityDB = identitystore.NewInMemory()
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	// Template cache: Redis when configured, in-process otherwise.
	var templateCache ports.TemplateCache
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		templateCache = cache.NewRedis(redisClient.Client, cfg.CacheTTL)
		log.Info("using redis template cache")
	} else {
		templateCache = cache.NewInMemory(cfg.CacheTTL)
	}

	// Audit trail: Kafka when brokers are configured, an in-process worker
	// otherwise.
	var recorder audit.Recorder
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(ctx, cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer publisher.Close()
		recorder = publisher
		log.Info("publishing audit events to kafka", "topic", cfg.AuditTopic)
	} else {
		async := audit.NewAsyncRecorder(1024, log)
		worker := audit.NewWorker(audit.NewInMemoryStore(), async.Inbox(), log)
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit worker stopped", "error", err)
			}
		}()
		recorder = async
	}

	matcher, err := engine.New(encoder, templates, objects, templateCache,
		engine.Config{
			DefaultMinQuality:   cfg.DefaultMinQuality,
			DefaultThreshold:    cfg.DefaultThreshold,
			DefaultMaxResults:   cfg.IdentifyMaxResults,
			IdentifyConcurrency: cfg.IdentifyConcurrency,
			CallTimeout:         cfg.EncoderTimeout,
		},
		engine.WithLogger(log),
		engine.WithMetrics(biometricmetrics.New()),
		engine.WithAudit(recorder),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	identities, err := identityservice.New(identityDB, encoder,
		identityservice.WithLogger(log),
		identityservice.WithMetrics(identitymetrics.New()),
		identityservice.WithAudit(recorder),
		identityservice.WithMatchThreshold(cfg.DefaultThreshold),
		identityservice.WithMinQuality(cfg.DefaultMinQuality),
		identityservice.WithCallTimeout(cfg.EncoderTimeout),
	)
	if err != nil {
		return fmt.Errorf("build identity service: %w", err)
	}

	router := httptransport.NewRouter(
		biometrichandler.New(matcher, log),
		identityhandler.New(identities, log),
		matcher,
		log,
	)
	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting veribio", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
