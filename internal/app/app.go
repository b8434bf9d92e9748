// Package app assembles the query core from configuration. The HTTP server
// and the ragctl CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/cache"
	"github.com/HanTheDev/multi-tenant-rag/internal/completion"
	"github.com/HanTheDev/multi-tenant-rag/internal/config"
	"github.com/HanTheDev/multi-tenant-rag/internal/db"
	"github.com/HanTheDev/multi-tenant-rag/internal/eventlog"
	"github.com/HanTheDev/multi-tenant-rag/internal/llm"
	"github.com/HanTheDev/multi-tenant-rag/internal/logging"
	"github.com/HanTheDev/multi-tenant-rag/internal/metrics"
	"github.com/HanTheDev/multi-tenant-rag/internal/rag"
	"github.com/HanTheDev/multi-tenant-rag/internal/ratelimit"
	"github.com/HanTheDev/multi-tenant-rag/internal/search"
	"github.com/HanTheDev/multi-tenant-rag/internal/tenant"
	"github.com/HanTheDev/multi-tenant-rag/internal/vectorstore"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Service  *rag.Service
	Tenants  *tenant.Registry
	Cache    cache.Cache
	Events   *eventlog.Sink
	Logs     eventlog.Reader
	Registry *prometheus.Registry

	closers []func(ctx context.Context) error
}

// Build connects every backend named by cfg. On error the backends opened so
// far are closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	logger = logging.OrNop(logger)
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	var database *db.DB
	if cfg.TenantSource == "postgres" || cfg.EventStore == "postgres" {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backends")
		}
		database, err = db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.onClose(func(context.Context) error { database.Close(); return nil })
		if err := database.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	// Tenants
	var source tenant.Source
	switch cfg.TenantSource {
	case "postgres":
		source = database
	case "file":
		source = config.TenantsFile{Path: cfg.TenantsFile}
	default:
		return nil, fmt.Errorf("unknown TENANT_SOURCE %q", cfg.TenantSource)
	}
	a.Tenants, err = tenant.NewRegistry(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}
	logger.Info("tenants loaded", zap.String("source", cfg.TenantSource), zap.Int("count", len(a.Tenants.List())))

	// Rate limiter
	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case "memory":
		limiter = ratelimit.NewBuckets(cfg.RateLimitWindow)
	case "redis":
		rl, err := ratelimit.NewRedisLimiter(cfg.RedisURL, cfg.RateLimitWindow)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		a.onClose(func(context.Context) error { return rl.Close() })
		limiter = rl
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}

	// Cache
	switch cfg.CacheBackend {
	case "memory":
		a.Cache = cache.NewMemory(cache.WithJanitor(time.Minute))
	case "redis":
		rc, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis cache unreachable, queries will bypass it until it recovers", zap.Error(err))
		}
		a.Cache = rc
	case "none", "":
		a.Cache = cache.Noop{}
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
	c := a.Cache
	a.onClose(func(context.Context) error { return c.Close() })

	// Vector store
	var store vectorstore.Store
	switch cfg.VectorBackend {
	case "qdrant":
		q, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantTLS,
			Collection: cfg.QdrantCollection,
			VectorSize: cfg.VectorSize,
		}, logger.Named("qdrant"))
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		a.onClose(func(context.Context) error { return q.Close() })
		if err := q.EnsureCollection(ctx); err != nil {
			logger.Warn("qdrant collection check failed, searches will fail until it is reachable", zap.Error(err))
		}
		store = q
	case "chromem":
		ch, err := vectorstore.NewChromem(cfg.ChromemPath, false, logger.Named("chromem"))
		if err != nil {
			return nil, fmt.Errorf("chromem: %w", err)
		}
		a.onClose(func(context.Context) error { return ch.Close() })
		store = ch
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}

	provider, err := llm.NewProvider(llm.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
	}, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	// Event log
	var events eventlog.Store
	switch cfg.EventStore {
	case "memory":
		m := eventlog.NewMemoryStore()
		events, a.Logs = m, m
	case "oss":
		o, err := eventlog.NewOSSStore(eventlog.OSSConfig{
			Endpoint:        cfg.OSSEndpoint,
			AccessKeyID:     cfg.OSSAccessKeyID,
			AccessKeySecret: cfg.OSSAccessKeySecret,
			Bucket:          cfg.OSSBucket,
			Prefix:          cfg.OSSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("event store: %w", err)
		}
		events, a.Logs = o, o
	case "postgres":
		events, a.Logs = database, database
	default:
		return nil, fmt.Errorf("unknown EVENT_STORE %q", cfg.EventStore)
	}
	a.Events = eventlog.NewSink(events, eventlog.Config{
		BatchSize:     cfg.EventBatchSize,
		FlushInterval: cfg.EventFlushInterval,
		MaxBuffered:   cfg.EventMaxBuffered,
	}, logger.Named("eventlog"))
	sink := a.Events
	// registered last so it runs first: the final flush may still need the database
	defer a.onClose(sink.Close)

	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	a.onClose(func(context.Context) error { pool.Release(); return nil })

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.Registry)
	metrics.RegisterBuffered(a.Registry, func() float64 { return float64(sink.Stats().Buffered) })

	a.Service, err = rag.New(rag.Deps{
		Tenants:        a.Tenants,
		Limiter:        limiter,
		Cache:          a.Cache,
		CacheTTL:       cfg.CacheTTL,
		Searcher:       search.NewOrchestrator(provider.Embedder, store, cfg.NamespaceTimeout, logger.Named("search")),
		Completer:      completion.NewService(provider.Completer, cfg.CompletionTimeout, logger.Named("completion")),
		Events:         sink,
		Vectors:        store,
		Embedder:       provider.Embedder,
		Pool:           pool,
		Metrics:        m,
		Logger:         logger.Named("rag"),
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases backends in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
