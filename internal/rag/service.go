// Package rag is the per-request coordinator of the query path: admission,
// cache, namespace fan-out search, completion and the event log.
//
// A query moves through Admitted, CacheCheck, then either CacheHit or
// Searching and Completing, and ends in exactly one terminal state: CacheHit,
// Success, Failed or RateLimited. Each terminal state records exactly one
// event for the tenant.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/cache"
	"github.com/HanTheDev/multi-tenant-rag/internal/completion"
	"github.com/HanTheDev/multi-tenant-rag/internal/llm"
	"github.com/HanTheDev/multi-tenant-rag/internal/metrics"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/ratelimit"
	"github.com/HanTheDev/multi-tenant-rag/internal/search"
	"github.com/HanTheDev/multi-tenant-rag/internal/vectorstore"
)

type Tenants interface {
	Get(id string) (models.Tenant, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, namespaces []string, topK int, opts ...search.Option) (*search.Result, error)
}

type Completer interface {
	Complete(ctx context.Context, query string, items []models.SearchResult, history []models.Message, params models.Params) (*completion.Answer, error)
}

// Recorder is the tenant event log.
type Recorder interface {
	Record(ev models.Event)
	Buffered(tenantID string) int
}

// Vectors is the part of the vector store used outside search: counting for
// stats, upserting for ingest and deleting.
type Vectors interface {
	Count(ctx context.Context, namespace string) (int, error)
	Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error
	Delete(ctx context.Context, namespace string, ids []string) error
}

// Submitter runs fire-and-forget work. *ants.Pool satisfies it.
type Submitter interface {
	Submit(task func()) error
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(task func()) error

func (f SubmitFunc) Submit(task func()) error { return f(task) }

// Deps is everything the Service needs. Nothing is read from globals.
type Deps struct {
	Tenants   Tenants
	Limiter   ratelimit.Limiter
	Cache     cache.Cache
	CacheTTL  time.Duration
	Searcher  Searcher
	Completer Completer
	Events    Recorder

	// Optional: stats and ingest
	Vectors  Vectors
	Embedder llm.Embedder

	// Optional: defaults to one goroutine per cache write
	Pool Submitter

	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	RequestTimeout time.Duration
	Now            func() time.Time
}

type Service struct {
	d      Deps
	logger *zap.Logger
}

func New(d Deps) (*Service, error) {
	switch {
	case d.Tenants == nil:
		return nil, errors.New("rag: Tenants is required")
	case d.Limiter == nil:
		return nil, errors.New("rag: Limiter is required")
	case d.Searcher == nil:
		return nil, errors.New("rag: Searcher is required")
	case d.Completer == nil:
		return nil, errors.New("rag: Completer is required")
	case d.Events == nil:
		return nil, errors.New("rag: Events is required")
	}
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = time.Hour
	}
	if d.Pool == nil {
		d.Pool = SubmitFunc(func(task func()) error {
			go task()
			return nil
		})
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{d: d, logger: d.Logger}, nil
}

func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.d.RequestTimeout > 0 {
		return context.WithTimeout(ctx, s.d.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// admit consults the limiter. Limiter errors fail open.
func (s *Service) admit(ctx context.Context, t models.Tenant, log *zap.Logger) *Error {
	d, err := s.d.Limiter.Admit(ctx, t.ID, t.RateLimit)
	if err != nil {
		log.Warn("rate limiter unavailable, admitting request", zap.Error(err))
		return nil
	}
	if d.Allowed {
		return nil
	}
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("rate limit of %d requests exceeded", t.RateLimit),
		RetryAfter: d.RetryAfter,
	}
}

func (s *Service) since(start time.Time) time.Duration {
	return s.d.Now().Sub(start)
}

// record emits the single event of a terminal state.
func (s *Service) record(ev models.Event, start time.Time) {
	ev.Timestamp = s.d.Now().UTC()
	ev.LatencyMs = s.since(start).Milliseconds()
	s.d.Events.Record(ev)
}

func (s *Service) observe(operation string, outcome Kind, start time.Time) {
	s.d.Metrics.ObserveRequest(operation, string(outcome), s.since(start))
}
