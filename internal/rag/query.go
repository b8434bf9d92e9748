package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/cache"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/search"
)

const (
	MaxTopK       = 50
	MaxQueryRunes = 4000
	MaxMaxTokens  = 8192
	MaxHistory    = 50

	cacheWriteTimeout = 5 * time.Second
)

type QueryMetadata struct {
	Cached             bool              `json:"cached"`
	Model              string            `json:"model,omitempty"`
	FinishReason       string            `json:"finish_reason,omitempty"`
	Tokens             *models.Usage     `json:"tokens,omitempty"`
	ContextChunks      int               `json:"context_chunks"`
	NamespacesSearched []string          `json:"namespaces_searched"`
	FailedNamespaces   map[string]string `json:"failed_namespaces,omitempty"`
	PartialFailure     bool              `json:"partial_failure,omitempty"`
	HybridEnabled      bool              `json:"hybrid_enabled"`
	Alpha              *float64          `json:"alpha,omitempty"`
	FusionMethod       string            `json:"fusion_method,omitempty"`
	LatencyMs          int64             `json:"latency_ms"`
	RequestID          string            `json:"request_id"`
	CreatedAt          time.Time         `json:"created_at"`
}

type QueryResponse struct {
	Success  bool                  `json:"success"`
	Answer   string                `json:"answer"`
	Sources  []models.SearchResult `json:"sources"`
	Metadata QueryMetadata         `json:"metadata"`
}

// Query answers req.Text for req.TenantID. A failure is always an *Error.
func (s *Service) Query(ctx context.Context, req models.QueryRequest) (*QueryResponse, error) {
	start := s.d.Now()
	requestID := uuid.NewString()
	log := s.logger.With(zap.String("tenant_id", req.TenantID), zap.String("request_id", requestID))

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	t, err := s.d.Tenants.Get(req.TenantID)
	if err != nil {
		e := classify(err)
		// unknown tenants have no log stream; the rejection only goes to the process log
		log.Warn("query rejected", zap.String("error_kind", string(e.Kind)))
		s.observe("query", e.Kind, start)
		return nil, e
	}

	base := models.Event{TenantID: t.ID, RequestID: requestID, Query: req.Text}

	fail := func(e *Error) (*QueryResponse, error) {
		ev := base
		if e.Kind == KindRateLimited {
			ev.Type = models.EventRateLimited
		} else {
			ev.Type = models.EventError
		}
		ev.ErrorKind = string(e.Kind)
		ev.Error = e.Error()
		s.record(ev, start)
		s.observe("query", e.Kind, start)
		log.Info("query failed", zap.String("error_kind", string(e.Kind)), zap.Error(e))
		return nil, e
	}

	if e := validateQuery(req); e != nil {
		return fail(e)
	}

	// Admitted
	if e := s.admit(ctx, t, log); e != nil {
		return fail(e)
	}

	params := t.EffectiveParams(req.Overrides)
	useCache := !req.DisableCache

	// CacheCheck
	var key string
	if useCache {
		key = cache.Key(t.ID, req.Text, params, req.History)
		if resp, ok := s.cached(ctx, key, log); ok {
			resp.Metadata.RequestID = requestID
			resp.Metadata.LatencyMs = s.since(start).Milliseconds()

			ev := base
			ev.Type = models.EventCacheHit
			ev.ResultCount = len(resp.Sources)
			ev.Namespaces = resp.Metadata.NamespacesSearched
			s.record(ev, start)
			s.observe("query", "cache_hit", start)
			return resp, nil
		}
	}

	// Searching
	res, err := s.d.Searcher.Search(ctx, req.Text, t.AccessibleNamespaces(), params.TopK, searchOptions(params)...)
	if err != nil {
		return fail(classify(err))
	}
	if res.Partial() {
		s.d.Metrics.NamespaceFailed(len(res.Failed))
		log.Warn("partial search failure",
			zap.String("error_kind", string(KindPartialSearchFailure)),
			zap.Any("failed_namespaces", res.Failed))
	}

	// Completing
	ans, err := s.d.Completer.Complete(ctx, req.Text, res.Items, req.History, params)
	if err != nil {
		return fail(classify(err))
	}

	// Success
	usage := ans.Usage
	resp := &QueryResponse{
		Success: true,
		Answer:  ans.Text,
		Sources: res.Items,
		Metadata: QueryMetadata{
			Model:              ans.Model,
			FinishReason:       ans.FinishReason,
			Tokens:             &usage,
			ContextChunks:      len(res.Items),
			NamespacesSearched: res.NamespacesSearched,
			PartialFailure:     res.Partial(),
			RequestID:          requestID,
			CreatedAt:          s.d.Now().UTC(),
		},
	}
	if res.Partial() {
		resp.Metadata.FailedNamespaces = res.Failed
	}
	if res.FusionMethod != "" {
		alpha := res.Alpha
		resp.Metadata.HybridEnabled = true
		resp.Metadata.Alpha = &alpha
		resp.Metadata.FusionMethod = res.FusionMethod
	}
	if resp.Sources == nil {
		resp.Sources = []models.SearchResult{}
	}

	// a degraded answer is not cached; the next request may reach every namespace
	if useCache && !res.Partial() {
		s.writeCache(key, resp, log)
	}

	resp.Metadata.LatencyMs = s.since(start).Milliseconds()

	ev := base
	ev.Type = models.EventQuery
	ev.ResultCount = len(res.Items)
	ev.Tokens = &usage
	ev.Namespaces = res.NamespacesSearched
	if res.Partial() {
		ev.FailedNamespaces = res.Failed
	}
	s.record(ev, start)
	s.observe("query", "success", start)
	s.d.Metrics.TokensUsed(usage.Prompt, usage.Completion)

	log.Debug("query answered",
		zap.Int("sources", len(res.Items)),
		zap.Int("tokens", usage.Total))
	return resp, nil
}

// cached returns a stored response. Backend errors and undecodable entries are
// misses; the cache never fails a request.
func (s *Service) cached(ctx context.Context, key string, log *zap.Logger) (*QueryResponse, bool) {
	entry, ok, err := s.d.Cache.Get(ctx, key)
	if err != nil {
		s.d.Metrics.CacheLookup("error")
		log.Warn("cache lookup failed, continuing without cache",
			zap.String("error_kind", string(KindCacheUnavailable)),
			zap.Error(err))
		return nil, false
	}
	if !ok {
		s.d.Metrics.CacheLookup("miss")
		return nil, false
	}

	var resp QueryResponse
	if err := json.Unmarshal(entry.Value, &resp); err != nil {
		s.d.Metrics.CacheLookup("error")
		log.Warn("discarding undecodable cache entry", zap.Error(err))
		return nil, false
	}
	s.d.Metrics.CacheLookup("hit")
	resp.Metadata.Cached = true
	return &resp, true
}

// writeCache stores resp in the background. Failures are logged only.
func (s *Service) writeCache(key string, resp *QueryResponse, log *zap.Logger) {
	value, err := json.Marshal(resp)
	if err != nil {
		log.Warn("cache encode failed", zap.Error(err))
		return
	}
	ttl := s.d.CacheTTL

	err = s.d.Pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := s.d.Cache.Put(ctx, key, value, ttl); err != nil {
			log.Warn("cache write failed",
				zap.String("error_kind", string(KindCacheUnavailable)),
				zap.Error(err))
		}
	})
	if err != nil {
		log.Warn("cache write dropped, worker pool saturated", zap.Error(err))
	}
}

// searchOptions turns the effective parameters into search options.
func searchOptions(p models.Params) []search.Option {
	opts := []search.Option{search.WithOwnedBoost(p.OwnedBoost)}
	if p.Hybrid {
		opts = append(opts, search.WithHybrid(p.Alpha))
	}
	return opts
}

func validateQuery(req models.QueryRequest) *Error {
	text := strings.TrimSpace(req.Text)
	switch {
	case text == "":
		return newError(KindInvalidRequest, "query is required", nil)
	case len([]rune(text)) > MaxQueryRunes:
		return newError(KindInvalidRequest, fmt.Sprintf("query exceeds %d characters", MaxQueryRunes), nil)
	case len(req.History) > MaxHistory:
		return newError(KindInvalidRequest, fmt.Sprintf("conversation history exceeds %d messages", MaxHistory), nil)
	}
	for _, m := range req.History {
		if m.Role != "user" && m.Role != "assistant" {
			return newError(KindInvalidRequest, fmt.Sprintf("invalid history role %q", m.Role), nil)
		}
	}

	if o := req.Overrides; o != nil {
		if o.TopK != nil && (*o.TopK < 1 || *o.TopK > MaxTopK) {
			return newError(KindInvalidRequest, fmt.Sprintf("top_k must be between 1 and %d", MaxTopK), nil)
		}
		if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
			return newError(KindInvalidRequest, "temperature must be between 0 and 2", nil)
		}
		if o.MaxTokens != nil && (*o.MaxTokens < 1 || *o.MaxTokens > MaxMaxTokens) {
			return newError(KindInvalidRequest, fmt.Sprintf("max_tokens must be between 1 and %d", MaxMaxTokens), nil)
		}
		if o.Alpha != nil && (*o.Alpha < 0 || *o.Alpha > 1) {
			return newError(KindInvalidRequest, "alpha must be between 0 and 1", nil)
		}
	}
	return nil
}
