package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

type SearchResponse struct {
	Success            bool                  `json:"success"`
	Sources            []models.SearchResult `json:"sources"`
	NamespacesSearched []string              `json:"namespaces_searched"`
	FailedNamespaces   map[string]string     `json:"failed_namespaces,omitempty"`
	PartialFailure     bool                  `json:"partial_failure,omitempty"`
	FusionMethod       string                `json:"fusion_method,omitempty"`
	LatencyMs          int64                 `json:"latency_ms"`
	RequestID          string                `json:"request_id"`
}

// Search runs the retrieval step of a query, hybrid when the tenant enables
// it, without completion or cache.
func (s *Service) Search(ctx context.Context, req models.SearchRequest) (*SearchResponse, error) {
	start := s.d.Now()
	requestID := uuid.NewString()
	log := s.logger.With(zap.String("tenant_id", req.TenantID), zap.String("request_id", requestID))

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	t, err := s.d.Tenants.Get(req.TenantID)
	if err != nil {
		e := classify(err)
		log.Warn("search rejected", zap.String("error_kind", string(e.Kind)))
		s.observe("search", e.Kind, start)
		return nil, e
	}

	base := models.Event{TenantID: t.ID, RequestID: requestID, Query: req.Text}

	fail := func(e *Error) (*SearchResponse, error) {
		ev := base
		if e.Kind == KindRateLimited {
			ev.Type = models.EventRateLimited
		} else {
			ev.Type = models.EventError
		}
		ev.ErrorKind = string(e.Kind)
		ev.Error = e.Error()
		s.record(ev, start)
		s.observe("search", e.Kind, start)
		return nil, e
	}

	switch {
	case strings.TrimSpace(req.Text) == "":
		return fail(newError(KindInvalidRequest, "query is required", nil))
	case len([]rune(req.Text)) > MaxQueryRunes:
		return fail(newError(KindInvalidRequest, fmt.Sprintf("query exceeds %d characters", MaxQueryRunes), nil))
	case req.TopK < 0 || req.TopK > MaxTopK:
		return fail(newError(KindInvalidRequest, fmt.Sprintf("top_k must be between 1 and %d", MaxTopK), nil))
	}

	if e := s.admit(ctx, t, log); e != nil {
		return fail(e)
	}

	topK := req.TopK
	params := t.EffectiveParams(nil)
	if topK == 0 {
		topK = params.TopK
	}

	res, err := s.d.Searcher.Search(ctx, req.Text, t.AccessibleNamespaces(), topK, searchOptions(params)...)
	if err != nil {
		return fail(classify(err))
	}
	if res.Partial() {
		s.d.Metrics.NamespaceFailed(len(res.Failed))
		log.Warn("partial search failure",
			zap.String("error_kind", string(KindPartialSearchFailure)),
			zap.Any("failed_namespaces", res.Failed))
	}

	resp := &SearchResponse{
		Success:            true,
		Sources:            res.Items,
		NamespacesSearched: res.NamespacesSearched,
		PartialFailure:     res.Partial(),
		FusionMethod:       res.FusionMethod,
		RequestID:          requestID,
	}
	if resp.Sources == nil {
		resp.Sources = []models.SearchResult{}
	}
	if res.Partial() {
		resp.FailedNamespaces = res.Failed
	}
	resp.LatencyMs = s.since(start).Milliseconds()

	ev := base
	ev.Type = models.EventSearch
	ev.ResultCount = len(res.Items)
	ev.Namespaces = res.NamespacesSearched
	if res.Partial() {
		ev.FailedNamespaces = res.Failed
	}
	s.record(ev, start)
	s.observe("search", "success", start)
	return resp, nil
}
