package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/cache"
	"github.com/HanTheDev/multi-tenant-rag/internal/ratelimit"
)

type NamespaceStats struct {
	Namespace string `json:"namespace"`
	Owned     bool   `json:"owned"`
	// Vectors is -1 when the count failed.
	Vectors int    `json:"vectors"`
	Error   string `json:"error,omitempty"`
}

type StatsResponse struct {
	Success        bool               `json:"success"`
	TenantID       string             `json:"tenant_id"`
	Namespaces     []NamespaceStats   `json:"namespaces"`
	Cache          cache.Stats        `json:"cache"`
	RateLimit      ratelimit.Decision `json:"rate_limit"`
	BufferedEvents int                `json:"buffered_events"`
}

// Stats reports vector counts per accessible namespace and the cache state.
// It does not consume rate-limit tokens.
func (s *Service) Stats(ctx context.Context, tenantID string) (*StatsResponse, error) {
	t, err := s.d.Tenants.Get(tenantID)
	if err != nil {
		return nil, classify(err)
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	resp := &StatsResponse{
		Success:        true,
		TenantID:       t.ID,
		Cache:          s.d.Cache.Stats(ctx),
		BufferedEvents: s.d.Events.Buffered(t.ID),
	}

	for _, ns := range t.AccessibleNamespaces() {
		st := NamespaceStats{Namespace: ns, Owned: ns == t.Namespace}
		if s.d.Vectors == nil {
			st.Vectors = -1
			st.Error = "vector store not configured"
		} else if n, err := s.d.Vectors.Count(ctx, ns); err != nil {
			st.Vectors = -1
			st.Error = err.Error()
		} else {
			st.Vectors = n
		}
		resp.Namespaces = append(resp.Namespaces, st)
	}

	if d, err := s.d.Limiter.Status(ctx, t.ID, t.RateLimit); err == nil {
		resp.RateLimit = d
	} else {
		s.logger.Warn("rate limit status unavailable", zap.String("tenant_id", t.ID), zap.Error(err))
	}

	return resp, nil
}
