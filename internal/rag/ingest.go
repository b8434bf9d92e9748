package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/vectorstore"
)

// Document is one pre-chunked piece of text to index.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type IngestResponse struct {
	Success   bool   `json:"success"`
	Namespace string `json:"namespace"`
	Upserted  int    `json:"upserted"`
}

type DeleteResponse struct {
	Success      bool   `json:"success"`
	Namespace    string `json:"namespace"`
	Deleted      int    `json:"deleted"`
	CacheCleared int    `json:"cache_cleared"`
}

const (
	ingestBatch  = 64
	MaxDeleteIDs = 1000
)

// Ingest embeds docs and upserts them into the tenant's own namespace. Shared
// namespaces are never written through a tenant.
func (s *Service) Ingest(ctx context.Context, tenantID string, docs []Document) (*IngestResponse, error) {
	start := s.d.Now()
	t, err := s.d.Tenants.Get(tenantID)
	if err != nil {
		return nil, classify(err)
	}

	base := models.Event{TenantID: t.ID, RequestID: uuid.NewString()}
	fail := func(e *Error) (*IngestResponse, error) {
		ev := base
		ev.Type = models.EventError
		ev.ErrorKind = string(e.Kind)
		ev.Error = e.Error()
		s.record(ev, start)
		return nil, e
	}

	if s.d.Vectors == nil || s.d.Embedder == nil {
		return fail(newError(KindInternal, "ingest is not configured", nil))
	}
	if len(docs) == 0 {
		return fail(newError(KindInvalidRequest, "no documents", nil))
	}
	for i, d := range docs {
		if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.Content) == "" {
			return fail(newError(KindInvalidRequest, fmt.Sprintf("document %d needs an id and content", i), nil))
		}
	}

	upserted := 0
	for lo := 0; lo < len(docs); lo += ingestBatch {
		chunk := docs[lo:min(lo+ingestBatch, len(docs))]

		texts := make([]string, len(chunk))
		for i, d := range chunk {
			texts[i] = d.Content
		}
		vecs, err := s.d.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fail(newError(KindSearchUnavailable, "embedding failed", err))
		}

		records := make([]vectorstore.Record, len(chunk))
		for i, d := range chunk {
			records[i] = vectorstore.Record{ID: d.ID, Content: d.Content, Vector: vecs[i], Metadata: d.Metadata}
		}
		if err := s.d.Vectors.Upsert(ctx, t.Namespace, records); err != nil {
			kind := KindSearchUnavailable
			if errors.Is(err, vectorstore.ErrInvalidNamespace) || errors.Is(err, vectorstore.ErrDimension) {
				kind = KindInvalidRequest
			}
			return fail(newError(kind, "upsert failed", err))
		}
		upserted += len(chunk)
	}

	ev := base
	ev.Type = models.EventIngest
	ev.ResultCount = upserted
	ev.Namespaces = []string{t.Namespace}
	s.record(ev, start)

	return &IngestResponse{Success: true, Namespace: t.Namespace, Upserted: upserted}, nil
}

// Delete removes documents by id from the tenant's own namespace and drops the
// tenant's cached answers, which may cite them. Unknown ids are not an error.
func (s *Service) Delete(ctx context.Context, tenantID string, ids []string) (*DeleteResponse, error) {
	start := s.d.Now()
	t, err := s.d.Tenants.Get(tenantID)
	if err != nil {
		return nil, classify(err)
	}

	base := models.Event{TenantID: t.ID, RequestID: uuid.NewString()}
	fail := func(e *Error) (*DeleteResponse, error) {
		ev := base
		ev.Type = models.EventError
		ev.ErrorKind = string(e.Kind)
		ev.Error = e.Error()
		s.record(ev, start)
		return nil, e
	}

	if s.d.Vectors == nil {
		return fail(newError(KindInternal, "delete is not configured", nil))
	}
	switch {
	case len(ids) == 0:
		return fail(newError(KindInvalidRequest, "no ids", nil))
	case len(ids) > MaxDeleteIDs:
		return fail(newError(KindInvalidRequest, fmt.Sprintf("at most %d ids per request", MaxDeleteIDs), nil))
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return fail(newError(KindInvalidRequest, fmt.Sprintf("id %d is empty", i), nil))
		}
	}

	if err := s.d.Vectors.Delete(ctx, t.Namespace, ids); err != nil {
		kind := KindSearchUnavailable
		if errors.Is(err, vectorstore.ErrInvalidNamespace) {
			kind = KindInvalidRequest
		}
		return fail(newError(kind, "delete failed", err))
	}

	cleared, err := s.d.Cache.ClearTenant(ctx, t.ID)
	if err != nil {
		s.logger.Warn("cache clear after delete failed",
			zap.String("tenant_id", t.ID),
			zap.String("error_kind", string(KindCacheUnavailable)),
			zap.Error(err))
		cleared = 0
	}

	ev := base
	ev.Type = models.EventDelete
	ev.ResultCount = len(ids)
	ev.Namespaces = []string{t.Namespace}
	s.record(ev, start)

	return &DeleteResponse{Success: true, Namespace: t.Namespace, Deleted: len(ids), CacheCleared: cleared}, nil
}
