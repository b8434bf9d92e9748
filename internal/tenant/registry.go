// Package tenant holds the read-only tenant directory and resolves a tenant
// to the ordered set of vector namespaces it may search.
package tenant

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantDisabled = errors.New("tenant disabled")
	ErrInvalidTenant  = errors.New("invalid tenant")
)

// Source loads tenant records, from a static file or a database.
type Source interface {
	LoadTenants(ctx context.Context) ([]models.Tenant, error)
}

type snapshot struct {
	byID map[string]models.Tenant
	ids  []string
}

// Registry is an immutable snapshot of the tenant set, swapped atomically on
// Reload. Lookups never take a lock.
type Registry struct {
	source Source
	snap   atomic.Pointer[snapshot]
}

func NewRegistry(ctx context.Context, source Source) (*Registry, error) {
	r := &Registry{source: source}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry builds a registry from an in-memory tenant list.
func NewStaticRegistry(tenants []models.Tenant) (*Registry, error) {
	return NewRegistry(context.Background(), StaticSource(tenants))
}

// Reload re-reads the source. The previous snapshot stays in place on error.
func (r *Registry) Reload(ctx context.Context) error {
	tenants, err := r.source.LoadTenants(ctx)
	if err != nil {
		return fmt.Errorf("loading tenants: %w", err)
	}

	s := &snapshot{byID: make(map[string]models.Tenant, len(tenants))}
	for _, t := range tenants {
		if err := normalize(&t); err != nil {
			return err
		}
		if _, dup := s.byID[t.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidTenant, t.ID)
		}
		s.byID[t.ID] = t
		s.ids = append(s.ids, t.ID)
	}
	sort.Strings(s.ids)

	r.snap.Store(s)
	return nil
}

// Get returns an enabled tenant.
func (r *Registry) Get(id string) (models.Tenant, error) {
	t, ok := r.snap.Load().byID[id]
	if !ok {
		return models.Tenant{}, fmt.Errorf("%w: %q", ErrTenantNotFound, id)
	}
	if !t.Enabled {
		return models.Tenant{}, fmt.Errorf("%w: %q", ErrTenantDisabled, id)
	}
	return t, nil
}

// Resolve returns the tenant's owned namespace first, then its shared
// namespaces in configured order. The position is the merge tie-break priority.
func (r *Registry) Resolve(id string) ([]string, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return t.AccessibleNamespaces(), nil
}

// ByAPIKey finds the enabled tenant owning key.
func (r *Registry) ByAPIKey(key string) (models.Tenant, error) {
	if key == "" {
		return models.Tenant{}, ErrTenantNotFound
	}
	s := r.snap.Load()
	for _, id := range s.ids {
		t := s.byID[id]
		if t.APIKey == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(t.APIKey), []byte(key)) == 1 {
			if !t.Enabled {
				return models.Tenant{}, fmt.Errorf("%w: %q", ErrTenantDisabled, id)
			}
			return t, nil
		}
	}
	return models.Tenant{}, ErrTenantNotFound
}

// List returns every tenant, disabled ones included, ordered by id.
func (r *Registry) List() []models.Tenant {
	s := r.snap.Load()
	out := make([]models.Tenant, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Lookup returns a tenant regardless of its enabled flag.
func (r *Registry) Lookup(id string) (models.Tenant, bool) {
	t, ok := r.snap.Load().byID[id]
	return t, ok
}

func normalize(t *models.Tenant) error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidTenant)
	}
	if t.Namespace == "" {
		return fmt.Errorf("%w: tenant %q has no namespace", ErrInvalidTenant, t.ID)
	}
	if t.RateLimit == 0 {
		t.RateLimit = models.DefaultRateLimit
	}
	if t.RAG.TopK <= 0 {
		t.RAG.TopK = models.DefaultTopK
	}
	if t.RAG.MaxTokens <= 0 {
		t.RAG.MaxTokens = models.DefaultMaxTokens
	}
	t.SharedNamespaces = append([]string(nil), t.SharedNamespaces...)
	return nil
}

// StaticSource serves a fixed tenant list.
type StaticSource []models.Tenant

func (s StaticSource) LoadTenants(context.Context) ([]models.Tenant, error) {
	return append([]models.Tenant(nil), s...), nil
}
