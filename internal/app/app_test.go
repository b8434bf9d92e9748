package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/multi-tenant-rag/internal/config"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/rag"
)

const tenantsYAML = `
tenants:
  - id: acme
    name: Acme
    enabled: true
    namespace: acme
    shared_namespaces: [shared]
    rate_limit: 10
`

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tenantsYAML), 0o600))

	return &config.Config{
		TenantSource:       "file",
		TenantsFile:        path,
		CacheBackend:       "memory",
		CacheTTL:           time.Hour,
		RateLimitBackend:   "memory",
		RateLimitWindow:    time.Minute,
		VectorBackend:      "chromem",
		EventStore:         "memory",
		EventBatchSize:     100,
		EventFlushInterval: time.Minute,
		EventMaxBuffered:   1000,
		WorkerPoolSize:     2,
		NamespaceTimeout:   time.Second,
		CompletionTimeout:  time.Second,
		RequestTimeout:     5 * time.Second,
	}
}

func TestBuild_LocalBackends(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t), nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	st, err := a.Service.Stats(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, st.Namespaces, 2)
	assert.Equal(t, "acme", st.Namespaces[0].Namespace)
	assert.Equal(t, 0, st.Namespaces[0].Vectors)
	assert.Equal(t, "memory", st.Cache.Backend)

	// no LLM credentials: search degrades per request instead of at startup
	_, err = a.Service.Search(ctx, models.SearchRequest{TenantID: "acme", Text: "hello"})
	assert.Equal(t, rag.KindSearchUnavailable, rag.KindOf(err))
	assert.Equal(t, 1, a.Events.Buffered("acme"))

	mfs, err := a.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["rag_requests_total"])
	assert.True(t, names["rag_events_buffered"])
}

func TestBuild_CloseFlushesEvents(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t), nil)
	require.NoError(t, err)

	_, _ = a.Service.Search(ctx, models.SearchRequest{TenantID: "acme", Text: "hello"})
	require.NoError(t, a.Close(ctx))

	events, err := a.Logs.Read(ctx, "acme", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventError, events[0].Type)
}

func TestBuild_UnknownBackends(t *testing.T) {
	tests := []func(c *config.Config){
		func(c *config.Config) { c.TenantSource = "ldap" },
		func(c *config.Config) { c.RateLimitBackend = "etcd" },
		func(c *config.Config) { c.CacheBackend = "memcached" },
		func(c *config.Config) { c.VectorBackend = "faiss" },
		func(c *config.Config) { c.EventStore = "kafka" },
		func(c *config.Config) { c.EventStore = "postgres" },
	}
	for _, mutate := range tests {
		cfg := localConfig(t)
		mutate(cfg)
		_, err := Build(context.Background(), cfg, nil)
		assert.Error(t, err)
	}
}
