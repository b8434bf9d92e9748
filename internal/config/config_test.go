package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("CACHE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 100, cfg.EventBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("NAMESPACE_TIMEOUT", "750ms")
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("QDRANT_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.NamespaceTimeout)
	assert.True(t, cfg.RequireAuth)
	assert.Equal(t, 6334, cfg.QdrantPort)
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "defaults",
			cfg:  Config{JWTSecret: DefaultJWTSecret},
			want: []string{"REQUIRE_AUTH is off", "ADMIN_TOKEN is not set"},
		},
		{
			name: "default secret with auth",
			cfg:  Config{JWTSecret: DefaultJWTSecret, RequireAuth: true, AdminToken: "a"},
			want: []string{"bearer tokens can be forged"},
		},
		{
			name: "hardened",
			cfg:  Config{JWTSecret: "s3cr3t-from-vault", RequireAuth: true, AdminToken: "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.Warnings()
			require.Len(t, got, len(tt.want))
			for i, w := range tt.want {
				assert.Contains(t, got[i], w)
			}
		})
	}
}

func TestLoadDefaultSecretIsFlagged(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultJWTSecret, cfg.JWTSecret)
	assert.Contains(t, cfg.Warnings()[0], "JWT_SECRET")
}

const tenantsYAML = `
tenants:
  - id: demo
    name: Demo
    enabled: true
    api_key: k-demo
    namespace: demo
    shared_namespaces: [shared, bible]
    rate_limit: 2
    rag:
      top_k: 3
      temperature: 0.2
      max_tokens: 500
      system_prompt: "Answer briefly."
      owned_boost: 1.25
  - id: off
    name: Disabled
    enabled: false
    namespace: off
`

func TestParseTenants(t *testing.T) {
	tenants, err := ParseTenants([]byte(tenantsYAML))
	require.NoError(t, err)
	require.Len(t, tenants, 2)

	demo := tenants[0]
	assert.Equal(t, "demo", demo.ID)
	assert.True(t, demo.Enabled)
	assert.Equal(t, "k-demo", demo.APIKey)
	assert.Equal(t, []string{"shared", "bible"}, demo.SharedNamespaces)
	assert.Equal(t, 2, demo.RateLimit)
	assert.Equal(t, 3, demo.RAG.TopK)
	assert.InDelta(t, 0.2, demo.RAG.Temperature, 1e-9)
	assert.Equal(t, "Answer briefly.", demo.RAG.SystemPrompt)
	assert.InDelta(t, 1.25, demo.RAG.OwnedBoost, 1e-9)

	assert.False(t, tenants[1].Enabled)
}

func TestTenantsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tenantsYAML), 0o600))

	tenants, err := TenantsFile{Path: path}.LoadTenants(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenants, 2)

	_, err = TenantsFile{Path: filepath.Join(t.TempDir(), "missing.yaml")}.LoadTenants(context.Background())
	assert.Error(t, err)
}

func TestParseTenantsInvalid(t *testing.T) {
	_, err := ParseTenants([]byte("tenants: [unclosed"))
	assert.Error(t, err)
}
