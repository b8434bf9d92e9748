package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestToken_RoundTrip(t *testing.T) {
	tok, err := GenerateToken("acme", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, "acme", claims.Subject)
}

func TestToken_Rejected(t *testing.T) {
	tok, err := GenerateToken("acme", secret, time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(tok, "other-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateToken("not.a.token", secret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = GenerateToken("", secret, time.Hour)
	assert.Error(t, err)
}

func serve(m *Middleware, r *http.Request) (*httptest.ResponseRecorder, string) {
	var got string
	h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = TenantFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, got
}

func TestMiddleware_Identification(t *testing.T) {
	tok, err := GenerateToken("from-token", secret, time.Hour)
	require.NoError(t, err)

	m := NewMiddleware(secret, WithBaseDomain("rag.example.com"))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		host   string
		want   string
		status int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, "", "from-token", http.StatusOK},
		{"bearer wins over header", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+tok)
			r.Header.Set(TenantHeader, "other")
		}, "", "from-token", http.StatusOK},
		{"header", func(r *http.Request) { r.Header.Set(TenantHeader, "acme") }, "", "acme", http.StatusOK},
		{"subdomain", func(*http.Request) {}, "globex.rag.example.com:8080", "globex", http.StatusOK},
		{"nested subdomain", func(*http.Request) {}, "a.b.rag.example.com", "", http.StatusUnauthorized},
		{"bad scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, "", "", http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "", "", http.StatusUnauthorized},
		{"nothing", func(*http.Request) {}, "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
			if tt.host != "" {
				r.Host = tt.host
			}
			tt.setup(r)

			rec, got := serve(m, r)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMiddleware_RequireToken(t *testing.T) {
	m := NewMiddleware(secret, RequireToken())

	r := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	r.Header.Set(TenantHeader, "acme")
	rec, got := serve(m, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, got)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}
