package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

const TenantHeader = "X-Tenant-ID"

// Middleware attaches the caller's tenant id to the request context. A bearer
// token wins; without one the X-Tenant-ID header and then the leftmost
// subdomain of the Host are used, unless RequireToken is set.
type Middleware struct {
	jwtSecret    string
	requireToken bool
	baseDomain   string
}

type Option func(*Middleware)

// RequireToken rejects requests without a valid bearer token.
func RequireToken() Option {
	return func(m *Middleware) { m.requireToken = true }
}

// WithBaseDomain enables subdomain identification: acme.rag.example.com
// resolves to tenant "acme" when the base domain is rag.example.com.
func WithBaseDomain(domain string) Option {
	return func(m *Middleware) { m.baseDomain = strings.ToLower(strings.TrimPrefix(domain, ".")) }
}

func NewMiddleware(jwtSecret string, opts ...Option) *Middleware {
	m := &Middleware{jwtSecret: jwtSecret}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, status, msg := m.identify(r)
		if status != 0 {
			writeError(w, status, msg)
			return
		}

		ctx := WithTenant(r.Context(), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) identify(r *http.Request) (string, int, string) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", http.StatusUnauthorized, "Invalid authorization header format"
		}

		claims, err := ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			return "", http.StatusUnauthorized, "Invalid token"
		}
		return claims.TenantID, 0, ""
	}

	if m.requireToken {
		return "", http.StatusUnauthorized, "Missing authorization header"
	}

	if id := strings.TrimSpace(r.Header.Get(TenantHeader)); id != "" {
		return id, 0, ""
	}
	if id := m.subdomain(r.Host); id != "" {
		return id, 0, ""
	}
	return "", http.StatusUnauthorized, "Tenant could not be identified"
}

func (m *Middleware) subdomain(host string) string {
	if m.baseDomain == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	sub, ok := strings.CutSuffix(host, "."+m.baseDomain)
	if !ok || sub == "" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"error":"` + msg + `","error_kind":"unauthorized"}`))
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantContextKey).(string)
	return id, ok && id != ""
}
