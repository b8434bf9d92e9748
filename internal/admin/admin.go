package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/cache"
	"github.com/HanTheDev/multi-tenant-rag/internal/eventlog"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

const (
	AdminTokenHeader = "X-Admin-Token"
	defaultLogLimit  = 100
	maxLogLimit      = 1000
	// logScanLimit bounds how far back a filtered read or a summary looks.
	logScanLimit = 10000
	recentWindow = 24 * time.Hour
)

type Tenants interface {
	List() []models.Tenant
	Lookup(id string) (models.Tenant, bool)
	Reload(ctx context.Context) error
}

// Events is the operator view of the event sink.
type Events interface {
	Flush(ctx context.Context) int
	Stats() eventlog.Stats
	Buffered(tenantID string) int
}

type AdminHandler struct {
	tenants Tenants
	logs    eventlog.Reader
	events  Events
	cache   cache.Cache
	logger  *zap.Logger
	now     func() time.Time
}

// NewAdminHandler builds the operator API. logs may be nil when the event store
// cannot be read back.
func NewAdminHandler(tenants Tenants, logs eventlog.Reader, events Events, c cache.Cache, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{tenants: tenants, logs: logs, events: events, cache: c, logger: logger, now: time.Now}
}

// RegisterRoutes mounts /admin behind the shared admin token. An empty token
// disables the admin API.
func (h *AdminHandler) RegisterRoutes(router *mux.Router, token string) {
	sub := router.PathPrefix("/admin").Subrouter()
	sub.Use(requireToken(token))

	// Tenant directory
	sub.HandleFunc("/tenants", h.ListTenants).Methods("GET")
	sub.HandleFunc("/tenants/reload", h.ReloadTenants).Methods("POST")
	sub.HandleFunc("/tenants/{id}", h.GetTenant).Methods("GET")
	sub.HandleFunc("/tenants/{id}/logs", h.GetTenantLogs).Methods("GET")
	sub.HandleFunc("/tenants/{id}/logs/stats", h.GetTenantLogStats).Methods("GET")
	sub.HandleFunc("/tenants/{id}/logs/errors", h.GetTenantErrors).Methods("GET")
	sub.HandleFunc("/tenants/{id}/logs/recent", h.GetTenantRecentLogs).Methods("GET")
	sub.HandleFunc("/tenants/{id}/cache/clear", h.ClearTenantCache).Methods("POST")

	// Runtime state
	sub.HandleFunc("/cache/stats", h.GetCacheStats).Methods("GET")
	sub.HandleFunc("/events/stats", h.GetEventStats).Methods("GET")
	sub.HandleFunc("/events/flush", h.FlushEvents).Methods("POST")
}

func requireToken(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tenants.List())
}

func (h *AdminHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenants.Lookup(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Tenant not found"})
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (h *AdminHandler) ReloadTenants(w http.ResponseWriter, r *http.Request) {
	if err := h.tenants.Reload(r.Context()); err != nil {
		h.logger.Error("tenant reload failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to reload tenants"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tenants": len(h.tenants.List())})
}

// GetTenantLogs returns the newest flushed events of a tenant. Events still
// buffered in the sink are not included; POST /admin/events/flush first.
//
// type takes a comma separated list of event types. since takes an RFC 3339
// time or a duration back from now ("24h").
func (h *AdminHandler) GetTenantLogs(w http.ResponseWriter, r *http.Request) {
	h.serveLogs(w, r, eventlog.Filter{})
}

// GetTenantErrors is GetTenantLogs restricted to failed requests.
func (h *AdminHandler) GetTenantErrors(w http.ResponseWriter, r *http.Request) {
	h.serveLogs(w, r, eventlog.Filter{Types: []models.EventType{models.EventError}})
}

// GetTenantRecentLogs is GetTenantLogs restricted to the last 24 hours.
func (h *AdminHandler) GetTenantRecentLogs(w http.ResponseWriter, r *http.Request) {
	h.serveLogs(w, r, eventlog.Filter{Since: h.now().Add(-recentWindow)})
}

func (h *AdminHandler) serveLogs(w http.ResponseWriter, r *http.Request, base eventlog.Filter) {
	id, ok := h.logTenant(w, r)
	if !ok {
		return
	}

	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid limit"})
			return
		}
		limit = min(n, maxLogLimit)
	}

	filter, err := h.parseFilter(r, base)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid filter", "details": err.Error()})
		return
	}

	scan := limit
	if !filter.IsZero() {
		scan = logScanLimit
	}
	events, ok := h.readLogs(w, r, id, scan)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tenant_id": id, "events": filter.Select(events, limit)})
}

// GetTenantLogStats summarizes the tenant's most recent events, filtered the
// same way as GetTenantLogs.
func (h *AdminHandler) GetTenantLogStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.logTenant(w, r)
	if !ok {
		return
	}
	filter, err := h.parseFilter(r, eventlog.Filter{})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Invalid filter", "details": err.Error()})
		return
	}
	events, ok := h.readLogs(w, r, id, logScanLimit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"tenant_id": id,
		"stats":     eventlog.Summarize(filter.Select(events, 0)),
		"buffered":  h.events.Buffered(id),
	})
}

func (h *AdminHandler) logTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if _, ok := h.tenants.Lookup(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Tenant not found"})
		return "", false
	}
	if h.logs == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"success": false, "error": "Event store is write-only"})
		return "", false
	}
	return id, true
}

func (h *AdminHandler) readLogs(w http.ResponseWriter, r *http.Request, id string, limit int) ([]models.Event, bool) {
	events, err := h.logs.Read(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("reading tenant logs failed", zap.String("tenant_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to read logs"})
		return nil, false
	}
	return events, true
}

// parseFilter narrows base with the type and since query parameters.
func (h *AdminHandler) parseFilter(r *http.Request, base eventlog.Filter) (eventlog.Filter, error) {
	q := r.URL.Query()
	f := base

	if raw := q.Get("type"); raw != "" {
		f.Types = nil
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types = append(f.Types, models.EventType(t))
			}
		}
	}

	if raw := q.Get("since"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			f.Since = ts
		} else if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			f.Since = h.now().Add(-d)
		} else {
			return f, fmt.Errorf("invalid since %q, want an RFC 3339 time or a duration", raw)
		}
	}
	return f, nil
}

// ClearTenantCache drops every cached answer of one tenant, e.g. after its
// documents or settings changed.
func (h *AdminHandler) ClearTenantCache(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.tenants.Lookup(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Tenant not found"})
		return
	}

	n, err := h.cache.ClearTenant(r.Context(), id)
	if err != nil {
		h.logger.Error("clearing tenant cache failed", zap.String("tenant_id", id), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "Failed to clear cache"})
		return
	}
	h.logger.Info("tenant cache cleared", zap.String("tenant_id", id), zap.Int("removed", n))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tenant_id": id, "removed": n})
}

func (h *AdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

func (h *AdminHandler) GetEventStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.events.Stats())
}

func (h *AdminHandler) FlushEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	n := h.events.Flush(ctx)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pending": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
