package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/auth"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/rag"
)

const maxBodyBytes = 1 << 20

// Service is the query core exposed over HTTP.
type Service interface {
	Query(ctx context.Context, req models.QueryRequest) (*rag.QueryResponse, error)
	Search(ctx context.Context, req models.SearchRequest) (*rag.SearchResponse, error)
	Stats(ctx context.Context, tenantID string) (*rag.StatsResponse, error)
	Ingest(ctx context.Context, tenantID string, docs []rag.Document) (*rag.IngestResponse, error)
	Delete(ctx context.Context, tenantID string, ids []string) (*rag.DeleteResponse, error)
}

type Handler struct {
	svc    Service
	logger *zap.Logger
}

func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the tenant API under /v1 behind authn.
func (h *Handler) RegisterRoutes(router *mux.Router, authn func(http.Handler) http.Handler) {
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(authn)
	v1.HandleFunc("/query", h.Query).Methods(http.MethodPost)
	v1.HandleFunc("/search", h.Search).Methods(http.MethodPost)
	v1.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	v1.HandleFunc("/documents", h.Ingest).Methods(http.MethodPost)
	v1.HandleFunc("/documents", h.Delete).Methods(http.MethodDelete)
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req models.QueryRequest
	if !decode(w, r, &req) {
		return
	}
	req.TenantID = tenantID

	resp, err := h.svc.Query(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	if resp.Metadata.Cached {
		w.Header().Set("X-Cache-Status", "HIT")
	} else {
		w.Header().Set("X-Cache-Status", "MISS")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req models.SearchRequest
	if !decode(w, r, &req) {
		return
	}
	req.TenantID = tenantID

	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	resp, err := h.svc.Stats(r.Context(), tenantID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req struct {
		Documents []rag.Document `json:"documents"`
	}
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.svc.Ingest(r.Context(), tenantID, req.Documents)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.svc.Delete(r.Context(), tenantID, req.IDs)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	kind := rag.KindOf(err)
	status := StatusFor(kind)

	var e *rag.Error
	msg := "internal error"
	if errors.As(err, &e) {
		msg = e.Message
		if e.Kind == rag.KindRateLimited && e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.String("error_kind", string(kind)), zap.Error(err))
	}
	writeError(w, status, string(kind), msg)
}

// StatusClientClosedRequest is the nginx convention for a client that hung up
// before the response was written.
const StatusClientClosedRequest = 499

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind rag.Kind) int {
	switch kind {
	case rag.KindRateLimited:
		return http.StatusTooManyRequests
	case rag.KindTenantNotFound:
		return http.StatusNotFound
	case rag.KindTenantDisabled:
		return http.StatusForbidden
	case rag.KindInvalidRequest:
		return http.StatusBadRequest
	case rag.KindSearchUnavailable, rag.KindCompletionUnavailable:
		return http.StatusServiceUnavailable
	case rag.KindCompletionTimeout:
		return http.StatusGatewayTimeout
	case rag.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(rag.KindInvalidRequest), "Failed to read request body")
		return false
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, string(rag.KindInvalidRequest), "Request body too large")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, string(rag.KindInvalidRequest), "Invalid JSON body")
		return false
	}
	return true
}

type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: msg, ErrorKind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TenantKeys resolves API keys for token exchange.
type TenantKeys interface {
	ByAPIKey(key string) (models.Tenant, error)
}

// TokenHandler exchanges a tenant API key for a signed bearer token.
func TokenHandler(keys TenantKeys, jwtSecret string, ttl time.Duration, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			APIKey string `json:"api_key"`
		}
		if !decode(w, r, &req) {
			return
		}

		tenant, err := keys.ByAPIKey(req.APIKey)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
			return
		}

		token, err := auth.GenerateToken(tenant.ID, jwtSecret, ttl)
		if err != nil {
			logger.Error("token generation failed", zap.String("tenant_id", tenant.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, string(rag.KindInternal), "Failed to generate token")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"token":     token,
			"tenant_id": tenant.ID,
		})
	}
}

func HealthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"version": version,
		})
	}
}
