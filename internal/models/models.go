package models

import "time"

const (
	DefaultTopK        = 5
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultRateLimit   = 60
	// DefaultAlpha weights vector rank against keyword rank in hybrid search.
	DefaultAlpha = 0.7
)

type Tenant struct {
	ID               string      `json:"id" koanf:"id"`
	Name             string      `json:"name" koanf:"name"`
	Enabled          bool        `json:"enabled" koanf:"enabled"`
	APIKey           string      `json:"-" koanf:"api_key"`
	Namespace        string      `json:"namespace" koanf:"namespace"`
	SharedNamespaces []string    `json:"shared_namespaces" koanf:"shared_namespaces"`
	RateLimit        int         `json:"rate_limit" koanf:"rate_limit"`
	RAG              RAGSettings `json:"rag" koanf:"rag"`
	CreatedAt        time.Time   `json:"created_at,omitempty" koanf:"-"`
	UpdatedAt        time.Time   `json:"updated_at,omitempty" koanf:"-"`
}

// RAGSettings are the tenant defaults applied when a request carries no override.
type RAGSettings struct {
	TopK         int     `json:"top_k" koanf:"top_k"`
	Temperature  float64 `json:"temperature" koanf:"temperature"`
	MaxTokens    int     `json:"max_tokens" koanf:"max_tokens"`
	SystemPrompt string  `json:"system_prompt,omitempty" koanf:"system_prompt"`
	// OwnedBoost multiplies scores from the tenant's own namespace before the
	// merge. Values <= 1 disable it.
	OwnedBoost float64 `json:"owned_boost,omitempty" koanf:"owned_boost"`
	// UseHybrid re-ranks vector hits with BM25 keyword scores. Alpha is the
	// weight of the vector rank, 0 < Alpha <= 1; other values mean DefaultAlpha.
	UseHybrid bool    `json:"use_hybrid" koanf:"use_hybrid"`
	Alpha     float64 `json:"alpha,omitempty" koanf:"alpha"`
}

// AccessibleNamespaces returns the owned namespace followed by the shared
// namespaces in configured order, without duplicates.
func (t *Tenant) AccessibleNamespaces() []string {
	out := make([]string, 0, 1+len(t.SharedNamespaces))
	seen := make(map[string]struct{}, 1+len(t.SharedNamespaces))
	for _, ns := range append([]string{t.Namespace}, t.SharedNamespaces...) {
		if ns == "" {
			continue
		}
		if _, ok := seen[ns]; ok {
			continue
		}
		seen[ns] = struct{}{}
		out = append(out, ns)
	}
	return out
}

// EffectiveParams merges per-request overrides over the tenant defaults.
func (t *Tenant) EffectiveParams(o *ParamOverrides) Params {
	p := Params{
		TopK:         t.RAG.TopK,
		Temperature:  t.RAG.Temperature,
		MaxTokens:    t.RAG.MaxTokens,
		SystemPrompt: t.RAG.SystemPrompt,
		OwnedBoost:   t.RAG.OwnedBoost,
		Hybrid:       t.RAG.UseHybrid,
		Alpha:        t.RAG.Alpha,
	}
	if p.Alpha <= 0 || p.Alpha > 1 {
		p.Alpha = DefaultAlpha
	}
	if o != nil {
		if o.TopK != nil {
			p.TopK = *o.TopK
		}
		if o.Temperature != nil {
			p.Temperature = *o.Temperature
		}
		if o.MaxTokens != nil {
			p.MaxTokens = *o.MaxTokens
		}
		if o.UseHybrid != nil {
			p.Hybrid = *o.UseHybrid
		}
		if o.Alpha != nil {
			p.Alpha = *o.Alpha
		}
	}
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.OwnedBoost < 1 {
		p.OwnedBoost = 1
	}
	if !p.Hybrid {
		p.Alpha = 0
	}
	return p
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ParamOverrides struct {
	TopK        *int     `json:"top_k,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	UseHybrid   *bool    `json:"use_hybrid,omitempty"`
	Alpha       *float64 `json:"alpha,omitempty"`
}

// Params is the effective parameter set of one request. Field order is part of
// the cache key, do not reorder.
type Params struct {
	TopK         int     `json:"top_k"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	OwnedBoost   float64 `json:"owned_boost"`
	SystemPrompt string  `json:"system_prompt"`
	Hybrid       bool    `json:"hybrid"`
	// Alpha is zero unless Hybrid is set.
	Alpha float64 `json:"alpha"`
}

type QueryRequest struct {
	TenantID     string          `json:"-"`
	Text         string          `json:"query"`
	History      []Message       `json:"conversation_history,omitempty"`
	Overrides    *ParamOverrides `json:"params,omitempty"`
	DisableCache bool            `json:"disable_cache,omitempty"`
}

type SearchRequest struct {
	TenantID string `json:"-"`
	Text     string `json:"query"`
	TopK     int    `json:"top_k,omitempty"`
}

type SearchResult struct {
	ID        string         `json:"id"`
	Score     float32        `json:"score"`
	Namespace string         `json:"namespace"`
	Content   string         `json:"content,omitempty"`
	Metadata  ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	Source   string            `json:"source,omitempty"`
	Category string            `json:"category,omitempty"`
	Position int               `json:"position,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

type EventType string

const (
	EventQuery       EventType = "query"
	EventSearch      EventType = "search"
	EventCacheHit    EventType = "cache_hit"
	EventIngest      EventType = "ingest"
	EventDelete      EventType = "delete"
	EventError       EventType = "error"
	EventRateLimited EventType = "rate_limited"
)

// Event is one append-only entry of a tenant's log stream.
type Event struct {
	TenantID         string            `json:"tenant_id"`
	Type             EventType         `json:"event_type"`
	Timestamp        time.Time         `json:"timestamp"`
	LatencyMs        int64             `json:"latency_ms"`
	RequestID        string            `json:"request_id,omitempty"`
	Query            string            `json:"query,omitempty"`
	ResultCount      int               `json:"result_count,omitempty"`
	Tokens           *Usage            `json:"tokens,omitempty"`
	Namespaces       []string          `json:"namespaces,omitempty"`
	FailedNamespaces map[string]string `json:"failed_namespaces,omitempty"`
	ErrorKind        string            `json:"error_kind,omitempty"`
	Error            string            `json:"error,omitempty"`
}
