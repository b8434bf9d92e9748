// Package metrics defines the Prometheus instruments of the query path.
//
// Metrics are registered on an explicit registry. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics:
//   - rag_requests_total{operation,outcome} - terminal outcome per request
//   - rag_request_duration_seconds{operation} - latency of completed requests
//   - rag_cache_lookups_total{result} - hit, miss or error
//   - rag_namespace_failures_total - namespaces that failed during a search
//   - rag_completion_tokens_total{kind} - prompt and completion tokens
//   - rag_events_buffered - events waiting for a flush
type Metrics struct {
	Requests          *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec
	NamespaceFailures prometheus.Counter
	Tokens            *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_requests_total",
				Help: "Requests by operation and terminal outcome",
			},
			[]string{"operation", "outcome"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rag_request_duration_seconds",
				Help:    "Request latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
			},
			[]string{"operation"},
		),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_cache_lookups_total",
				Help: "Query cache lookups by result",
			},
			[]string{"result"},
		),
		NamespaceFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "rag_namespace_failures_total",
			Help: "Namespace searches that failed",
		}),
		Tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rag_completion_tokens_total",
				Help: "LLM tokens consumed",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) NamespaceFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NamespaceFailures.Add(float64(n))
}

func (m *Metrics) TokensUsed(prompt, completion int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.Tokens.WithLabelValues("completion").Add(float64(completion))
}

// RegisterBuffered exposes a gauge read from fn at scrape time.
func RegisterBuffered(reg prometheus.Registerer, fn func() float64) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rag_events_buffered",
		Help: "Log events waiting to be flushed",
	}, fn)
}
