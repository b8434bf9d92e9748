// Package search fans one query out across a tenant's namespaces and merges
// the hits into a single ranked list.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HanTheDev/multi-tenant-rag/internal/llm"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/vectorstore"
)

// ErrSearchUnavailable means no namespace could be searched, either because
// the embedding failed or because every namespace query failed.
var ErrSearchUnavailable = errors.New("search unavailable")

type Result struct {
	Items []models.SearchResult
	// NamespacesSearched lists the namespaces that answered, in priority order.
	NamespacesSearched []string
	// Failed maps each namespace that did not answer to the reason.
	Failed map[string]string
	// FusionMethod is set when keyword ranks were fused in, with the Alpha used.
	FusionMethod string
	Alpha        float64
}

func (r *Result) Partial() bool {
	return len(r.Failed) > 0
}

type Orchestrator struct {
	embedder         llm.Embedder
	store            vectorstore.Store
	namespaceTimeout time.Duration
	logger           *zap.Logger
}

func NewOrchestrator(embedder llm.Embedder, store vectorstore.Store, namespaceTimeout time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		embedder:         embedder,
		store:            store,
		namespaceTimeout: namespaceTimeout,
		logger:           logger,
	}
}

type options struct {
	ownedBoost float64
	hybrid     bool
	alpha      float64
}

type Option func(*options)

// WithOwnedBoost multiplies scores from the first (owned) namespace before
// ranking. Values <= 1 leave scores untouched.
func WithOwnedBoost(boost float64) Option {
	return func(o *options) { o.ownedBoost = boost }
}

// WithHybrid re-ranks each namespace's vector hits with BM25 keyword scores
// using reciprocal rank fusion. alpha in [0, 1] weights the vector rank.
func WithHybrid(alpha float64) Option {
	return func(o *options) {
		o.hybrid = true
		o.alpha = min(max(alpha, 0), 1)
	}
}

// Search embeds query once and queries every namespace concurrently. The
// namespaces slice is in priority order, owned namespace first; that order
// breaks score ties in the merged result.
func (o *Orchestrator) Search(ctx context.Context, query string, namespaces []string, topK int, opts ...Option) (*Result, error) {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(namespaces) == 0 {
		return nil, fmt.Errorf("%w: no namespaces to search", ErrSearchUnavailable)
	}

	vector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrSearchUnavailable, err)
	}

	fetch := topK
	if cfg.hybrid {
		fetch = candidatePool(topK)
	}

	hits := make([][]vectorstore.Match, len(namespaces))
	failures := make([]error, len(namespaces))

	// errgroup only joins the goroutines; a namespace failure is recorded, not
	// returned, so the other namespaces are never cancelled by it.
	var g errgroup.Group
	for i, ns := range namespaces {
		g.Go(func() error {
			nsCtx := ctx
			if o.namespaceTimeout > 0 {
				var cancel context.CancelFunc
				nsCtx, cancel = context.WithTimeout(ctx, o.namespaceTimeout)
				defer cancel()
			}
			hits[i], failures[i] = o.store.Query(nsCtx, ns, vector, fetch)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Failed: make(map[string]string)}
	for i, ns := range namespaces {
		if failures[i] != nil {
			res.Failed[ns] = failures[i].Error()
			o.logger.Warn("namespace search failed",
				zap.String("namespace", ns),
				zap.Error(failures[i]))
			continue
		}
		res.NamespacesSearched = append(res.NamespacesSearched, ns)
	}

	if len(res.NamespacesSearched) == 0 {
		return nil, fmt.Errorf("%w: all %d namespaces failed", ErrSearchUnavailable, len(namespaces))
	}

	if cfg.hybrid {
		for i := range hits {
			if failures[i] == nil {
				hits[i] = fuse(query, hits[i], cfg.alpha)
			}
		}
		res.FusionMethod = FusionRRF
		res.Alpha = cfg.alpha
	}

	res.Items = merge(namespaces, hits, failures, topK, cfg.ownedBoost)
	return res, nil
}

type ranked struct {
	item     models.SearchResult
	priority int
}

func merge(namespaces []string, hits [][]vectorstore.Match, failures []error, topK int, ownedBoost float64) []models.SearchResult {
	var all []ranked
	for i, matches := range hits {
		if failures[i] != nil {
			continue
		}
		for _, m := range matches {
			item := toResult(namespaces[i], m)
			if i == 0 && ownedBoost > 1 {
				item.Score *= float32(ownedBoost)
			}
			all = append(all, ranked{item: item, priority: i})
		}
	}

	sort.SliceStable(all, func(a, b int) bool {
		if all[a].item.Score != all[b].item.Score {
			return all[a].item.Score > all[b].item.Score
		}
		return all[a].priority < all[b].priority
	})

	if topK > 0 && len(all) > topK {
		all = all[:topK]
	}

	out := make([]models.SearchResult, len(all))
	for i, r := range all {
		out[i] = r.item
	}
	return out
}

func toResult(namespace string, m vectorstore.Match) models.SearchResult {
	md := models.ResultMetadata{}
	for k, v := range m.Metadata {
		switch k {
		case "source":
			md.Source = v
		case "category":
			md.Category = v
		case "position", "chunk_index":
			if n, err := strconv.Atoi(v); err == nil {
				md.Position = n
				continue
			}
			fallthrough
		default:
			if md.Extra == nil {
				md.Extra = make(map[string]string)
			}
			md.Extra[k] = v
		}
	}

	return models.SearchResult{
		ID:        m.ID,
		Score:     m.Score,
		Namespace: namespace,
		Content:   m.Content,
		Metadata:  md,
	}
}
