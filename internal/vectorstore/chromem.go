package vectorstore

import (
	"context"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// Chromem is an embedded vector store with one collection per namespace.
// With an empty path it keeps everything in memory.
type Chromem struct {
	db     *chromem.DB
	logger *zap.Logger
}

func NewChromem(path string, compress bool, logger *zap.Logger) (*Chromem, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path == "" {
		return &Chromem{db: chromem.NewDB(), logger: logger}, nil
	}

	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %s: %w", path, err)
	}
	logger.Info("opened chromem store", zap.String("path", path))
	return &Chromem{db: db, logger: logger}, nil
}

func (c *Chromem) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	col := c.db.GetCollection(namespace, nil)
	if col == nil {
		return []Match{}, nil
	}

	// chromem rejects nResults above the document count
	n := col.Count()
	if n == 0 {
		return []Match{}, nil
	}
	if topK > n {
		topK = n
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query namespace %s: %w", namespace, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: md,
		})
	}
	return matches, nil
}

func (c *Chromem) Upsert(ctx context.Context, namespace string, records []Record) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	col, err := c.db.GetOrCreateCollection(namespace, nil, nil)
	if err != nil {
		return fmt.Errorf("chromem: collection %s: %w", namespace, err)
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("%w: record %s has no vector", ErrDimension, r.ID)
		}
		md := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Metadata:  md,
			Embedding: r.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: add %d documents to %s: %w", len(docs), namespace, err)
	}
	return nil
}

func (c *Chromem) Count(_ context.Context, namespace string) (int, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return 0, err
	}
	col := c.db.GetCollection(namespace, nil)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

func (c *Chromem) Delete(ctx context.Context, namespace string, ids []string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	col := c.db.GetCollection(namespace, nil)
	if col == nil || len(ids) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem: delete %d documents from %s: %w", len(ids), namespace, err)
	}
	return nil
}

func (c *Chromem) Close() error {
	return nil
}
