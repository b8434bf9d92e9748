// Package vectorstore adapts vector databases to namespace-scoped similarity
// search. A namespace is an isolated partition of documents; a query against
// one namespace never sees another's records.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidNamespace = errors.New("invalid namespace")
	ErrDimension        = errors.New("vector dimension mismatch")
)

// Match is one hit from a namespace query. Score is cosine similarity.
type Match struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Record is a document to index.
type Record struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

type Store interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	Upsert(ctx context.Context, namespace string, records []Record) error
	Count(ctx context.Context, namespace string) (int, error)
	// Delete removes records by id. Unknown ids are ignored.
	Delete(ctx context.Context, namespace string, ids []string) error
	Close() error
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// reserved payload keys; everything else in a record's metadata is passed through
const (
	fieldNamespace = "namespace"
	fieldID        = "id"
	fieldContent   = "content"
)
