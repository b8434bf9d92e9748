package vectorstore

import (
	"context"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryChromem(t *testing.T) *Chromem {
	t.Helper()
	s, err := NewChromem("", false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChromem_QueryIsScopedToNamespace(t *testing.T) {
	s := newMemoryChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "acme-docs", []Record{
		{ID: "a1", Content: "refunds within 30 days", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"source": "policy.pdf"}},
		{ID: "a2", Content: "shipping is free", Vector: []float32{0, 1, 0}},
	}))
	require.NoError(t, s.Upsert(ctx, "globex-docs", []Record{
		{ID: "g1", Content: "globex secret", Vector: []float32{1, 0, 0}},
	}))

	got, err := s.Query(ctx, "acme-docs", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-5)
	assert.Equal(t, "policy.pdf", got[0].Metadata["source"])
	for _, m := range got {
		assert.NotEqual(t, "g1", m.ID)
	}
}

func TestChromem_DeleteIsScopedToNamespace(t *testing.T) {
	s := newMemoryChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "acme-docs", []Record{
		{ID: "a1", Content: "one", Vector: []float32{1, 0}},
		{ID: "a2", Content: "two", Vector: []float32{0, 1}},
	}))
	require.NoError(t, s.Upsert(ctx, "globex-docs", []Record{{ID: "a1", Content: "other", Vector: []float32{1, 0}}}))

	require.NoError(t, s.Delete(ctx, "acme-docs", []string{"a1", "never-indexed"}))

	n, err := s.Count(ctx, "acme-docs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Count(ctx, "globex-docs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, "missing", []string{"a1"}))
	require.NoError(t, s.Delete(ctx, "acme-docs", nil))
	assert.ErrorIs(t, s.Delete(ctx, "../etc", []string{"a1"}), ErrInvalidNamespace)
}

func TestChromem_TopKCappedAtCount(t *testing.T) {
	s := newMemoryChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "ns", []Record{{ID: "x", Content: "x", Vector: []float32{0, 0, 1}}}))

	got, err := s.Query(ctx, "ns", []float32{0, 0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestChromem_UnknownNamespaceIsEmpty(t *testing.T) {
	s := newMemoryChromem(t)

	got, err := s.Query(context.Background(), "missing", []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.Count(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChromem_UpsertReplacesByID(t *testing.T) {
	s := newMemoryChromem(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "ns", []Record{{ID: "d", Content: "v1", Vector: []float32{1, 0}}}))
	require.NoError(t, s.Upsert(ctx, "ns", []Record{{ID: "d", Content: "v2", Vector: []float32{1, 0}}}))

	n, err := s.Count(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Query(ctx, "ns", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", got[0].Content)
}

func TestChromem_RejectsInvalidInput(t *testing.T) {
	s := newMemoryChromem(t)
	ctx := context.Background()

	_, err := s.Query(ctx, "../etc", []float32{1}, 1)
	assert.ErrorIs(t, err, ErrInvalidNamespace)

	err = s.Upsert(ctx, "ns", []Record{{ID: "novec", Content: "x"}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestValidateNamespace(t *testing.T) {
	for _, ns := range []string{"acme-docs", "shared.faq", "t_1"} {
		assert.NoError(t, ValidateNamespace(ns), ns)
	}
	for _, ns := range []string{"", "-lead", "has space", "a/b"} {
		assert.ErrorIs(t, ValidateNamespace(ns), ErrInvalidNamespace, ns)
	}
}

func TestPointID_StablePerNamespace(t *testing.T) {
	assert.Equal(t, pointID("acme", "doc-1"), pointID("acme", "doc-1"))
	assert.NotEqual(t, pointID("acme", "doc-1"), pointID("globex", "doc-1"))
}

func TestPayloadString(t *testing.T) {
	s, ok := payloadString(stringValue("x"))
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	s, ok = payloadString(&qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: 7}})
	assert.True(t, ok)
	assert.Equal(t, "7", s)

	_, ok = payloadString(&qdrant.Value{Kind: &qdrant.Value_NullValue{}})
	assert.False(t, ok)
}

func TestNamespaceFilter(t *testing.T) {
	f := namespaceFilter("acme-docs")
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "namespace", field.Key)
	assert.Equal(t, "acme-docs", field.Match.GetKeyword())
}
