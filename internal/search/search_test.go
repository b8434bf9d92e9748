package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/multi-tenant-rag/internal/vectorstore"
)

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	results map[string][]vectorstore.Match
	errs    map[string]error
	block   map[string]bool
	queried []string
	topKs   []int
}

func (f *fakeStore) Query(ctx context.Context, ns string, _ []float32, topK int) ([]vectorstore.Match, error) {
	f.mu.Lock()
	f.queried = append(f.queried, ns)
	f.topKs = append(f.topKs, topK)
	f.mu.Unlock()

	if f.block[ns] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[ns]; err != nil {
		return nil, err
	}
	m := f.results[ns]
	if len(m) > topK {
		m = m[:topK]
	}
	return m, nil
}

func (f *fakeStore) Upsert(context.Context, string, []vectorstore.Record) error { return nil }

func (f *fakeStore) Count(_ context.Context, ns string) (int, error) { return len(f.results[ns]), nil }

func (f *fakeStore) Delete(context.Context, string, []string) error { return nil }

func (f *fakeStore) Close() error { return nil }

func scenarioStore() *fakeStore {
	return &fakeStore{
		results: map[string][]vectorstore.Match{
			"t1": {
				{ID: "t1-a", Score: 0.9, Metadata: map[string]string{"source": "returns.md", "position": "2"}},
				{ID: "t1-b", Score: 0.5},
			},
			"shared": {
				{ID: "sh-a", Score: 0.9, Metadata: map[string]string{"category": "faq"}},
				{ID: "sh-b", Score: 0.7},
			},
		},
	}
}

func TestSearch_MergesWithOwnedNamespaceWinningTies(t *testing.T) {
	emb := &fakeEmbedder{}
	o := NewOrchestrator(emb, scenarioStore(), time.Second, nil)

	res, err := o.Search(context.Background(), "return policy", []string{"t1", "shared"}, 3)
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.Equal(t, "t1-a", res.Items[0].ID)
	assert.Equal(t, "t1", res.Items[0].Namespace)
	assert.Equal(t, "sh-a", res.Items[1].ID)
	assert.Equal(t, "shared", res.Items[1].Namespace)
	assert.Equal(t, "sh-b", res.Items[2].ID)

	assert.Equal(t, []string{"t1", "shared"}, res.NamespacesSearched)
	assert.False(t, res.Partial())
	assert.Equal(t, "returns.md", res.Items[0].Metadata.Source)
	assert.Equal(t, 2, res.Items[0].Metadata.Position)
	assert.Equal(t, "faq", res.Items[1].Metadata.Category)
}

func TestSearch_EmbedsOnceRegardlessOfNamespaceCount(t *testing.T) {
	emb := &fakeEmbedder{}
	store := &fakeStore{}
	o := NewOrchestrator(emb, store, time.Second, nil)

	_, err := o.Search(context.Background(), "q", []string{"a", "b", "c", "d"}, 5)
	require.NoError(t, err)

	assert.Equal(t, int32(1), emb.calls.Load())
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, store.queried)
}

func TestSearch_OutputSortedDescending(t *testing.T) {
	store := &fakeStore{results: map[string][]vectorstore.Match{
		"own": {{ID: "o1", Score: 0.3}, {ID: "o2", Score: 0.8}},
		"s1":  {{ID: "s1a", Score: 0.8}, {ID: "s1b", Score: 0.95}},
		"s2":  {{ID: "s2a", Score: 0.8}, {ID: "s2b", Score: 0.1}},
	}}
	o := NewOrchestrator(&fakeEmbedder{}, store, time.Second, nil)

	res, err := o.Search(context.Background(), "q", []string{"own", "s1", "s2"}, 10)
	require.NoError(t, err)

	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"s1b", "o2", "s1a", "s2a", "o1", "s2b"}, ids)
	for i := 1; i < len(res.Items); i++ {
		assert.GreaterOrEqual(t, res.Items[i-1].Score, res.Items[i].Score)
	}
}

func TestSearch_OneNamespaceFailureIsPartial(t *testing.T) {
	store := scenarioStore()
	store.errs = map[string]error{"shared": errors.New("connection refused")}
	o := NewOrchestrator(&fakeEmbedder{}, store, time.Second, nil)

	res, err := o.Search(context.Background(), "q", []string{"t1", "shared"}, 5)
	require.NoError(t, err)

	assert.True(t, res.Partial())
	assert.Equal(t, []string{"t1"}, res.NamespacesSearched)
	assert.Contains(t, res.Failed["shared"], "connection refused")
	require.Len(t, res.Items, 2)
	for _, it := range res.Items {
		assert.Equal(t, "t1", it.Namespace)
	}
}

func TestSearch_SlowNamespaceTimesOutIndividually(t *testing.T) {
	store := scenarioStore()
	store.block = map[string]bool{"shared": true}
	o := NewOrchestrator(&fakeEmbedder{}, store, 50*time.Millisecond, nil)

	start := time.Now()
	res, err := o.Search(context.Background(), "q", []string{"t1", "shared"}, 5)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, res.Failed, "shared")
	assert.Equal(t, []string{"t1"}, res.NamespacesSearched)
}

func TestSearch_AllNamespacesFailIsUnavailable(t *testing.T) {
	store := scenarioStore()
	store.errs = map[string]error{
		"t1":     errors.New("boom"),
		"shared": errors.New("boom"),
	}
	o := NewOrchestrator(&fakeEmbedder{}, store, time.Second, nil)

	res, err := o.Search(context.Background(), "q", []string{"t1", "shared"}, 5)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
	assert.Nil(t, res)
}

func TestSearch_EmbeddingFailureIsUnavailable(t *testing.T) {
	store := scenarioStore()
	o := NewOrchestrator(&fakeEmbedder{err: errors.New("quota")}, store, time.Second, nil)

	_, err := o.Search(context.Background(), "q", []string{"t1"}, 5)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
	assert.Empty(t, store.queried)
}

func TestSearch_OwnedBoost(t *testing.T) {
	store := &fakeStore{results: map[string][]vectorstore.Match{
		"own":    {{ID: "o", Score: 0.6}},
		"shared": {{ID: "s", Score: 0.7}},
	}}
	o := NewOrchestrator(&fakeEmbedder{}, store, time.Second, nil)

	res, err := o.Search(context.Background(), "q", []string{"own", "shared"}, 2, WithOwnedBoost(1.25))
	require.NoError(t, err)
	assert.Equal(t, "o", res.Items[0].ID)
	assert.InDelta(t, 0.75, res.Items[0].Score, 1e-6)

	res, err = o.Search(context.Background(), "q", []string{"own", "shared"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "s", res.Items[0].ID)
}

func TestSearch_NoNamespaces(t *testing.T) {
	o := NewOrchestrator(&fakeEmbedder{}, &fakeStore{}, time.Second, nil)
	_, err := o.Search(context.Background(), "q", nil, 5)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestToResult_UnparsablePositionGoesToExtra(t *testing.T) {
	r := toResult("ns", vectorstore.Match{ID: "x", Metadata: map[string]string{"position": "n/a", "lang": "en"}})
	assert.Zero(t, r.Metadata.Position)
	assert.Equal(t, "n/a", r.Metadata.Extra["position"])
	assert.Equal(t, "en", r.Metadata.Extra["lang"])
}
