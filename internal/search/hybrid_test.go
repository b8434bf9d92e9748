package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/multi-tenant-rag/internal/vectorstore"
)

func TestBM25_RanksTermMatches(t *testing.T) {
	docs := []string{
		"Shipping is free on orders over fifty dollars.",
		"Our refund policy: refunds are issued to the original card.",
		"Refunds take five days.",
		"Gift cards are final sale.",
	}

	scores := bm25Scores("What is the refund policy?", docs)

	assert.Zero(t, scores[0])
	assert.Zero(t, scores[3])
	assert.Positive(t, scores[1])
	// no stemming: "refunds" is not "refund"
	assert.Zero(t, scores[2])
}

func TestBM25_RareTermOutweighsCommonTerm(t *testing.T) {
	docs := []string{
		"returns returns accepted",
		"returns within warranty",
		"returns window",
		"returns policy",
	}
	scores := bm25Scores("returns warranty", docs)
	assert.Greater(t, scores[1], scores[0])
}

func TestBM25_StopWordsOnlyQueryScoresNothing(t *testing.T) {
	scores := bm25Scores("what is the", []string{"what is the answer", "the end"})
	assert.Equal(t, []float64{0, 0}, scores)
	assert.Empty(t, bm25Scores("anything", nil))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"refund", "policy", "30", "días"}, tokenize("The REFUND-policy: 30 días, a b!"))
}

func TestFuse_KeywordRankLiftsVectorRank(t *testing.T) {
	matches := []vectorstore.Match{
		{ID: "a", Score: 0.9, Content: "shipping rates"},
		{ID: "b", Score: 0.8, Content: "refund policy for returns", Metadata: map[string]string{"source": "policy.md"}},
	}

	fused := fuse("refund policy", matches, 0.5)
	require.Len(t, fused, 2)
	assert.Equal(t, "b", fused[0].ID)
	assert.InDelta(t, 0.5/62+0.5/61, fused[0].Score, 1e-6)
	assert.InDelta(t, 0.5/61, fused[1].Score, 1e-6)
	assert.Equal(t, "policy.md", fused[0].Metadata["source"])
	assert.Equal(t, "0.8000", fused[0].Metadata["vector_score"])
	assert.NotEqual(t, "0.0000", fused[0].Metadata["keyword_score"])

	// input is left untouched
	assert.Equal(t, float32(0.8), matches[1].Score)
	assert.NotContains(t, matches[1].Metadata, "vector_score")

	vectorOnly := fuse("refund policy", matches, 1)
	assert.Equal(t, "a", vectorOnly[0].ID)
}

func TestSearch_HybridReranksWiderPool(t *testing.T) {
	store := &fakeStore{results: map[string][]vectorstore.Match{
		"t1": {
			{ID: "a", Score: 0.9, Content: "shipping rates"},
			{ID: "b", Score: 0.8, Content: "gift cards"},
			{ID: "c", Score: 0.7, Content: "refund policy for returns"},
		},
	}}
	o := NewOrchestrator(&fakeEmbedder{}, store, time.Second, nil)
	ctx := context.Background()

	res, err := o.Search(ctx, "refund policy", []string{"t1"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Items[0].ID)
	assert.Empty(t, res.FusionMethod)

	res, err = o.Search(ctx, "refund policy", []string{"t1"}, 1, WithHybrid(0.5))
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "c", res.Items[0].ID)
	assert.Equal(t, FusionRRF, res.FusionMethod)
	assert.InDelta(t, 0.5, res.Alpha, 1e-9)
	assert.Contains(t, res.Items[0].Metadata.Extra, "keyword_score")

	assert.Equal(t, []int{1, 3}, store.topKs)
}

func TestSearch_HybridKeepsOwnedFirstOnTies(t *testing.T) {
	same := []vectorstore.Match{
		{ID: "x", Score: 0.9, Content: "return policy"},
		{ID: "y", Score: 0.5, Content: "store hours"},
	}
	store := &fakeStore{results: map[string][]vectorstore.Match{"own": same, "shared": same}}
	o := NewOrchestrator(&fakeEmbedder{}, store, time.Second, nil)

	res, err := o.Search(context.Background(), "return policy", []string{"own", "shared"}, 4, WithHybrid(0.7))
	require.NoError(t, err)

	got := make([]string, len(res.Items))
	for i, it := range res.Items {
		got[i] = it.Namespace + "/" + it.ID
	}
	assert.Equal(t, []string{"own/x", "shared/x", "own/y", "shared/y"}, got)
}

func TestWithHybrid_ClampsAlpha(t *testing.T) {
	var o options
	WithHybrid(1.7)(&o)
	assert.True(t, o.hybrid)
	assert.Equal(t, 1.0, o.alpha)
	WithHybrid(-1)(&o)
	assert.Equal(t, 0.0, o.alpha)
}

func TestCandidatePool(t *testing.T) {
	assert.Equal(t, 15, candidatePool(5))
	assert.Equal(t, maxPool, candidatePool(50))
	assert.Equal(t, 0, candidatePool(0))
}
