package search

import (
	"sort"
	"strconv"

	"github.com/HanTheDev/multi-tenant-rag/internal/vectorstore"
)

const (
	FusionRRF = "rrf"

	// rrfK damps the lead of the top ranks in reciprocal rank fusion.
	rrfK = 60.0

	// Hybrid search re-ranks a wider pool of vector hits than it returns.
	poolFactor = 3
	maxPool    = 150
)

func candidatePool(topK int) int {
	if topK <= 0 {
		return topK
	}
	return min(topK*poolFactor, max(maxPool, topK))
}

// fuse re-scores one namespace's vector hits, best first, by reciprocal rank
// fusion of their vector rank and their BM25 rank against query. A hit with
// no query term only gets the vector term. The vector and keyword scores are
// kept in the metadata.
func fuse(query string, matches []vectorstore.Match, alpha float64) []vectorstore.Match {
	if len(matches) == 0 {
		return matches
	}

	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = m.Content
	}
	keyword := bm25Scores(query, docs)

	byKeyword := make([]int, 0, len(matches))
	for i, s := range keyword {
		if s > 0 {
			byKeyword = append(byKeyword, i)
		}
	}
	sort.SliceStable(byKeyword, func(a, b int) bool {
		return keyword[byKeyword[a]] > keyword[byKeyword[b]]
	})
	keywordRank := make(map[int]int, len(byKeyword))
	for rank, i := range byKeyword {
		keywordRank[i] = rank + 1
	}

	out := make([]vectorstore.Match, len(matches))
	for i, m := range matches {
		score := alpha / (rrfK + float64(i+1))
		if rank, ok := keywordRank[i]; ok {
			score += (1 - alpha) / (rrfK + float64(rank))
		}

		md := make(map[string]string, len(m.Metadata)+2)
		for k, v := range m.Metadata {
			md[k] = v
		}
		md["vector_score"] = strconv.FormatFloat(float64(m.Score), 'f', 4, 32)
		md["keyword_score"] = strconv.FormatFloat(keyword[i], 'f', 4, 64)

		m.Metadata = md
		m.Score = float32(score)
		out[i] = m
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}
