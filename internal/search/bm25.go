package search

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// bm25Scores scores each doc against query, treating docs as the corpus.
func bm25Scores(query string, docs []string) []float64 {
	scores := make([]float64, len(docs))
	terms := uniqueTerms(tokenize(query))
	if len(terms) == 0 || len(docs) == 0 {
		return scores
	}

	tfs := make([]map[string]int, len(docs))
	lengths := make([]int, len(docs))
	df := make(map[string]int, len(terms))
	total := 0
	for i, d := range docs {
		tokens := tokenize(d)
		lengths[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int)
		for _, tok := range tokens {
			tf[tok]++
		}
		tfs[i] = tf
		for _, term := range terms {
			if tf[term] > 0 {
				df[term]++
			}
		}
	}
	if total == 0 {
		return scores
	}
	avgLen := float64(total) / float64(len(docs))
	n := float64(len(docs))

	for _, term := range terms {
		if df[term] == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df[term])+0.5)/(float64(df[term])+0.5))
		for i, tf := range tfs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := bm25K1 * (1 - bm25B + bm25B*float64(lengths[i])/avgLen)
			scores[i] += idf * f * (bm25K1 + 1) / (f + norm)
		}
	}
	return scores
}

// tokenize lower-cases s and splits it on anything that is not a letter or a
// digit, dropping stop words and single characters.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var stopWords = func() map[string]struct{} {
	words := strings.Fields(`a about above after again against all am an and any are as at be because
		been before being below between both but by can did do does doing down during each few for
		from further had has have having he her here hers herself him himself his how i if in into is
		it its itself just me more most my myself no nor not now of off on once only or other our ours
		ourselves out over own same she should so some such than that the their theirs them themselves
		then there these they this those through to too under until up very was we were what when where
		which while who whom why will with you your yours yourself yourselves`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
