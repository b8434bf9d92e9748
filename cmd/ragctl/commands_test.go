package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
	"github.com/HanTheDev/multi-tenant-rag/internal/rag"
)

func TestParseDocuments(t *testing.T) {
	docs, err := parseDocuments(strings.NewReader(`[{"id":"a","content":"x","metadata":{"source":"faq.md"}}]`))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "faq.md", docs[0].Metadata["source"])

	_, err = parseDocuments(strings.NewReader(`[]`))
	assert.Error(t, err)

	_, err = parseDocuments(strings.NewReader(`{`))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	err := describe(&rag.Error{Kind: rag.KindRateLimited, Message: "rate limit of 2 requests exceeded", RetryAfter: 2400 * time.Millisecond})
	assert.EqualError(t, err, "rate limit of 2 requests exceeded (retry after 2s)")

	err = describe(&rag.Error{Kind: rag.KindSearchUnavailable, Message: "no namespace could be searched"})
	assert.EqualError(t, err, "search_unavailable: no namespace could be searched")
}

func TestPrintSources(t *testing.T) {
	var buf bytes.Buffer
	printSources(&buf, []models.SearchResult{
		{ID: "c1", Score: 0.9, Namespace: "acme", Metadata: models.ResultMetadata{Source: "faq.md"}},
		{ID: "c2", Score: 0.5, Namespace: "shared"},
	})
	assert.Equal(t, "[1] 0.900 acme/faq.md\n[2] 0.500 shared/c2\n", buf.String())
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"query", "search", "stats", "ingest", "delete"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("tenant"))
}
