package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

func TestNewProvider_WithoutCredentialsIsUnavailable(t *testing.T) {
	p, err := NewProvider(Config{ChatModel: "gpt-4o-mini"}, nil)
	require.NoError(t, err)

	_, err = p.Embedder.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = p.Completer.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestNewProvider_WithBaseURLBuildsClients(t *testing.T) {
	p, err := NewProvider(Config{
		BaseURL:        "http://localhost:11434/v1",
		ChatModel:      "llama3",
		EmbeddingModel: "nomic-embed-text",
	}, nil)
	require.NoError(t, err)

	assert.IsType(t, &OpenAIEmbedder{}, p.Embedder)
	assert.IsType(t, &OpenAICompleter{}, p.Completer)
}

func TestToMessageContent_MapsRoles(t *testing.T) {
	msgs := toMessageContent([]models.Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: "tool", Content: "x"},
	})

	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[3].Role)
	assert.Equal(t, llms.TextContent{Text: "be brief"}, msgs[0].Parts[0])
}

func TestUsageFrom(t *testing.T) {
	tests := []struct {
		name string
		info map[string]any
		want models.Usage
	}{
		{"ints", map[string]any{"PromptTokens": 10, "CompletionTokens": 5, "TotalTokens": 15}, models.Usage{Prompt: 10, Completion: 5, Total: 15}},
		{"floats", map[string]any{"PromptTokens": 3.0, "CompletionTokens": 4.0}, models.Usage{Prompt: 3, Completion: 4, Total: 7}},
		{"missing", nil, models.Usage{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, usageFrom(tt.info))
		})
	}
}
