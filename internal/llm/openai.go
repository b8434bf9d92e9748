package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// Provider bundles the OpenAI-compatible embedder and completer.
type Provider struct {
	Embedder  Embedder
	Completer Completer
}

// NewProvider builds both clients. Without an API key or base URL it returns
// Unavailable stand-ins instead of failing, so search and query report
// "service unavailable" per request rather than the process refusing to start.
func NewProvider(cfg Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		logger.Warn("no LLM credentials configured, embedding and completion disabled")
		u := Unavailable{Reason: "OPENAI_API_KEY is not set"}
		return &Provider{Embedder: u, Completer: u}, nil
	}

	emb, err := NewOpenAIEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	comp, err := NewOpenAICompleter(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Provider{Embedder: emb, Completer: comp}, nil
}

func clientOptions(cfg Config) []openai.Option {
	token := cfg.APIKey
	if token == "" {
		// local OpenAI-compatible servers ignore the token but the client requires one
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return opts
}

type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	logger   *zap.Logger
}

func NewOpenAIEmbedder(cfg Config, logger *zap.Logger) (*OpenAIEmbedder, error) {
	client, err := openai.New(append(clientOptions(cfg), openai.WithEmbeddingModel(cfg.EmbeddingModel))...)
	if err != nil {
		return nil, fmt.Errorf("openai embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	return &OpenAIEmbedder{embedder: embedder, logger: logger.Named("embedder")}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Debug("embedding failed", zap.Int("length", len(text)), zap.Error(err))
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	return vec, nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d documents: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

type OpenAICompleter struct {
	client *openai.LLM
	model  string
	logger *zap.Logger
}

func NewOpenAICompleter(cfg Config, logger *zap.Logger) (*OpenAICompleter, error) {
	client, err := openai.New(append(clientOptions(cfg), openai.WithModel(cfg.ChatModel))...)
	if err != nil {
		return nil, fmt.Errorf("openai chat client: %w", err)
	}
	return &OpenAICompleter{client: client, model: cfg.ChatModel, logger: logger.Named("completer")}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.client.GenerateContent(ctx, toMessageContent(req.Messages),
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generate content: no choices returned")
	}

	choice := resp.Choices[0]
	return &Response{
		Text:         choice.Content,
		Model:        c.model,
		FinishReason: choice.StopReason,
		Usage:        usageFrom(choice.GenerationInfo),
	}, nil
}

func toMessageContent(msgs []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llms.TextParts(chatRole(m.Role), m.Content))
	}
	return out
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func usageFrom(info map[string]any) models.Usage {
	u := models.Usage{
		Prompt:     intField(info, "PromptTokens"),
		Completion: intField(info, "CompletionTokens"),
		Total:      intField(info, "TotalTokens"),
	}
	if u.Total == 0 {
		u.Total = u.Prompt + u.Completion
	}
	return u
}

func intField(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
