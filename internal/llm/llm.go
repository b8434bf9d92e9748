// Package llm wraps the embedding and chat-completion providers behind small
// interfaces so the rest of the service never touches a vendor SDK directly.
package llm

import (
	"context"
	"errors"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

// ErrUnavailable is returned when no provider is configured or it cannot be reached.
var ErrUnavailable = errors.New("llm provider unavailable")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Request struct {
	Messages    []models.Message
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text         string
	Model        string
	FinishReason string
	Usage        models.Usage
}

type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Unavailable satisfies both interfaces and always fails. It stands in for a
// provider that has no credentials so the service can still start.
type Unavailable struct {
	Reason string
}

func (u Unavailable) err() error {
	if u.Reason == "" {
		return ErrUnavailable
	}
	return errors.Join(ErrUnavailable, errors.New(u.Reason))
}

func (u Unavailable) Embed(context.Context, string) ([]float32, error) { return nil, u.err() }

func (u Unavailable) EmbedBatch(context.Context, []string) ([][]float32, error) { return nil, u.err() }

func (u Unavailable) Complete(context.Context, Request) (*Response, error) { return nil, u.err() }
