// Package completion turns retrieved context and the conversation so far into
// a grounded answer from the chat model.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HanTheDev/multi-tenant-rag/internal/llm"
	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

var (
	ErrTimeout     = errors.New("completion timed out")
	ErrUnavailable = errors.New("completion unavailable")
	ErrCanceled    = errors.New("completion canceled")
)

const (
	DefaultSystemPrompt = "You are a helpful assistant. Answer the question using only the provided context. " +
		"If the context does not contain the answer, say that you don't know."

	// maxHistory caps how many prior turns are replayed to the model.
	maxHistory = 10
)

type Answer struct {
	Text         string
	Model        string
	FinishReason string
	Usage        models.Usage
}

type Service struct {
	completer llm.Completer
	timeout   time.Duration
	logger    *zap.Logger
}

func NewService(completer llm.Completer, timeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{completer: completer, timeout: timeout, logger: logger}
}

type outcome struct {
	resp *llm.Response
	err  error
}

// Complete asks the model to answer query from items. It returns within the
// configured timeout even when the provider ignores cancellation. Provider
// failures come back as ErrTimeout or ErrUnavailable; a caller that goes away
// first gets ErrCanceled.
func (s *Service) Complete(ctx context.Context, query string, items []models.SearchResult, history []models.Message, params models.Params) (*Answer, error) {
	req := llm.Request{
		Messages:    BuildMessages(query, items, history, params.SystemPrompt),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		resp, err := s.completer.Complete(ctx, req)
		done <- outcome{resp: resp, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Debug("completion abandoned by caller", zap.Error(ctx.Err()))
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		s.logger.Warn("completion deadline reached", zap.Duration("timeout", s.timeout))
		return nil, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
	}

	if out.err != nil {
		switch {
		case errors.Is(out.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		case errors.Is(out.err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			return nil, fmt.Errorf("%w: %w", ErrCanceled, context.Canceled)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, out.err)
	}
	if out.resp == nil || strings.TrimSpace(out.resp.Text) == "" {
		return nil, fmt.Errorf("%w: empty response from model", ErrUnavailable)
	}

	return &Answer{
		Text:         out.resp.Text,
		Model:        out.resp.Model,
		FinishReason: out.resp.FinishReason,
		Usage:        out.resp.Usage,
	}, nil
}

// BuildMessages lays out the system prompt with the numbered context, the
// most recent prior turns oldest first, then the question.
func BuildMessages(query string, items []models.SearchResult, history []models.Message, systemPrompt string) []models.Message {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nContext:\n")
	if len(items) == 0 {
		b.WriteString("No relevant context was found.\n")
	}
	for i, it := range items {
		fmt.Fprintf(&b, "[%d] ", i+1)
		if it.Metadata.Source != "" {
			fmt.Fprintf(&b, "(%s) ", it.Metadata.Source)
		}
		b.WriteString(strings.TrimSpace(it.Content))
		b.WriteString("\n")
	}

	msgs := make([]models.Message, 0, 2+maxHistory)
	msgs = append(msgs, models.Message{Role: llm.RoleSystem, Content: b.String()})

	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	for _, m := range history {
		role := m.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		msgs = append(msgs, models.Message{Role: role, Content: m.Content})
	}

	return append(msgs, models.Message{Role: llm.RoleUser, Content: query})
}
