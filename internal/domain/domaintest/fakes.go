// Package domaintest provides in-memory stand-ins for the external services.
package domaintest

import (
	"context"
	"sync"

	"pdfrag/internal/domain"
)

// Embedder returns Fn(text), or a zero vector of Dim when Fn is nil.
type Embedder struct {
	Dim int
	Fn  func(text string) ([]float32, error)

	mu    sync.Mutex
	calls []string
}

var _ domain.Embedder = (*Embedder)(nil)

func (e *Embedder) Name() string   { return "fake" }
func (e *Embedder) Dimension() int { return e.Dim }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls = append(e.calls, text)
	e.mu.Unlock()
	if e.Fn != nil {
		return e.Fn(text)
	}
	return make([]float32, e.Dim), nil
}

// Calls returns the texts embedded so far.
func (e *Embedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Chat returns Reply, or Err when set, and records every conversation.
type Chat struct {
	Reply string
	Err   error

	mu       sync.Mutex
	messages [][]domain.Message
}

var _ domain.ChatModel = (*Chat)(nil)

func (c *Chat) Name() string { return "fake" }

func (c *Chat) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.messages = append(c.messages, messages)
	c.mu.Unlock()
	if c.Err != nil {
		return "", c.Err
	}
	return c.Reply, nil
}

// LastPrompt returns the content of the last message sent, or "".
func (c *Chat) LastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ""
	}
	last := c.messages[len(c.messages)-1]
	return last[len(last)-1].Content
}
