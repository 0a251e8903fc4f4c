// Package ollama answers chat requests through a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"pdfrag/internal/domain"
	"pdfrag/internal/resilience"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "mistral:latest"
)

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Chat is a non-streaming Ollama chat client.
type Chat struct {
	client *api.Client
	model  string
}

var _ domain.ChatModel = (*Chat)(nil)

func NewChat(cfg Config) (*Chat, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &Chat{
		client: api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		model:  cfg.Model,
	}, nil
}

func (c *Chat) Name() string { return "ollama:" + c.model }

// Chat sends messages and returns the assistant's reply.
func (c *Chat) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}
	stream := false
	var sb strings.Builder
	err := c.client.Chat(ctx, &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", classify(err))
	}
	if sb.Len() == 0 {
		return "", errors.New("ollama chat: empty response")
	}
	return sb.String(), nil
}

func classify(err error) error {
	var se api.StatusError
	if errors.As(err, &se) && (se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests) {
		return resilience.Retryable(err)
	}
	return err
}
