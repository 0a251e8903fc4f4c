// Package openai answers chat requests through an OpenAI-compatible API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"pdfrag/internal/domain"
	embedopenai "pdfrag/internal/embedding/openai"
)

const DefaultModel = "gpt-4o-mini"

type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

type Chat struct {
	client *openai.Client
	model  string
}

var _ domain.ChatModel = (*Chat)(nil)

func NewChat(cfg Config) (*Chat, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Chat{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

func (c *Chat) Name() string { return "openai:" + c.model }

func (c *Chat) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", embedopenai.Classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
