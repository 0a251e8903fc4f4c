package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultModel     = "nomic-embed-text"
	DefaultDimension = 768
)

// Config configures the Ollama embedding client.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// Embedder calls the Ollama embeddings endpoint. Each call is a single
// blocking request; retries are layered on by the caller.
type Embedder struct {
	client    *api.Client
	model     string
	dimension int
}

var _ domain.Embedder = (*Embedder)(nil)

// NewEmbedder creates an Ollama embedding client.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	return &Embedder{
		client:    api.NewClient(base, hc),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

func (e *Embedder) Name() string { return "ollama:" + e.model }

func (e *Embedder) Dimension() int { return e.dimension }

// Embed returns the embedding of text. A vector whose length differs from
// the configured dimension is a configuration error.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", classify(err))
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embeddings: empty embedding for model %s", e.model)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	if err := vectorstore.CheckDimension(vec, e.dimension); err != nil {
		return nil, fmt.Errorf("model %s: %w", e.model, err)
	}
	return vec, nil
}
