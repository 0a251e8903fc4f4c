// Package app assembles the pipeline components selected by the configuration.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"pdfrag/internal/config"
	"pdfrag/internal/domain"
	"pdfrag/internal/embedding/hashing"
	ollamaembed "pdfrag/internal/embedding/ollama"
	openaiembed "pdfrag/internal/embedding/openai"
	"pdfrag/internal/ingest"
	ollamachat "pdfrag/internal/llm/ollama"
	openaichat "pdfrag/internal/llm/openai"
	"pdfrag/internal/pdf"
	"pdfrag/internal/resilience"
	"pdfrag/internal/retrieval"
	"pdfrag/internal/vectorstore"
	"pdfrag/internal/vectorstore/memory"
	"pdfrag/internal/vectorstore/milvus"
	"pdfrag/internal/vectorstore/qdrant"
	"pdfrag/internal/vectorstore/sqlite"
)

// App holds the shared components of one CLI invocation.
type App struct {
	Config   *config.AppConfig
	Log      logrus.FieldLogger
	Embedder domain.Embedder
	Store    vectorstore.Storage
}

// Open builds the embedder and the vector store. The caller must Close the App.
func Open(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (*App, error) {
	emb, err := NewEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	st, err := NewStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, Log: log, Embedder: emb, Store: st}, nil
}

func (a *App) Close() error { return a.Store.Close() }

// Pipeline returns an ingestion pipeline over the App's store.
func (a *App) Pipeline(progress func(ingest.FileResult)) (*ingest.Pipeline, error) {
	cfg := a.Config
	return ingest.NewPipeline(pdf.NewExtractor(), a.Embedder, a.Store, ingest.Options{
		Collection: CollectionSpec(cfg),
		ChunkSize:  cfg.Chunker.ChunkSize,
		Overlap:    cfg.Chunker.Overlap,
		IDScheme:   cfg.Chunker.IDScheme,
		Reset:      cfg.Ingest.Reset,
		Workers:    cfg.Ingest.Workers,
		QueueDepth: cfg.Ingest.QueueDepth,
		Progress:   progress,
	}, a.Log)
}

// Retrieval opens the collection and returns a query service backed by the
// configured chat model.
func (a *App) Retrieval(ctx context.Context) (*retrieval.Service, error) {
	if err := a.Store.EnsureCollection(ctx, CollectionSpec(a.Config)); err != nil {
		return nil, fmt.Errorf("opening collection: %w", err)
	}
	chat, err := NewChat(a.Config, a.Log)
	if err != nil {
		return nil, err
	}
	style, err := retrieval.ParseStyle(a.Config.Search.ContextStyle)
	if err != nil {
		return nil, err
	}
	return retrieval.NewService(a.Embedder, a.Store, chat, retrieval.Options{
		TopK:  a.Config.Search.TopK,
		Style: style,
	}, a.Log), nil
}

// CollectionSpec describes the collection of the selected store.
func CollectionSpec(cfg *config.AppConfig) domain.CollectionSpec {
	return domain.CollectionSpec{
		Name:      cfg.VectorStore.CollectionName(),
		Dimension: cfg.Embedder.Dimension,
		Metric:    domain.Metric(cfg.VectorStore.Metric),
	}
}

// RetryPolicy converts the retry section of cfg.
func RetryPolicy(cfg *config.AppConfig) resilience.Policy {
	base, maxDelay, timeout := cfg.Retry.Durations()
	return resilience.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  base,
		MaxDelay:   maxDelay,
		Timeout:    timeout,
	}
}

// NewEmbedder builds the configured embedder wrapped with retries and the
// optional rate limit.
func NewEmbedder(cfg *config.AppConfig, log logrus.FieldLogger) (domain.Embedder, error) {
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "ollama", "":
		o := cfg.Embedder.Ollama
		e, err := ollamaembed.NewEmbedder(ollamaembed.Config{
			BaseURL:   o.URL,
			Model:     o.Model,
			Dimension: cfg.Embedder.Dimension,
			Timeout:   config.Seconds(o.TimeoutSecs),
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embedder init failed: %w", err)
		}
		emb = e
	case "openai":
		o := cfg.Embedder.OpenAI
		e, err := openaiembed.NewClient(openaiembed.Config{
			BaseURL:   o.BaseURL,
			APIKeyEnv: o.APIKeyEnv,
			Model:     o.Model,
			Dimension: cfg.Embedder.Dimension,
			Timeout:   config.Seconds(o.TimeoutSecs),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = e
	case "hashing":
		// local and deterministic; nothing to retry or throttle
		return hashing.NewEmbedder(cfg.Embedder.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
	emb = resilience.RateLimited(emb, cfg.Embedder.RateLimit, cfg.Embedder.Burst)
	return resilience.Embedder(emb, RetryPolicy(cfg), log), nil
}

// NewChat builds the configured chat model wrapped with retries.
func NewChat(cfg *config.AppConfig, log logrus.FieldLogger) (domain.ChatModel, error) {
	var chat domain.ChatModel
	switch cfg.Chat.Type {
	case "ollama", "":
		o := cfg.Chat.Ollama
		c, err := ollamachat.NewChat(ollamachat.Config{
			BaseURL: o.URL,
			Model:   o.Model,
			Timeout: config.Seconds(o.TimeoutSecs),
		})
		if err != nil {
			return nil, fmt.Errorf("ollama chat init failed: %w", err)
		}
		chat = c
	case "openai":
		o := cfg.Chat.OpenAI
		c, err := openaichat.NewChat(openaichat.Config{
			BaseURL:   o.BaseURL,
			APIKeyEnv: o.APIKeyEnv,
			Model:     o.Model,
			Timeout:   config.Seconds(o.TimeoutSecs),
		})
		if err != nil {
			return nil, fmt.Errorf("openai chat init failed: %w", err)
		}
		chat = c
	default:
		return nil, fmt.Errorf("unknown chat model: %s", cfg.Chat.Type)
	}
	return resilience.ChatModel(chat, RetryPolicy(cfg), log), nil
}

// NewStore opens the configured vector store. Networked stores are wrapped
// with retries.
func NewStore(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (vectorstore.Storage, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "sqlite", "":
		st, err := sqlite.NewStorage(vs.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		return st, nil
	case "qdrant":
		st := qdrant.NewStorage(qdrant.Config{
			URL:     vs.Qdrant.URL,
			APIKey:  vs.Qdrant.APIKey,
			Timeout: config.Seconds(vs.Qdrant.TimeoutSecs),
			Logger:  log,
		})
		return resilience.Storage(st, RetryPolicy(cfg), log), nil
	case "milvus":
		st, err := milvus.NewStorage(ctx, milvus.Config{Address: vs.Milvus.Address, Logger: log})
		if err != nil {
			return nil, fmt.Errorf("milvus store init failed: %w", err)
		}
		return resilience.Storage(st, RetryPolicy(cfg), log), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", vs.Type)
	}
}
