package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/config"
	"pdfrag/internal/domain"
	"pdfrag/internal/ingest"
	"pdfrag/internal/logging"
	"pdfrag/internal/pdf/pdftest"
	"pdfrag/internal/vectorstore/memory"
	"pdfrag/internal/vectorstore/sqlite"
)

func offlineConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Embedder.Type = "hashing"
	cfg.VectorStore.SQLite.Path = filepath.Join(t.TempDir(), "vectors.db")
	return cfg
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("Offline SQLite", func(t *testing.T) {
		a, err := Open(ctx, offlineConfig(t), logging.Discard())
		require.NoError(t, err)
		defer a.Close()
		assert.Equal(t, "hashing", a.Embedder.Name())
		assert.IsType(t, &sqlite.Storage{}, a.Store)
	})

	t.Run("Memory", func(t *testing.T) {
		cfg := offlineConfig(t)
		cfg.VectorStore.Type = "memory"
		a, err := Open(ctx, cfg, logging.Discard())
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &memory.Storage{}, a.Store)
	})

	t.Run("Remote Clients Are Wrapped", func(t *testing.T) {
		cfg := offlineConfig(t)
		cfg.Embedder.Type = "ollama"
		cfg.VectorStore.Type = "qdrant"
		a, err := Open(ctx, cfg, logging.Discard())
		require.NoError(t, err)
		defer a.Close()
		assert.Equal(t, "ollama:nomic-embed-text", a.Embedder.Name())
		assert.Equal(t, 768, a.Embedder.Dimension())
	})

	t.Run("Unknown Types", func(t *testing.T) {
		cfg := offlineConfig(t)
		cfg.Embedder.Type = "bert"
		_, err := Open(ctx, cfg, nil)
		assert.ErrorContains(t, err, "unknown embedder")

		cfg = offlineConfig(t)
		cfg.VectorStore.Type = "chroma"
		_, err = Open(ctx, cfg, nil)
		assert.ErrorContains(t, err, "unknown vector store")

		cfg = offlineConfig(t)
		cfg.Chat.Type = "gemini"
		_, err = NewChat(cfg, nil)
		assert.ErrorContains(t, err, "unknown chat model")
	})

	t.Run("OpenAI Needs Key", func(t *testing.T) {
		cfg := offlineConfig(t)
		cfg.Embedder.Type = "openai"
		cfg.Embedder.OpenAI.APIKeyEnv = "PDFRAG_TEST_MISSING_KEY"
		t.Setenv("PDFRAG_TEST_MISSING_KEY", "")
		_, err := Open(ctx, cfg, nil)
		assert.ErrorContains(t, err, "missing API key")
	})
}

func TestIngestThenRetrieve(t *testing.T) {
	ctx := context.Background()
	cfg := offlineConfig(t)
	cfg.Search.TopK = 1

	dir := t.TempDir()
	require.NoError(t, pdftest.Write(filepath.Join(dir, "capitals.pdf"),
		"Paris is the capital of France.",
		"Berlin is the capital of Germany.",
	))

	a, err := Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	var processed []ingest.FileResult
	p, err := a.Pipeline(func(r ingest.FileResult) { processed = append(processed, r) })
	require.NoError(t, err)
	report, err := p.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Chunks)
	require.Len(t, processed, 1)
	require.NoError(t, a.Close())

	// a second process sees the persisted records
	b, err := Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	defer b.Close()
	svc, err := b.Retrieval(ctx)
	require.NoError(t, err)
	results, err := svc.Search(ctx, "capital of Germany")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Berlin is the capital of Germany.", results[0].ChunkText)
	assert.Equal(t, 1, results[0].Page)
}

func TestCollectionSpec(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Type = "qdrant"
	assert.Equal(t, domain.CollectionSpec{Name: "document_embeddings", Dimension: 768, Metric: domain.Cosine}, CollectionSpec(cfg))

	p := RetryPolicy(cfg)
	assert.Equal(t, uint64(3), p.MaxRetries)
	assert.Positive(t, p.BaseDelay)
}
