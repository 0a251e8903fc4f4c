package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/chunker"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PDFRAG_STORE", "PDFRAG_NOTES_DIR", "PDFRAG_EMBEDDER", "PDFRAG_EMBED_MODEL",
		"PDFRAG_CHAT_MODEL", "PDFRAG_OLLAMA_URL", "OLLAMA_HOST", "PDFRAG_QDRANT_URL",
		"PDFRAG_QDRANT_API_KEY", "PDFRAG_MILVUS_ADDRESS", "PDFRAG_SQLITE_PATH",
		"PDFRAG_WORKERS", "PDFRAG_TOP_K", "PDFRAG_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Missing File Uses Defaults", func(t *testing.T) {
		clearEnv(t)
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "ollama", cfg.Embedder.Type)
		assert.Equal(t, "nomic-embed-text", cfg.Embedder.Ollama.Model)
		assert.Equal(t, 768, cfg.Embedder.Dimension)
		assert.Equal(t, "mistral:latest", cfg.Chat.Ollama.Model)
		assert.Equal(t, 300, cfg.Chunker.ChunkSize)
		assert.Equal(t, 50, cfg.Chunker.Overlap)
		assert.Equal(t, 3, cfg.Search.TopK)
		assert.Equal(t, "../notes/", cfg.Ingest.Dir)
		assert.True(t, cfg.Ingest.Reset)
		assert.Equal(t, "document_embeddings", cfg.VectorStore.Qdrant.Collection)
		assert.Equal(t, "embedding_collection", cfg.VectorStore.CollectionName())
	})

	t.Run("File Overrides Only What It Names", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, `
vector_store:
  type: qdrant
  qdrant:
    url: http://qdrant:6333
search:
  top_k: 7
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "qdrant", cfg.VectorStore.Type)
		assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.Qdrant.URL)
		assert.Equal(t, "document_embeddings", cfg.VectorStore.CollectionName())
		assert.Equal(t, 7, cfg.Search.TopK)
		assert.True(t, cfg.Ingest.Reset)
		assert.Equal(t, 4, cfg.Ingest.Workers)
	})

	t.Run("Environment Wins Over File", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PDFRAG_STORE", "milvus")
		t.Setenv("PDFRAG_MILVUS_ADDRESS", "milvus:19530")
		t.Setenv("PDFRAG_TOP_K", "5")
		path := writeFile(t, "vector_store:\n  type: sqlite\n")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "milvus", cfg.VectorStore.Type)
		assert.Equal(t, "milvus:19530", cfg.VectorStore.Milvus.Address)
		assert.Equal(t, 5, cfg.Search.TopK)
	})

	t.Run("Blank Numeric Variables Are Ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PDFRAG_WORKERS", "")
		t.Setenv("PDFRAG_TOP_K", " ")
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Ingest.Workers)
		assert.Equal(t, 3, cfg.Search.TopK)
	})

	t.Run("Numeric Variable Must Be An Integer", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PDFRAG_WORKERS", "many")
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("Ollama Host", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OLLAMA_HOST", "127.0.0.1:11500")
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:11500", cfg.Embedder.Ollama.URL)
		assert.Equal(t, "http://127.0.0.1:11500", cfg.Chat.Ollama.URL)
	})

	t.Run("Invalid Window", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, "chunker:\n  chunk_size: 50\n  overlap: 50\n")
		_, err := Load(path)
		assert.ErrorIs(t, err, chunker.ErrInvalidWindow)
	})

	t.Run("Malformed YAML", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, "search: [")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"unknown store", func(c *AppConfig) { c.VectorStore.Type = "chroma" }},
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "bert" }},
		{"unknown chat", func(c *AppConfig) { c.Chat.Type = "gemini" }},
		{"unknown metric", func(c *AppConfig) { c.VectorStore.Metric = "manhattan" }},
		{"unknown id scheme", func(c *AppConfig) { c.Chunker.IDScheme = "random" }},
		{"unknown context style", func(c *AppConfig) { c.Search.ContextStyle = "verbose" }},
		{"zero dimension", func(c *AppConfig) { c.Embedder.Dimension = 0 }},
		{"zero top_k", func(c *AppConfig) { c.Search.TopK = 0 }},
		{"zero workers", func(c *AppConfig) { c.Ingest.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	require.NoError(t, Default().Validate())
}

func TestLoadDefault(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "pdfrag", "config.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, Default(), cfg)
}
