package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
	"pdfrag/internal/domain/domaintest"
	"pdfrag/internal/embedding/hashing"
	"pdfrag/internal/logging"
	"pdfrag/internal/vectorstore/memory"
)

const (
	parisText  = "Paris is the capital of France."
	berlinText = "Berlin is the capital of Germany."
)

func seededStore(t *testing.T, emb domain.Embedder) *memory.Storage {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStorage()
	require.NoError(t, store.EnsureCollection(ctx, domain.CollectionSpec{Name: "test", Dimension: emb.Dimension()}))
	for i, text := range []string{parisText, berlinText} {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []domain.Record{{
			ID:        []string{"p", "b"}[i],
			Embedding: vec,
			Metadata:  domain.Metadata{File: "capitals.pdf", Page: i, ChunkText: text},
		}}))
	}
	return store
}

func TestSearch(t *testing.T) {
	emb := hashing.NewEmbedder(hashing.DefaultDimension)
	store := seededStore(t, emb)
	svc := NewService(emb, store, &domaintest.Chat{}, Options{TopK: 1}, logging.Discard())

	t.Run("Nearest Chunk First", func(t *testing.T) {
		results, err := svc.Search(context.Background(), "What is the capital of France?")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, parisText, results[0].ChunkText)
		assert.Equal(t, 0, results[0].Page)
		assert.InDelta(t, 1-results[0].Score, results[0].Distance, 1e-9)
	})

	t.Run("Empty Query", func(t *testing.T) {
		_, err := svc.Search(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("Embed Failure", func(t *testing.T) {
		boom := errors.New("connection refused")
		bad := &domaintest.Embedder{Dim: 4, Fn: func(string) ([]float32, error) { return nil, boom }}
		_, err := NewService(bad, store, nil, Options{}, nil).Search(context.Background(), "x")
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "embed", se.Stage)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Query Failure", func(t *testing.T) {
		wrongDim := &domaintest.Embedder{Dim: 4}
		_, err := NewService(wrongDim, store, nil, Options{}, nil).Search(context.Background(), "x")
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "query", se.Stage)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})
}

func TestAnswer(t *testing.T) {
	emb := hashing.NewEmbedder(hashing.DefaultDimension)

	t.Run("Prompt Carries Retrieved Text", func(t *testing.T) {
		chat := &domaintest.Chat{Reply: "  Paris.\n"}
		svc := NewService(emb, seededStore(t, emb), chat, Options{TopK: 2}, nil)

		ans, err := svc.Answer(context.Background(), "What is the capital of France?")
		require.NoError(t, err)
		assert.Equal(t, "  Paris.\n", ans.Text)
		require.Len(t, ans.Sources, 2)
		assert.Equal(t, parisText, ans.Sources[0].ChunkText)

		prompt := chat.LastPrompt()
		assert.Contains(t, prompt, "Source 1: capitals.pdf (page 0)\n"+parisText)
		assert.Contains(t, prompt, "Query: What is the capital of France?")
		assert.Contains(t, prompt, "say 'I don't know'")
		assert.True(t, strings.HasSuffix(prompt, "Answer:"))
	})

	t.Run("Summary Style Omits Chunk Text", func(t *testing.T) {
		chat := &domaintest.Chat{Reply: "I don't know"}
		svc := NewService(emb, seededStore(t, emb), chat, Options{TopK: 2, Style: StyleSummary}, nil)

		ans, err := svc.Answer(context.Background(), "What is the capital of France?")
		require.NoError(t, err)
		prompt := chat.LastPrompt()
		assert.Contains(t, prompt, "From capitals.pdf (page 0) with similarity")
		assert.NotContains(t, prompt, parisText)
		assert.NotContains(t, prompt, berlinText)
		assert.NotContains(t, ans.Context, "Paris")
	})

	t.Run("Empty Store", func(t *testing.T) {
		store := memory.NewStorage()
		require.NoError(t, store.EnsureCollection(context.Background(), domain.CollectionSpec{Name: "empty", Dimension: emb.Dimension()}))
		chat := &domaintest.Chat{Reply: "unused"}
		_, err := NewService(emb, store, chat, Options{}, nil).Answer(context.Background(), "anything")
		assert.ErrorIs(t, err, ErrNoResults)
		assert.Empty(t, chat.LastPrompt())
	})

	t.Run("Chat Failure", func(t *testing.T) {
		boom := errors.New("model not loaded")
		svc := NewService(emb, seededStore(t, emb), &domaintest.Chat{Err: boom}, Options{}, nil)
		_, err := svc.Answer(context.Background(), "capital of Germany")
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "chat", se.Stage)
		assert.ErrorIs(t, err, boom)
	})
}

func TestBuildContext(t *testing.T) {
	results := []domain.QueryResult{
		{ID: "1", Score: 0.912, Metadata: domain.Metadata{File: "a.pdf", Page: 2, ChunkText: "alpha"}},
		{ID: "2", Score: 0.5, Metadata: domain.Metadata{File: "b.pdf", Page: 0, ChunkText: "beta"}},
	}
	assert.Equal(t, "Source 1: a.pdf (page 2)\nalpha\n\nSource 2: b.pdf (page 0)\nbeta", BuildContext(results, StyleSources))
	assert.Equal(t, "From a.pdf (page 2) with similarity 0.91\nFrom b.pdf (page 0) with similarity 0.50", BuildContext(results, StyleSummary))
	assert.Empty(t, BuildContext(nil, StyleSources))
}

func TestParseStyle(t *testing.T) {
	s, err := ParseStyle("SUMMARY")
	require.NoError(t, err)
	assert.Equal(t, StyleSummary, s)
	s, err = ParseStyle("")
	require.NoError(t, err)
	assert.Equal(t, StyleSources, s)
	_, err = ParseStyle("verbose")
	assert.Error(t, err)
}
