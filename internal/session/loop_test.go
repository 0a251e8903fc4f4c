package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
	"pdfrag/internal/domain/domaintest"
	"pdfrag/internal/embedding/hashing"
	"pdfrag/internal/logging"
	"pdfrag/internal/retrieval"
	"pdfrag/internal/vectorstore/memory"
)

func newService(t *testing.T, emb domain.Embedder, chat domain.ChatModel) *retrieval.Service {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStorage()
	require.NoError(t, store.EnsureCollection(ctx, domain.CollectionSpec{Name: "s", Dimension: emb.Dimension()}))
	vec, err := hashing.NewEmbedder(emb.Dimension()).Embed(ctx, "Paris is the capital of France.")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, []domain.Record{{
		ID: "1", Embedding: vec,
		Metadata: domain.Metadata{File: "capitals.pdf", Page: 0, ChunkText: "Paris is the capital of France."},
	}}))
	return retrieval.NewService(emb, store, chat, retrieval.Options{}, logging.Discard())
}

func TestLoopRun(t *testing.T) {
	t.Run("Failure Then Recovery", func(t *testing.T) {
		real := hashing.NewEmbedder(hashing.DefaultDimension)
		var calls atomic.Int32
		emb := &domaintest.Embedder{Dim: real.Dimension(), Fn: func(text string) ([]float32, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("embedding service unavailable")
			}
			return real.Embed(context.Background(), text)
		}}
		chat := &domaintest.Chat{Reply: "Paris."}
		loop := NewLoop(newService(t, emb, chat), Options{}, logging.Discard())

		var out bytes.Buffer
		in := strings.NewReader("capital of France\n\ncapital of France\nEXIT\nnever asked\n")
		require.NoError(t, loop.Run(context.Background(), in, &out))

		got := out.String()
		assert.Contains(t, got, "Type 'exit' to quit")
		assert.Contains(t, got, "Error: embed: embedding service unavailable")
		assert.Contains(t, got, "--- Response ---\nParis.")
		assert.Contains(t, got, "capitals.pdf (page 0)")
		assert.NotContains(t, got, "never asked")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("No Results", func(t *testing.T) {
		ctx := context.Background()
		emb := hashing.NewEmbedder(8)
		store := memory.NewStorage()
		require.NoError(t, store.EnsureCollection(ctx, domain.CollectionSpec{Name: "empty", Dimension: 8}))
		svc := retrieval.NewService(emb, store, &domaintest.Chat{}, retrieval.Options{}, nil)

		var out bytes.Buffer
		require.NoError(t, NewLoop(svc, Options{}, logging.Discard()).Run(ctx, strings.NewReader("anything\n"), &out))
		assert.Contains(t, out.String(), "No relevant results found.")
	})

	t.Run("Show Context", func(t *testing.T) {
		emb := hashing.NewEmbedder(hashing.DefaultDimension)
		loop := NewLoop(newService(t, emb, &domaintest.Chat{Reply: "ok"}), Options{ShowContext: true}, logging.Discard())
		var out bytes.Buffer
		require.NoError(t, loop.Run(context.Background(), strings.NewReader("France\n"), &out))
		assert.Contains(t, out.String(), "Context being sent to LLM:")
		assert.Contains(t, out.String(), "Source 1: capitals.pdf (page 0)")
	})

	t.Run("EOF Ends Loop", func(t *testing.T) {
		loop := NewLoop(newService(t, hashing.NewEmbedder(hashing.DefaultDimension), &domaintest.Chat{}), Options{}, logging.Discard())
		assert.NoError(t, loop.Run(context.Background(), strings.NewReader(""), io.Discard))
	})

	t.Run("Cancellation Without Input", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		loop := NewLoop(newService(t, hashing.NewEmbedder(hashing.DefaultDimension), &domaintest.Chat{}), Options{}, logging.Discard())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx, pr, io.Discard) }()
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop after cancellation")
		}
	})
}
