package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
	"pdfrag/internal/vectorstore/storetest"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectorstore.Storage { return NewStorage() })
}

func TestStorage_TiesBreakByID(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.EnsureCollection(ctx, domain.CollectionSpec{Name: "t", Dimension: 2}))
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Upsert(ctx, []domain.Record{{ID: id, Embedding: []float32{1, 1}}}))
	}
	for i := 0; i < 5; i++ {
		results, err := s.Query(ctx, []float32{1, 1}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "b", results[1].ID)
	}
}

func TestStorage_StoresACopy(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.EnsureCollection(ctx, domain.CollectionSpec{Name: "t", Dimension: 2}))
	vec := []float32{1, 0}
	require.NoError(t, s.Upsert(ctx, []domain.Record{{ID: "a", Embedding: vec}}))
	vec[0], vec[1] = 0, 1

	results, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}
