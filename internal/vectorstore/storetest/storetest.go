// Package storetest checks the behaviour every vectorstore.Storage shares.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

func record(id string, page int, vec ...float32) domain.Record {
	return domain.Record{
		ID:        id,
		Embedding: vec,
		Metadata:  domain.Metadata{File: "notes.pdf", Page: page, ChunkText: "chunk " + id},
	}
}

// Run exercises a fresh store returned by open. open is called once per
// subtest.
func Run(t *testing.T, open func(t *testing.T) vectorstore.Storage) {
	ctx := context.Background()
	spec := domain.CollectionSpec{Name: "test", Dimension: 3, Metric: domain.Cosine}

	t.Run("Requires Collection", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t, s.Upsert(ctx, []domain.Record{record("a", 0, 1, 0, 0)}), domain.ErrNoCollection)
		_, err := s.Query(ctx, []float32{1, 0, 0}, 1)
		assert.ErrorIs(t, err, domain.ErrNoCollection)
		_, err = s.Count(ctx)
		assert.ErrorIs(t, err, domain.ErrNoCollection)
	})

	t.Run("Upsert Then Query", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, spec))
		require.NoError(t, s.EnsureCollection(ctx, spec))
		require.NoError(t, s.Upsert(ctx, []domain.Record{
			record("x", 0, 1, 0, 0),
			record("y", 1, 0, 1, 0),
			record("z", 2, 0.7, 0.7, 0),
		}))

		results, err := s.Query(ctx, []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "x", results[0].ID)
		assert.Equal(t, "notes.pdf", results[0].File)
		assert.Equal(t, 0, results[0].Page)
		assert.Equal(t, "chunk x", results[0].ChunkText)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
		assert.Equal(t, "z", results[1].ID)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	})

	t.Run("Fewer Records Than TopK", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, spec))
		require.NoError(t, s.Upsert(ctx, []domain.Record{record("only", 0, 0, 0, 1)}))
		results, err := s.Query(ctx, []float32{0, 0, 1}, 10)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("Upsert Overwrites By ID", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, spec))
		require.NoError(t, s.Upsert(ctx, []domain.Record{record("a", 0, 1, 0, 0)}))
		require.NoError(t, s.Upsert(ctx, []domain.Record{record("a", 5, 0, 1, 0)}))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		results, err := s.Query(ctx, []float32{0, 1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 5, results[0].Page)
	})

	t.Run("Clear Then Query Is Empty", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, spec))
		require.NoError(t, s.Upsert(ctx, []domain.Record{record("a", 0, 1, 0, 0), record("b", 0, 0, 1, 0)}))
		require.NoError(t, s.Clear(ctx))
		results, err := s.Query(ctx, []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Next Sequence Follows Largest ID", func(t *testing.T) {
		s := open(t)
		_, err := s.NextSequence(ctx)
		assert.ErrorIs(t, err, domain.ErrNoCollection)
		require.NoError(t, s.EnsureCollection(ctx, spec))
		next, err := s.NextSequence(ctx)
		require.NoError(t, err)
		assert.Zero(t, next)

		require.NoError(t, s.Upsert(ctx, []domain.Record{
			record("0", 0, 1, 0, 0),
			record("9", 0, 0, 1, 0),
			record("1b4e28ba-2fa1-11d2-883f-0016d3cca427", 0, 0, 0, 1),
		}))
		next, err = s.NextSequence(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), next)
	})

	t.Run("Collections Are Separate", func(t *testing.T) {
		s := open(t)
		other := domain.CollectionSpec{Name: "other", Dimension: 3, Metric: domain.Cosine}
		require.NoError(t, s.EnsureCollection(ctx, spec))
		require.NoError(t, s.Upsert(ctx, []domain.Record{record("a", 0, 1, 0, 0)}))

		require.NoError(t, s.EnsureCollection(ctx, other))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		results, err := s.Query(ctx, []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)

		require.NoError(t, s.EnsureCollection(ctx, spec))
		n, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Dimension Mismatch", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, spec))
		assert.ErrorIs(t, s.Upsert(ctx, []domain.Record{record("a", 0, 1, 0)}), domain.ErrDimensionMismatch)
		_, err := s.Query(ctx, []float32{1, 0, 0, 0}, 1)
		assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	})

	t.Run("Concurrent Upserts", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.EnsureCollection(ctx, spec))
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					assert.NoError(t, s.Upsert(ctx, []domain.Record{record(fmt.Sprintf("%d-%d", w, i), i, 1, float32(i), 0)}))
				}
			}(w)
		}
		wg.Wait()
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 40, n)
	})
}
