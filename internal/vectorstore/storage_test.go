package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pdfrag/internal/domain"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name   string
		metric domain.Metric
		a, b   []float32
		want   float64
	}{
		{"cosine identical", domain.Cosine, []float32{1, 2}, []float32{2, 4}, 1},
		{"cosine orthogonal", domain.Cosine, []float32{1, 0}, []float32{0, 3}, 0},
		{"cosine zero vector", domain.Cosine, []float32{0, 0}, []float32{1, 1}, 0},
		{"dot", domain.Dot, []float32{1, 2}, []float32{3, 4}, 11},
		{"euclidean", domain.Euclidean, []float32{0, 0}, []float32{3, 4}, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.metric, tt.a, tt.b), 1e-9)
		})
	}
}

func TestDistanceFromScore(t *testing.T) {
	assert.InDelta(t, 0.25, DistanceFromScore(domain.Cosine, 0.75), 1e-9)
	assert.InDelta(t, 5, DistanceFromScore(domain.Euclidean, -5), 1e-9)
	assert.InDelta(t, -11, DistanceFromScore(domain.Dot, 11), 1e-9)
}

func TestTopK(t *testing.T) {
	results := []domain.QueryResult{
		{ID: "b", Score: 0.5},
		{ID: "c", Score: 0.9},
		{ID: "a", Score: 0.5},
		{ID: "d", Score: 0.1},
	}
	got := TopK(results, 3)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	assert.Len(t, TopK(results, 0), 4)
}

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, CheckDimension([]float32{1, 2}, 2))
	assert.ErrorIs(t, CheckDimension([]float32{1}, 2), domain.ErrDimensionMismatch)
}

func TestNextAfter(t *testing.T) {
	assert.Equal(t, uint64(8), NextAfter(0, "7"))
	assert.Equal(t, uint64(8), NextAfter(8, "7"))
	assert.Equal(t, uint64(8), NextAfter(8, "7b0c4f1e-0000-4000-8000-000000000000"))
	assert.Equal(t, uint64(3), NextAfter(3, "-1"))
}
