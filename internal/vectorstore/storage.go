package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"pdfrag/internal/domain"
)

// Storage persists vectors and supports nearest-neighbour search.
//
// EnsureCollection must be called before any other operation; it is
// idempotent. Clear drops and recreates the collection the handle owns and
// tolerates a collection that does not exist. Query never returns more than
// topK results and returns an empty slice for an empty collection.
type Storage interface {
	EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error
	Clear(ctx context.Context) error
	Upsert(ctx context.Context, records []domain.Record) error
	Query(ctx context.Context, vector []float32, topK int) ([]domain.QueryResult, error)
	Count(ctx context.Context) (int, error)
	// NextSequence returns one past the largest decimal record ID, or 0 when
	// no stored ID is a decimal number.
	NextSequence(ctx context.Context) (uint64, error)
	Close() error
}

// DefaultTopK is used when a caller passes a non-positive topK.
const DefaultTopK = 5

// NextAfter returns id+1 when id is a decimal sequence number larger than or
// equal to next, and next otherwise.
func NextAfter(next uint64, id string) uint64 {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n < next {
		return next
	}
	return n + 1
}

// CheckDimension reports ErrDimensionMismatch when v does not have dim entries.
func CheckDimension(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

// Similarity scores a against b under metric. Higher is always closer.
func Similarity(metric domain.Metric, a, b []float32) float64 {
	switch metric {
	case domain.Dot:
		return dot(a, b)
	case domain.Euclidean:
		return -euclid(a, b)
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

// DistanceFromScore converts a similarity produced by Similarity into the
// metric's distance, where lower is closer.
func DistanceFromScore(metric domain.Metric, score float64) float64 {
	switch metric {
	case domain.Euclidean:
		return -score
	case domain.Dot:
		return -score
	default:
		return 1 - score
	}
}

// TopK sorts results by descending score, ties broken by ID, and truncates
// to k.
func TopK(results []domain.QueryResult, k int) []domain.QueryResult {
	if k <= 0 {
		k = DefaultTopK
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(a []float32) float64 {
	return math.Sqrt(dot(a, a))
}

func euclid(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
