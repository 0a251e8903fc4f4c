package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

type collection struct {
	spec    domain.CollectionSpec
	records map[string]domain.Record
}

// Storage is a simple in-memory vector store using brute-force similarity.
// It keeps one record set per collection name; EnsureCollection selects the
// collection the other operations act on. It is safe for concurrent use.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
	current     *collection
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage() *Storage { return &Storage{collections: make(map[string]*collection)} }

func (s *Storage) EnsureCollection(_ context.Context, spec domain.CollectionSpec) error {
	if spec.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if spec.Metric == "" {
		spec.Metric = domain.Cosine
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[spec.Name]
	switch {
	case !ok:
		c = &collection{spec: spec, records: make(map[string]domain.Record)}
		s.collections[spec.Name] = c
	case len(c.records) == 0:
		c.spec = spec
	case c.spec.Dimension != spec.Dimension:
		return fmt.Errorf("%w: collection %q holds %d-dim vectors", domain.ErrDimensionMismatch, spec.Name, c.spec.Dimension)
	}
	s.current = c
	return nil
}

// active returns the selected collection. Callers hold s.mu.
func (s *Storage) active() (*collection, error) {
	if s.current == nil {
		return nil, domain.ErrNoCollection
	}
	return s.current, nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.active()
	if err != nil {
		return err
	}
	c.records = make(map[string]domain.Record)
	return nil
}

func (s *Storage) Upsert(_ context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.active()
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := vectorstore.CheckDimension(r.Embedding, c.spec.Dimension); err != nil {
			return err
		}
	}
	for _, r := range records {
		vec := make([]float32, len(r.Embedding))
		copy(vec, r.Embedding)
		r.Embedding = vec
		c.records[r.ID] = r
	}
	return nil
}

func (s *Storage) Query(_ context.Context, vector []float32, topK int) ([]domain.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.active()
	if err != nil {
		return nil, err
	}
	if err := vectorstore.CheckDimension(vector, c.spec.Dimension); err != nil {
		return nil, err
	}
	results := make([]domain.QueryResult, 0, len(c.records))
	for id, r := range c.records {
		score := vectorstore.Similarity(c.spec.Metric, r.Embedding, vector)
		results = append(results, domain.QueryResult{
			ID:       id,
			Score:    score,
			Distance: vectorstore.DistanceFromScore(c.spec.Metric, score),
			Metadata: r.Metadata,
		})
	}
	return vectorstore.TopK(results, topK), nil
}

func (s *Storage) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.active()
	if err != nil {
		return 0, err
	}
	return len(c.records), nil
}

func (s *Storage) NextSequence(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.active()
	if err != nil {
		return 0, err
	}
	var next uint64
	for id := range c.records {
		next = vectorstore.NextAfter(next, id)
	}
	return next, nil
}

func (s *Storage) Close() error { return nil }
