package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pdfrag/internal/domain"
	"pdfrag/internal/resilience"
	"pdfrag/internal/vectorstore"
)

const scrollPage = 256

// Storage is a minimal REST client to Qdrant.
// The underlying http.Client is safe for concurrent use; the mutex guards
// the collection spec owned by the handle.
type Storage struct {
	url    string
	apiKey string
	client *http.Client
	log    logrus.FieldLogger

	mu    sync.RWMutex
	spec  domain.CollectionSpec
	ready bool
}

var _ vectorstore.Storage = (*Storage)(nil)

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// StatusError is a non-2xx answer from Qdrant.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.Method, e.URL, e.Code, strings.TrimSpace(e.Body))
}

// ErrMetricMismatch is returned when an existing collection was created
// with a different distance than the configured metric.
var ErrMetricMismatch = errors.New("distance metric mismatch")

var pointNamespace = uuid.MustParse("6f0d5c55-3c1e-4b8a-9a4e-3f1f2b7c9d10")

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Storage{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (s *Storage) collectionURL(name string) string {
	return fmt.Sprintf("%s/collections/%s", s.url, name)
}

func (s *Storage) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	if spec.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if spec.Metric == "" {
		spec.Metric = domain.Cosine
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(spec.Name), nil, &info)
	var se *StatusError
	switch {
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		if err := s.create(ctx, spec); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		vectors := info.Result.Config.Params.Vectors
		if vectors.Size != 0 && vectors.Size != spec.Dimension {
			return fmt.Errorf("%w: collection %q has size %d", domain.ErrDimensionMismatch, spec.Name, vectors.Size)
		}
		if vectors.Distance != "" && !strings.EqualFold(vectors.Distance, distanceName(spec.Metric)) {
			return fmt.Errorf("%w: collection %q uses %s distance, configured metric is %s",
				ErrMetricMismatch, spec.Name, vectors.Distance, spec.Metric)
		}
	}
	s.mu.Lock()
	s.spec = spec
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Storage) create(ctx context.Context, spec domain.CollectionSpec) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     spec.Dimension,
			"distance": distanceName(spec.Metric),
		},
	}
	err := s.do(ctx, http.MethodPut, s.collectionURL(spec.Name), body, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		// created concurrently by another process
		return nil
	}
	if err == nil {
		s.log.WithField("collection", spec.Name).Info("qdrant collection created")
	}
	return err
}

func (s *Storage) collection() (domain.CollectionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return domain.CollectionSpec{}, domain.ErrNoCollection
	}
	return s.spec, nil
}

// Clear drops the collection and recreates it. A missing collection is not
// an error.
func (s *Storage) Clear(ctx context.Context) error {
	spec, err := s.collection()
	if err != nil {
		return err
	}
	err = s.do(ctx, http.MethodDelete, s.collectionURL(spec.Name), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		s.log.WithField("collection", spec.Name).Debug("collection did not exist")
		err = nil
	}
	if err != nil {
		return err
	}
	return s.create(ctx, spec)
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	spec, err := s.collection()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		if err := vectorstore.CheckDimension(r.Embedding, spec.Dimension); err != nil {
			return err
		}
		points[i] = map[string]any{
			"id":     PointID(r.ID),
			"vector": r.Embedding,
			"payload": map[string]any{
				"chunk_id": r.ID,
				"file":     r.Metadata.File,
				"page":     r.Metadata.Page,
				"chunk":    r.Metadata.ChunkText,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, s.collectionURL(spec.Name)+"/points?wait=true", body, nil)
}

func (s *Storage) Query(ctx context.Context, vector []float32, topK int) ([]domain.QueryResult, error) {
	spec, err := s.collection()
	if err != nil {
		return nil, err
	}
	if err := vectorstore.CheckDimension(vector, spec.Dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL(spec.Name)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.QueryResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := r.Payload.ChunkID
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		res := domain.QueryResult{
			ID: id,
			Metadata: domain.Metadata{
				File:      r.Payload.File,
				Page:      r.Payload.Page.Int(),
				ChunkText: r.Payload.Chunk,
			},
		}
		if spec.Metric == domain.Euclidean {
			// Qdrant reports the euclidean distance itself as the score.
			res.Distance = r.Score
			res.Score = -r.Score
		} else {
			res.Score = r.Score
			res.Distance = vectorstore.DistanceFromScore(spec.Metric, r.Score)
		}
		results = append(results, res)
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	spec, err := s.collection()
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL(spec.Name)+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// NextSequence scrolls through the stored chunk ids.
func (s *Storage) NextSequence(ctx context.Context) (uint64, error) {
	spec, err := s.collection()
	if err != nil {
		return 0, err
	}
	var (
		next   uint64
		offset any
	)
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": []string{"chunk_id"},
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					ID      any     `json:"id"`
					Payload payload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.do(ctx, http.MethodPost, s.collectionURL(spec.Name)+"/points/scroll", req, &resp); err != nil {
			return 0, err
		}
		for _, p := range resp.Result.Points {
			id := p.Payload.ChunkID
			if id == "" {
				id = fmt.Sprint(p.ID)
			}
			next = vectorstore.NextAfter(next, id)
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			return next, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// PointID maps a chunk ID onto the id space Qdrant accepts: a UUID or an
// unsigned integer. Anything else is hashed into a name-based UUID.
func PointID(id string) any {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

type payload struct {
	ChunkID string `json:"chunk_id"`
	File    string `json:"file"`
	Page    page   `json:"page"`
	Chunk   string `json:"chunk"`
}

// page accepts both numeric pages and the string pages written by older
// ingestion runs.
type page string

func (p *page) UnmarshalJSON(b []byte) error {
	*p = page(strings.Trim(string(b), `"`))
	return nil
}

func (p page) Int() int {
	n, _ := strconv.Atoi(string(p))
	return n
}

func distanceName(m domain.Metric) string {
	switch m {
	case domain.Dot:
		return "Dot"
	case domain.Euclidean:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding qdrant request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return resilience.Retryable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: string(msg)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return resilience.Retryable(serr)
		}
		return serr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
