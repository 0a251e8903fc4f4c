package milvus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/sirupsen/logrus"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

const (
	FieldID        = "id"
	FieldFile      = "file"
	FieldPage      = "page"
	FieldChunkText = "chunk_text"
	FieldEmbedding = "embedding"

	maxIDLength    = 128
	maxFileLength  = 1024
	maxChunkLength = 65535
	iteratorBatch  = 1000
)

type Config struct {
	Address string
	Logger  logrus.FieldLogger
}

// Storage adapts a Milvus collection to vectorstore.Storage.
// client.Client multiplexes a gRPC connection and is safe for concurrent
// use; the mutex guards the collection spec owned by the handle.
type Storage struct {
	client client.Client
	log    logrus.FieldLogger

	mu    sync.RWMutex
	spec  domain.CollectionSpec
	ready bool
}

var _ vectorstore.Storage = (*Storage)(nil)

// NewStorage connects to Milvus at cfg.Address.
func NewStorage(ctx context.Context, cfg Config) (*Storage, error) {
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
	if err != nil {
		return nil, fmt.Errorf("connecting to milvus at %s: %w", cfg.Address, err)
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Storage{client: c, log: log}, nil
}

func (s *Storage) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	if spec.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if spec.Metric == "" {
		spec.Metric = domain.Cosine
	}
	has, err := s.client.HasCollection(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("checking milvus collection %s: %w", spec.Name, err)
	}
	if has {
		if err := s.checkDimension(ctx, spec); err != nil {
			return err
		}
	} else if err := s.create(ctx, spec); err != nil {
		return err
	}
	if err := s.client.LoadCollection(ctx, spec.Name, false); err != nil {
		return fmt.Errorf("loading milvus collection %s: %w", spec.Name, err)
	}
	s.mu.Lock()
	s.spec = spec
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Storage) checkDimension(ctx context.Context, spec domain.CollectionSpec) error {
	coll, err := s.client.DescribeCollection(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("describing milvus collection %s: %w", spec.Name, err)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != FieldEmbedding {
			continue
		}
		if dim := f.TypeParams[entity.TypeParamDim]; dim != fmt.Sprint(spec.Dimension) {
			return fmt.Errorf("%w: collection %q has dim %s", domain.ErrDimensionMismatch, spec.Name, dim)
		}
	}
	return nil
}

func (s *Storage) create(ctx context.Context, spec domain.CollectionSpec) error {
	schema := entity.NewSchema().
		WithName(spec.Name).
		WithDescription("pdf chunk embeddings").
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(maxIDLength)).
		WithField(entity.NewField().WithName(FieldFile).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxFileLength)).
		WithField(entity.NewField().WithName(FieldPage).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldChunkText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxChunkLength)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(spec.Dimension)))

	if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("creating milvus collection %s: %w", spec.Name, err)
	}
	idx, err := entity.NewIndexFlat(metricType(spec.Metric))
	if err != nil {
		return fmt.Errorf("building index params: %w", err)
	}
	if err := s.client.CreateIndex(ctx, spec.Name, FieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("creating milvus index on %s: %w", spec.Name, err)
	}
	s.log.WithField("collection", spec.Name).Info("milvus collection created")
	return nil
}

func (s *Storage) collection() (domain.CollectionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return domain.CollectionSpec{}, domain.ErrNoCollection
	}
	return s.spec, nil
}

// Clear drops the collection, tolerating its absence, and recreates it.
func (s *Storage) Clear(ctx context.Context) error {
	spec, err := s.collection()
	if err != nil {
		return err
	}
	has, err := s.client.HasCollection(ctx, spec.Name)
	if err != nil {
		return fmt.Errorf("checking milvus collection %s: %w", spec.Name, err)
	}
	if has {
		if err := s.client.DropCollection(ctx, spec.Name); err != nil {
			return fmt.Errorf("dropping milvus collection %s: %w", spec.Name, err)
		}
	}
	if err := s.create(ctx, spec); err != nil {
		return err
	}
	return s.client.LoadCollection(ctx, spec.Name, false)
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	spec, err := s.collection()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	files := make([]string, len(records))
	pages := make([]int64, len(records))
	texts := make([]string, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		if err := vectorstore.CheckDimension(r.Embedding, spec.Dimension); err != nil {
			return err
		}
		ids[i] = r.ID
		files[i] = r.Metadata.File
		pages[i] = int64(r.Metadata.Page)
		texts[i] = truncate(r.Metadata.ChunkText, maxChunkLength)
		vectors[i] = r.Embedding
	}
	_, err = s.client.Upsert(ctx, spec.Name, "",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnVarChar(FieldFile, files),
		entity.NewColumnInt64(FieldPage, pages),
		entity.NewColumnVarChar(FieldChunkText, texts),
		entity.NewColumnFloatVector(FieldEmbedding, spec.Dimension, vectors),
	)
	if err != nil {
		return fmt.Errorf("upserting into milvus: %w", err)
	}
	return s.client.Flush(ctx, spec.Name, false)
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
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(ctx, spec.Name, nil, "",
		[]string{FieldFile, FieldPage, FieldChunkText},
		[]entity.Vector{entity.FloatVector(vector)},
		FieldEmbedding, metricType(spec.Metric), topK, sp)
	if err != nil {
		return nil, fmt.Errorf("searching milvus: %w", err)
	}
	results := make([]domain.QueryResult, 0, topK)
	for _, r := range res {
		if r.Err != nil {
			return nil, fmt.Errorf("searching milvus: %w", r.Err)
		}
		ids, ok := r.IDs.(*entity.ColumnVarChar)
		if !ok {
			return nil, fmt.Errorf("unexpected milvus id column %T", r.IDs)
		}
		files, _ := r.Fields.GetColumn(FieldFile).(*entity.ColumnVarChar)
		pages, _ := r.Fields.GetColumn(FieldPage).(*entity.ColumnInt64)
		texts, _ := r.Fields.GetColumn(FieldChunkText).(*entity.ColumnVarChar)
		for i := 0; i < r.ResultCount; i++ {
			qr := domain.QueryResult{ID: ids.Data()[i], Score: float64(r.Scores[i])}
			if spec.Metric == domain.Euclidean {
				// L2 scores are distances.
				qr.Distance = qr.Score
				qr.Score = -qr.Score
			} else {
				qr.Distance = vectorstore.DistanceFromScore(spec.Metric, qr.Score)
			}
			if files != nil {
				qr.File = files.Data()[i]
			}
			if pages != nil {
				qr.Page = int(pages.Data()[i])
			}
			if texts != nil {
				qr.ChunkText = texts.Data()[i]
			}
			results = append(results, qr)
		}
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
	rs, err := s.client.Query(ctx, spec.Name, nil, "", []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("counting milvus records: %w", err)
	}
	col, ok := rs.GetColumn("count(*)").(*entity.ColumnInt64)
	if !ok || col.Len() == 0 {
		return 0, errors.New("milvus count returned no rows")
	}
	return int(col.Data()[0]), nil
}

// NextSequence walks the primary keys with a query iterator.
func (s *Storage) NextSequence(ctx context.Context) (uint64, error) {
	spec, err := s.collection()
	if err != nil {
		return 0, err
	}
	it, err := s.client.QueryIterator(ctx, client.NewQueryIteratorOption(spec.Name).
		WithOutputFields(FieldID).
		WithBatchSize(iteratorBatch))
	if err != nil {
		return 0, fmt.Errorf("iterating milvus ids: %w", err)
	}
	var next uint64
	for {
		rs, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return next, nil
		}
		if err != nil {
			return 0, fmt.Errorf("iterating milvus ids: %w", err)
		}
		ids, ok := rs.GetColumn(FieldID).(*entity.ColumnVarChar)
		if !ok {
			return 0, fmt.Errorf("unexpected milvus id column %T", rs.GetColumn(FieldID))
		}
		for _, id := range ids.Data() {
			next = vectorstore.NextAfter(next, id)
		}
	}
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func metricType(m domain.Metric) entity.MetricType {
	switch m {
	case domain.Dot:
		return entity.IP
	case domain.Euclidean:
		return entity.L2
	default:
		return entity.COSINE
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
