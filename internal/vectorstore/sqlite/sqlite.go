// Package sqlite is a local, on-disk vector store. Vectors live in a single
// SQLite database file and similarity search is a brute-force scan, which is
// adequate for a personal notes corpus.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL,
	metric    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	file       TEXT NOT NULL,
	page       INTEGER NOT NULL,
	chunk_text TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// DefaultPath is where the database lives when no path is configured.
var DefaultPath = filepath.Join("vector_db", "vectors.db")

// Storage is a vector store backed by a SQLite file.
//
// The handle can be shared by the ingestion workers: *sql.DB is safe for
// concurrent use and is capped at one connection, so SQLite never sees two
// writers racing for the lock. The mutex only guards the collection spec
// owned by this handle.
type Storage struct {
	db   *sql.DB
	path string

	mu    sync.RWMutex
	spec  domain.CollectionSpec
	ready bool
}

var _ vectorstore.Storage = (*Storage)(nil)

// NewStorage opens (creating if needed) the database at path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Storage{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Storage) Path() string { return s.path }

func (s *Storage) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	if spec.Name == "" {
		return errors.New("collection name is required")
	}
	if spec.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if spec.Metric == "" {
		spec.Metric = domain.Cosine
	}
	var (
		dim    int
		metric string
	)
	err := s.db.QueryRowContext(ctx, `SELECT dimension, metric FROM collections WHERE name = ?`, spec.Name).Scan(&dim, &metric)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := s.create(ctx, spec); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("reading collection %s: %w", spec.Name, err)
	case dim != spec.Dimension:
		return fmt.Errorf("%w: collection %q was created with dimension %d", domain.ErrDimensionMismatch, spec.Name, dim)
	default:
		spec.Metric = domain.Metric(metric)
	}
	s.mu.Lock()
	s.spec = spec
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Storage) create(ctx context.Context, spec domain.CollectionSpec) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, metric) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		spec.Name, spec.Dimension, string(spec.Metric))
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", spec.Name, err)
	}
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

// Clear drops the collection with its records and recreates it empty.
func (s *Storage) Clear(ctx context.Context) error {
	spec, err := s.collection()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, spec.Name); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, spec.Name); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, metric) VALUES (?, ?, ?)`,
		spec.Name, spec.Dimension, string(spec.Metric)); err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	return tx.Commit()
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	spec, err := s.collection()
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := vectorstore.CheckDimension(r.Embedding, spec.Dimension); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection, id, file, page, chunk_text, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			file = excluded.file,
			page = excluded.page,
			chunk_text = excluded.chunk_text,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, spec.Name, r.ID, r.Metadata.File, r.Metadata.Page, r.Metadata.ChunkText, encodeVector(r.Embedding)); err != nil {
			return fmt.Errorf("upserting %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Query(ctx context.Context, vector []float32, topK int) ([]domain.QueryResult, error) {
	spec, err := s.collection()
	if err != nil {
		return nil, err
	}
	if err := vectorstore.CheckDimension(vector, spec.Dimension); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file, page, chunk_text, embedding FROM records WHERE collection = ?`, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("scanning collection %s: %w", spec.Name, err)
	}
	defer rows.Close()

	results := make([]domain.QueryResult, 0)
	for rows.Next() {
		var (
			r    domain.QueryResult
			blob []byte
		)
		if err := rows.Scan(&r.ID, &r.File, &r.Page, &r.ChunkText, &blob); err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		emb, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.ID, err)
		}
		r.Score = vectorstore.Similarity(spec.Metric, emb, vector)
		r.Distance = vectorstore.DistanceFromScore(spec.Metric, r.Score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return vectorstore.TopK(results, topK), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	spec, err := s.collection()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, spec.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (s *Storage) NextSequence(ctx context.Context) (uint64, error) {
	spec, err := s.collection()
	if err != nil {
		return 0, err
	}
	// only all-digit ids can be sequence numbers
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM records WHERE collection = ? AND id NOT GLOB '*[^0-9]*'`, spec.Name)
	if err != nil {
		return 0, fmt.Errorf("reading record ids: %w", err)
	}
	defer rows.Close()
	var next uint64
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scanning record id: %w", err)
		}
		next = vectorstore.NextAfter(next, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating record ids: %w", err)
	}
	return next, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// encodeVector packs v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
