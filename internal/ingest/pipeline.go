// Package ingest turns a directory of PDFs into records in a vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pdfrag/internal/chunker"
	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 16
)

// Extractor reads the pages of a PDF.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]domain.Page, error)
}

// FileError records why one file was skipped.
type FileError struct {
	File  string
	Stage string // extract, chunk, embed or upsert
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.File, e.Stage, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// FileResult is reported once per PDF.
type FileResult struct {
	File   string
	Chunks int
	Err    *FileError
}

// Report summarises a run.
type Report struct {
	Files   int
	Chunks  int
	Failed  []*FileError
	Elapsed time.Duration
}

type Options struct {
	Collection domain.CollectionSpec
	ChunkSize  int
	Overlap    int
	IDScheme   string
	Reset      bool // clear the collection before ingesting
	Workers    int
	QueueDepth int
	Progress   func(FileResult)
}

// Pipeline extracts, chunks, embeds and stores PDFs. Embedding and upserts
// run on a bounded pool of workers; the store handle is shared by them.
type Pipeline struct {
	extractor Extractor
	embedder  domain.Embedder
	store     vectorstore.Storage
	opts      Options
	log       logrus.FieldLogger
}

func NewPipeline(extractor Extractor, embedder domain.Embedder, store vectorstore.Storage, opts Options, log logrus.FieldLogger) (*Pipeline, error) {
	if opts.ChunkSize == 0 && opts.Overlap == 0 {
		opts.ChunkSize, opts.Overlap = chunker.DefaultChunkSize, chunker.DefaultOverlap
	}
	if err := chunker.Validate(opts.ChunkSize, opts.Overlap); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.IDScheme == "" {
		opts.IDScheme = chunker.SchemeContent
	}
	if opts.Collection.Dimension == 0 {
		opts.Collection.Dimension = embedder.Dimension()
	}
	if opts.Collection.Dimension != embedder.Dimension() {
		return nil, fmt.Errorf("%w: collection wants %d, embedder %s produces %d",
			domain.ErrDimensionMismatch, opts.Collection.Dimension, embedder.Name(), embedder.Dimension())
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{extractor: extractor, embedder: embedder, store: store, opts: opts, log: log}, nil
}

// Run ingests every .pdf directly inside dir. A file that fails is recorded
// in the report and skipped; configuration errors and cancellation stop the
// run.
func (p *Pipeline) Run(ctx context.Context, dir string) (Report, error) {
	start := time.Now()
	var report Report

	if err := p.prepare(ctx); err != nil {
		return report, err
	}
	ids, err := p.idScheme(ctx)
	if err != nil {
		return report, err
	}
	chk, err := chunker.NewWordChunker(p.opts.ChunkSize, p.opts.Overlap, ids)
	if err != nil {
		return report, err
	}

	files, err := ListPDFs(dir)
	if err != nil {
		return report, err
	}
	p.log.WithFields(logrus.Fields{"dir": dir, "files": len(files)}).Info("ingesting PDFs")

	for _, path := range files {
		name := filepath.Base(path)
		n, err := p.ingestFile(ctx, chk, path)
		report.Files++
		report.Chunks += n
		res := FileResult{File: name, Chunks: n}
		if err != nil {
			if fatal(ctx, err) {
				report.Elapsed = time.Since(start)
				return report, err
			}
			var fe *FileError
			if !errors.As(err, &fe) {
				fe = &FileError{File: name, Stage: "ingest", Err: err}
			}
			report.Failed = append(report.Failed, fe)
			res.Err = fe
			p.log.WithError(fe.Err).WithFields(logrus.Fields{"file": name, "stage": fe.Stage}).Warn("skipping file")
		} else {
			p.log.WithFields(logrus.Fields{"file": name, "chunks": n}).Info("processed file")
		}
		if p.opts.Progress != nil {
			p.opts.Progress(res)
		}
	}
	report.Elapsed = time.Since(start)
	return report, nil
}

func (p *Pipeline) prepare(ctx context.Context) error {
	if err := p.store.EnsureCollection(ctx, p.opts.Collection); err != nil {
		return fmt.Errorf("preparing collection %s: %w", p.opts.Collection.Name, err)
	}
	if !p.opts.Reset {
		return nil
	}
	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing collection %s: %w", p.opts.Collection.Name, err)
	}
	p.log.WithField("collection", p.opts.Collection.Name).Info("collection cleared")
	return nil
}

// idScheme returns the chunk ID generator for this run. Sequential IDs
// continue after the largest ID already stored; a file that failed part-way
// leaves gaps, so the record count is not a safe seed.
func (p *Pipeline) idScheme(ctx context.Context) (chunker.IDScheme, error) {
	switch p.opts.IDScheme {
	case chunker.SchemeContent:
		return chunker.ContentIDs{}, nil
	case chunker.SchemeSequential:
		next, err := p.store.NextSequence(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading last sequence id: %w", err)
		}
		return chunker.NewSequence(next), nil
	}
	return nil, fmt.Errorf("unknown id scheme %q", p.opts.IDScheme)
}

// ingestFile returns the number of chunks stored for path.
func (p *Pipeline) ingestFile(ctx context.Context, chk *chunker.WordChunker, path string) (int, error) {
	name := filepath.Base(path)
	pages, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return 0, &FileError{File: name, Stage: "extract", Err: err}
	}

	// IDs are assigned here, before the pool, so sequential IDs follow
	// file, page and chunk order whatever the worker interleaving.
	var chunks []domain.Chunk
	for _, page := range pages {
		cs, err := chk.Chunk(name, page)
		if err != nil {
			return 0, &FileError{File: name, Stage: "chunk", Err: err}
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	var stored atomic.Int64
	jobs := make(chan domain.Chunk, p.opts.QueueDepth)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, ch := range chunks {
			select {
			case jobs <- ch:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for i := 0; i < min(p.opts.Workers, len(chunks)); i++ {
		g.Go(func() error {
			for ch := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := p.storeChunk(gctx, ch); err != nil {
					return err
				}
				stored.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var fe *FileError
		if errors.As(err, &fe) {
			fe.File = name
			return int(stored.Load()), fe
		}
		return int(stored.Load()), err
	}
	return int(stored.Load()), nil
}

// storeChunk embeds and upserts a single chunk.
func (p *Pipeline) storeChunk(ctx context.Context, ch domain.Chunk) error {
	vec, err := p.embedder.Embed(ctx, ch.Text)
	if err != nil {
		return &FileError{Stage: "embed", Err: err}
	}
	rec := domain.Record{
		ID:        ch.ID,
		Embedding: vec,
		Metadata:  domain.Metadata{File: ch.File, Page: ch.Page, ChunkText: ch.Text},
	}
	if err := p.store.Upsert(ctx, []domain.Record{rec}); err != nil {
		return &FileError{Stage: "upsert", Err: err}
	}
	p.log.WithFields(logrus.Fields{"file": ch.File, "page": ch.Page, "chunk": ch.Index}).Debug("stored chunk")
	return nil
}

// fatal reports whether err must stop the whole run rather than one file.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, domain.ErrDimensionMismatch) ||
		errors.Is(err, domain.ErrNoCollection)
}

// ListPDFs returns the regular files in dir with a .pdf extension, any case,
// in directory order. Sub-directories are not descended into.
func ListPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
