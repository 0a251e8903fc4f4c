package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pdfrag/internal/app"
	"pdfrag/internal/domain"
	"pdfrag/internal/ingest"
	"pdfrag/internal/retrieval"
)

var (
	ingestReset   bool
	ingestWorkers int
	ingestStore   string
	ingestProbe   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Index the PDF files of a directory",
	Long: `Extracts every .pdf file directly inside dir (default: ingest.dir from
the config), chunks each page and stores the chunk embeddings. The
collection is cleared first unless --reset=false is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", true, "clear the collection before ingesting")
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "concurrent embedding workers (default from config)")
	ingestCmd.Flags().StringVar(&ingestStore, "store", "", "vector store: memory, sqlite, qdrant or milvus")
	ingestCmd.Flags().StringVar(&ingestProbe, "probe", "", "run this query against the store after ingesting")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := cfg.Ingest.Dir
	if len(args) == 1 {
		dir = args[0]
	}
	if cmd.Flags().Changed("reset") {
		cfg.Ingest.Reset = ingestReset
	}
	if ingestWorkers > 0 {
		cfg.Ingest.Workers = ingestWorkers
	}
	if ingestStore != "" {
		cfg.VectorStore.Type = ingestStore
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	p, err := a.Pipeline(func(r ingest.FileResult) {
		if r.Err != nil {
			fmt.Fprintf(out, " -----> Skipped %s (%s: %v)\n", r.File, r.Err.Stage, r.Err.Err)
			return
		}
		fmt.Fprintf(out, " -----> Processed %s (%d chunks)\n", r.File, r.Chunks)
	})
	if err != nil {
		return err
	}
	report, err := p.Run(ctx, dir)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	fmt.Fprintln(out, "\n---Done processing PDFs---")
	fmt.Fprintf(out, "%d files, %d chunks, %d failed in %s\n",
		report.Files, report.Chunks, len(report.Failed), report.Elapsed.Round(time.Millisecond))

	if ingestProbe != "" {
		svc := retrieval.NewService(a.Embedder, a.Store, nil, retrieval.Options{TopK: cfg.Search.TopK}, logger)
		results, err := svc.Search(ctx, ingestProbe)
		if err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}
		printProbe(out, ingestProbe, results)
	}
	return nil
}

func printProbe(out io.Writer, query string, results []domain.QueryResult) {
	fmt.Fprintf(out, "\nQuery: %s\n\n", query)
	for _, r := range results {
		fmt.Fprintf(out, "ID: %s, Score: %.4f\n", r.ID, r.Score)
		fmt.Fprintf(out, "File: %s, Page: %d\n", r.File, r.Page)
		fmt.Fprintf(out, "Chunk: %s...\n\n", preview(r.ChunkText, 100))
	}
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
