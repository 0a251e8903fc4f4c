package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pdfrag/internal/app"
	"pdfrag/internal/session"
	"pdfrag/internal/tui"
)

var (
	searchPlain       bool
	searchTopK        int
	searchStyle       string
	searchStore       string
	searchShowContext bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Ask questions interactively",
	Long: `Starts an interactive session. Each question is embedded, the closest
chunks are fetched from the vector store and the chat model answers from
them. A terminal UI is used when stdin is a terminal; type 'exit' to quit.`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchPlain, "plain", false, "use the line-based prompt instead of the terminal UI")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	searchCmd.Flags().StringVar(&searchStyle, "style", "", "context style: sources or summary")
	searchCmd.Flags().StringVar(&searchStore, "store", "", "vector store: memory, sqlite, qdrant or milvus")
	searchCmd.Flags().BoolVar(&searchShowContext, "show-context", false, "print the context sent to the model")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if searchTopK > 0 {
		cfg.Search.TopK = searchTopK
	}
	if searchStyle != "" {
		cfg.Search.ContextStyle = searchStyle
	}
	if searchStore != "" {
		cfg.VectorStore.Type = searchStore
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	svc, err := a.Retrieval(ctx)
	if err != nil {
		return err
	}

	if searchPlain || !isTerminal(cmd) {
		loop := session.NewLoop(svc, session.Options{
			Banner:      fmt.Sprintf("RAG Search Interface (%s)", cfg.VectorStore.Type),
			ShowContext: searchShowContext,
		}, logger)
		err := loop.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	subtitle := fmt.Sprintf("%s | %s | collection %s | top %d",
		cfg.VectorStore.Type, a.Embedder.Name(), cfg.VectorStore.CollectionName(), svc.TopK())
	_, err = tea.NewProgram(tui.New(ctx, svc, subtitle), tea.WithAltScreen()).Run()
	return err
}

// isTerminal reports whether the command reads from an interactive terminal.
func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
