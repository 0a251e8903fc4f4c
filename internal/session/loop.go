// Package session runs the line-oriented question/answer loop used when
// stdin is not a terminal.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"pdfrag/internal/retrieval"
)

// Answerer is the part of retrieval.Service the loop needs.
type Answerer interface {
	Answer(ctx context.Context, query string) (*retrieval.Answer, error)
}

type Loop struct {
	answerer    Answerer
	banner      string
	showContext bool
	log         logrus.FieldLogger
}

type Options struct {
	Banner string
	// ShowContext prints the context sent to the model before the answer.
	ShowContext bool
}

func NewLoop(a Answerer, opts Options, log logrus.FieldLogger) *Loop {
	if opts.Banner == "" {
		opts.Banner = "RAG Search Interface"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loop{answerer: a, banner: opts.Banner, showContext: opts.ShowContext, log: log}
}

// Run prompts for queries on out and reads them from in until "exit", EOF
// or ctx is done. A failed query is reported and the loop goes on.
func (l *Loop) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, l.banner)
	fmt.Fprintln(out, "Type 'exit' to quit")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, "\nEnter your search query: ")
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			select {
			case err := <-readErr:
				return err
			default:
				return nil
			}
		}

		query := strings.TrimSpace(line)
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "exit") {
			return nil
		}
		if err := l.ask(ctx, out, query); err != nil {
			return err
		}
	}
}

// ask answers one query. Only cancellation of ctx is returned; every other
// failure is printed.
func (l *Loop) ask(ctx context.Context, out io.Writer, query string) error {
	fmt.Fprintf(out, "\nSearching for: '%s'\n", query)
	ans, err := l.answerer.Answer(ctx, query)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, retrieval.ErrNoResults):
		fmt.Fprintln(out, "No relevant results found.")
		return nil
	default:
		l.log.WithError(err).WithField("query", query).Warn("query failed")
		fmt.Fprintf(out, "Error: %v\n", err)
		return nil
	}

	if l.showContext {
		fmt.Fprintln(out, "\nContext being sent to LLM:")
		fmt.Fprintln(out, strings.Repeat("-", 50))
		fmt.Fprintln(out, ans.Context)
		fmt.Fprintln(out, strings.Repeat("-", 50))
	}
	fmt.Fprintln(out, "\n--- Response ---")
	fmt.Fprintln(out, ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for i, s := range ans.Sources {
			fmt.Fprintf(out, "  %d. %s (page %d) similarity %.2f\n", i+1, s.File, s.Page, s.Score)
		}
	}
	return nil
}
