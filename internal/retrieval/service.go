// Package retrieval answers questions from the chunks held in a vector store.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"pdfrag/internal/domain"
	"pdfrag/internal/vectorstore"
)

const DefaultTopK = 3

var (
	ErrEmptyQuery = errors.New("empty query")
	ErrNoResults  = errors.New("no relevant results found")
)

// StageError reports which step of a query failed.
type StageError struct {
	Stage string // embed, query or chat
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Answer is a generated reply with the chunks it was grounded on.
type Answer struct {
	Query   string
	Text    string
	Sources []domain.QueryResult
	Context string
}

type Options struct {
	TopK  int
	Style Style
}

// Service embeds queries, looks up the nearest chunks and asks the chat
// model for an answer. It only reads from the store and is safe for
// concurrent use when its collaborators are.
type Service struct {
	embedder domain.Embedder
	store    vectorstore.Storage
	chat     domain.ChatModel
	topK     int
	style    Style
	log      logrus.FieldLogger
}

func NewService(embedder domain.Embedder, store vectorstore.Storage, chat domain.ChatModel, opts Options, log logrus.FieldLogger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Style == "" {
		opts.Style = StyleSources
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{embedder: embedder, store: store, chat: chat, topK: opts.TopK, style: opts.Style, log: log}
}

func (s *Service) TopK() int { return s.topK }

// Search returns up to TopK chunks closest to query, most similar first.
func (s *Service) Search(ctx context.Context, query string) ([]domain.QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &StageError{Stage: "embed", Err: err}
	}
	results, err := s.store.Query(ctx, vec, s.topK)
	if err != nil {
		return nil, &StageError{Stage: "query", Err: err}
	}
	s.log.WithFields(logrus.Fields{"results": len(results), "top_k": s.topK}).Debug("search done")
	return results, nil
}

// Answer runs Search, builds a grounded prompt and returns the chat
// model's reply verbatim.
func (s *Service) Answer(ctx context.Context, query string) (*Answer, error) {
	query = strings.TrimSpace(query)
	results, err := s.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	ctxText := BuildContext(results, s.style)
	prompt := Prompt(ctxText, query)
	text, err := s.chat.Chat(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}})
	if err != nil {
		return nil, &StageError{Stage: "chat", Err: err}
	}
	return &Answer{Query: query, Text: text, Sources: results, Context: ctxText}, nil
}

// Style selects how retrieved chunks are rendered into the prompt.
type Style string

const (
	// StyleSources numbers each chunk and includes its text.
	StyleSources Style = "sources"
	// StyleSummary lists file, page and similarity only. The model sees no
	// chunk text.
	StyleSummary Style = "summary"
)

// ParseStyle accepts "sources" and "summary".
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(s)) {
	case StyleSources, "":
		return StyleSources, nil
	case StyleSummary:
		return StyleSummary, nil
	}
	return "", fmt.Errorf("unknown context style %q", s)
}

// BuildContext renders results in the given style.
func BuildContext(results []domain.QueryResult, style Style) string {
	var sb strings.Builder
	switch style {
	case StyleSummary:
		for i, r := range results {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "From %s (page %d) with similarity %.2f", r.File, r.Page, r.Score)
		}
	default:
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "Source %d: %s (page %d)\n%s", i+1, r.File, r.Page, r.ChunkText)
		}
	}
	return sb.String()
}

// Prompt wraps context and query in the answering instructions.
func Prompt(context, query string) string {
	return "You are a helpful AI assistant.\n" +
		"Use the following context to answer the query as accurately as possible. " +
		"If the context is not relevant to the query, say 'I don't know'.\n\n" +
		"Context:\n" + context + "\n\n" +
		"Query: " + query + "\n\n" +
		"Answer:"
}
