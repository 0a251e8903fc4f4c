// Package pdf extracts plain text from PDF files, one entry per page.
package pdf

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"pdfrag/internal/domain"
)

// ExtractError reports a PDF that could not be opened or parsed.
type ExtractError struct {
	Path string
	Page int
	Err  error
}

func (e *ExtractError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("extracting %s page %d: %v", e.Path, e.Page-1, e.Err)
	}
	return fmt.Sprintf("extracting %s: %v", e.Path, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Extractor reads PDF files from disk.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns the text of every page of the PDF at path in page order.
// Page indexes start at 0; pages without content yield empty text.
func (x *Extractor) Extract(ctx context.Context, path string) (pages []domain.Page, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ExtractError{Path: path, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, &ExtractError{Path: path, Err: err}
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]domain.Page, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, domain.Page{Index: i - 1})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, &ExtractError{Path: path, Page: i, Err: err}
		}
		pages = append(pages, domain.Page{Index: i - 1, Text: text})
	}
	return pages, nil
}
