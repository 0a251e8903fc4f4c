package chunker

import (
	"errors"
	"fmt"
	"strings"

	"pdfrag/internal/domain"
)

const (
	DefaultChunkSize = 300
	DefaultOverlap   = 50
)

// ErrInvalidWindow is returned when the window would not advance.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Validate reports whether size and overlap describe a window that advances.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidWindow, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidWindow, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidWindow, overlap, size)
	}
	return nil
}

// Split cuts text into windows of up to size whitespace-separated words.
// Consecutive windows share overlap words. The last window may be shorter.
func Split(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	words := strings.Fields(text)
	step := size - overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks, nil
}

// WordChunker splits pages into overlapping word windows and assigns each
// chunk an identifier.
type WordChunker struct {
	size    int
	overlap int
	ids     IDScheme
}

// NewWordChunker validates the window. A nil scheme means ContentIDs.
func NewWordChunker(size, overlap int, ids IDScheme) (*WordChunker, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = ContentIDs{}
	}
	return &WordChunker{size: size, overlap: overlap, ids: ids}, nil
}

// Chunk splits one page of file. Chunks come back in generation order.
func (c *WordChunker) Chunk(file string, page domain.Page) ([]domain.Chunk, error) {
	texts, err := Split(page.Text, c.size, c.overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		ch := domain.Chunk{File: file, Page: page.Index, Index: i, Text: t}
		ch.ID = c.ids.ID(ch)
		chunks[i] = ch
	}
	return chunks, nil
}
