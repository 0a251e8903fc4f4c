package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrag/internal/domain"
)

func words(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%d", i)
	}
	return out
}

func TestSplit(t *testing.T) {
	t.Run("Empty Text", func(t *testing.T) {
		chunks, err := Split("", DefaultChunkSize, DefaultOverlap)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Whitespace Only", func(t *testing.T) {
		chunks, err := Split(" \n\t ", 3, 1)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Step Of Two", func(t *testing.T) {
		chunks, err := Split("a b c d e", 3, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a b c", "c d e", "e"}, chunks)
	})

	t.Run("Every Offset Starts A Window", func(t *testing.T) {
		chunks, err := Split("a b c d e f", 3, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a b c", "c d e", "e f"}, chunks)
	})

	t.Run("Short Final Window Is Kept", func(t *testing.T) {
		chunks, err := Split("a b c d", 3, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a b c", "c d"}, chunks)
	})

	t.Run("Collapses Whitespace", func(t *testing.T) {
		chunks, err := Split("Paris  is\nthe\tcapital", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"Paris is the capital"}, chunks)
	})

	t.Run("Invalid Windows", func(t *testing.T) {
		tests := []struct {
			size, overlap int
		}{
			{3, 3},
			{3, 5},
			{0, 0},
			{-1, 0},
			{3, -1},
		}
		for _, tt := range tests {
			_, err := Split("a b c", tt.size, tt.overlap)
			assert.ErrorIs(t, err, ErrInvalidWindow, "size=%d overlap=%d", tt.size, tt.overlap)
		}
	})
}

func TestSplitProperties(t *testing.T) {
	for _, n := range []int{1, 2, 5, 49, 50, 51, 299, 300, 301, 1000} {
		for _, w := range []struct{ size, overlap int }{{300, 50}, {3, 1}, {10, 0}, {7, 6}} {
			name := fmt.Sprintf("n=%d/size=%d/overlap=%d", n, w.size, w.overlap)
			t.Run(name, func(t *testing.T) {
				tokens := words(n)
				text := strings.Join(tokens, " ")
				step := w.size - w.overlap

				chunks, err := Split(text, w.size, w.overlap)
				require.NoError(t, err)
				assert.Len(t, chunks, (n+step-1)/step)

				rebuilt := make([]string, n)
				for k, c := range chunks {
					parts := strings.Fields(c)
					assert.LessOrEqual(t, len(parts), w.size)
					for j, p := range parts {
						rebuilt[k*step+j] = p
					}
				}
				assert.Equal(t, tokens, rebuilt)

				again, err := Split(text, w.size, w.overlap)
				require.NoError(t, err)
				assert.Equal(t, chunks, again)
			})
		}
	}
}

func TestWordChunker(t *testing.T) {
	t.Run("Rejects Invalid Window", func(t *testing.T) {
		_, err := NewWordChunker(50, 50, nil)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})

	t.Run("Fills Metadata", func(t *testing.T) {
		c, err := NewWordChunker(3, 1, nil)
		require.NoError(t, err)
		chunks, err := c.Chunk("notes.pdf", domain.Page{Index: 4, Text: "a b c d e"})
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for i, ch := range chunks {
			assert.Equal(t, "notes.pdf", ch.File)
			assert.Equal(t, 4, ch.Page)
			assert.Equal(t, i, ch.Index)
			assert.NotEmpty(t, ch.ID)
		}
		assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
		assert.Equal(t, "e", chunks[2].Text)
	})

	t.Run("Content IDs Are Stable", func(t *testing.T) {
		c, err := NewWordChunker(3, 1, ContentIDs{})
		require.NoError(t, err)
		page := domain.Page{Index: 0, Text: "a b c d e"}
		first, err := c.Chunk("x.pdf", page)
		require.NoError(t, err)
		second, err := c.Chunk("x.pdf", page)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		other, err := c.Chunk("y.pdf", page)
		require.NoError(t, err)
		assert.NotEqual(t, first[0].ID, other[0].ID)
	})

	t.Run("Sequential IDs Keep Counting", func(t *testing.T) {
		seq := NewSequence(10)
		c, err := NewWordChunker(3, 1, seq)
		require.NoError(t, err)
		page := domain.Page{Index: 0, Text: "a b c d e"}
		first, err := c.Chunk("x.pdf", page)
		require.NoError(t, err)
		second, err := c.Chunk("x.pdf", page)
		require.NoError(t, err)
		require.Len(t, first, 3)
		assert.Equal(t, "10", first[0].ID)
		assert.Equal(t, "11", first[1].ID)
		assert.Equal(t, "12", first[2].ID)
		assert.Equal(t, "13", second[0].ID)
		assert.Equal(t, "15", second[2].ID)
	})
}
