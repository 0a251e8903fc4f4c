package chunker

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"pdfrag/internal/domain"
)

// IDScheme assigns the identifier under which a chunk is stored.
type IDScheme interface {
	ID(ch domain.Chunk) string
}

var chunkNamespace = uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")

// ContentIDs derives a name-based UUID from file, page and chunk text.
// Re-ingesting unchanged content produces the same IDs, so stores overwrite
// instead of duplicating.
type ContentIDs struct{}

func (ContentIDs) ID(ch domain.Chunk) string {
	key := ch.File + "\x00" + strconv.Itoa(ch.Page) + "\x00" + ch.Text
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// Sequence hands out increasing decimal IDs starting at a seed. Seeding it
// one past the largest stored ID makes every run append: re-ingesting the
// same content duplicates it.
type Sequence struct {
	next atomic.Uint64
}

// NewSequence returns a counter whose first ID is start.
func NewSequence(start uint64) *Sequence {
	s := &Sequence{}
	s.next.Store(start)
	return s
}

func (s *Sequence) ID(domain.Chunk) string {
	return strconv.FormatUint(s.next.Add(1)-1, 10)
}

const (
	SchemeContent    = "content"
	SchemeSequential = "sequential"
)
