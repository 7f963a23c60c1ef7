// Package pipeline turns extracted documents into persisted, searchable
// artifact sets.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"policy-rag-go/internal/model"
)

const (
	DefaultChunkSize    = 900
	DefaultChunkOverlap = 150
)

// ChunkIDMode selects how chunk ids are derived.
type ChunkIDMode string

const (
	// ChunkIDOrdinal gives p{page}_c{n}. Cheap, but ids move when the
	// chunk size or overlap changes.
	ChunkIDOrdinal ChunkIDMode = "ordinal"
	// ChunkIDHashed gives a content address over source, page, window and
	// text. Ids survive parameter changes as long as the text is unchanged.
	ChunkIDHashed ChunkIDMode = "hashed"
)

// Chunker cuts page text into overlapping fixed-size windows.
type Chunker struct {
	size     int
	overlap  int
	idMode   ChunkIDMode
	sourceID string
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithIDMode sets the chunk id scheme. Unknown modes fall back to ordinal.
func WithIDMode(mode ChunkIDMode) ChunkerOption {
	return func(c *Chunker) {
		if mode == ChunkIDHashed {
			c.idMode = ChunkIDHashed
		}
	}
}

// WithSourceID sets the document id mixed into hashed chunk ids.
func WithSourceID(id string) ChunkerOption {
	return func(c *Chunker) {
		c.sourceID = id
	}
}

// ValidateChunkSettings rejects windows that cannot advance.
func ValidateChunkSettings(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", model.ErrInvalidConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", model.ErrInvalidConfiguration, overlap)
	}
	if size <= overlap {
		return fmt.Errorf("%w: chunk size (%d) must be greater than overlap (%d)", model.ErrInvalidConfiguration, size, overlap)
	}
	return nil
}

// NewChunker validates the window settings and returns a Chunker.
func NewChunker(size, overlap int, opts ...ChunkerOption) (*Chunker, error) {
	if err := ValidateChunkSettings(size, overlap); err != nil {
		return nil, err
	}
	c := &Chunker{size: size, overlap: overlap, idMode: ChunkIDOrdinal}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Size returns the window length in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Window is one raw slice of page text. Start and End are rune offsets.
type Window struct {
	Seq   int
	Start int
	End   int
	Text  string
}

// Windows splits text into windows of c.size runes advancing by
// c.size-c.overlap. Splitting stops once a window reaches the end of the
// text. Windows whose trimmed text is empty are skipped but still consume
// a sequence number.
func (c *Chunker) Windows(text string) []Window {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var out []Window
	for start, seq := 0, 0; start < len(runes); start, seq = start+step, seq+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, Window{Seq: seq, Start: start, End: end, Text: piece})
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// ChunkPage returns the text chunks of one page in window order.
func (c *Chunker) ChunkPage(page model.Page) []model.Chunk {
	windows := c.Windows(page.Text)
	chunks := make([]model.Chunk, 0, len(windows))
	for _, w := range windows {
		chunks = append(chunks, model.NewTextChunk(c.chunkID(page.PageNumber, w), page.PageNumber, w.Text))
	}
	return chunks
}

// ChunkPages chunks every page, keeping page order.
func (c *Chunker) ChunkPages(pages []model.Page) []model.Chunk {
	var chunks []model.Chunk
	for _, p := range pages {
		chunks = append(chunks, c.ChunkPage(p)...)
	}
	return chunks
}

func (c *Chunker) chunkID(page int, w Window) string {
	if c.idMode == ChunkIDHashed {
		return HashedChunkID(c.sourceID, page, w.Seq, w.Text)
	}
	return model.TextChunkID(page, w.Seq)
}

// HashedChunkID is a stable content address for a chunk.
func HashedChunkID(sourceID string, page, seq int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s", sourceID, page, seq, text)))
	return hex.EncodeToString(sum[:])[:24]
}
