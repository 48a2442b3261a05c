// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import (
	"fmt"

	"github.com/efebarandurmaz/docrag/internal/model"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Span is a window over the text in rune offsets, End exclusive.
type Span struct {
	Start int
	End   int
}

// Chunker cuts windows of Size runes, each starting Size-Overlap after the previous one.
type Chunker struct {
	size    int
	overlap int
}

// New validates 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Spans returns the windows over a text of length n. The last window is
// truncated to the end of the text.
func (c *Chunker) Spans(n int) []Span {
	if n == 0 {
		return nil
	}
	step := c.size - c.overlap
	spans := make([]Span, 0, n/step+1)
	for start := 0; ; start += step {
		end := min(start+c.size, n)
		spans = append(spans, Span{Start: start, End: end})
		if end == n {
			return spans
		}
	}
}

// Split turns a document into ordered chunks.
func (c *Chunker) Split(doc *model.Document) []model.Chunk {
	runes := []rune(doc.Text)
	spans := c.Spans(len(runes))
	chunks := make([]model.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = model.Chunk{
			ID:         model.ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Source:     doc.Path,
			Ordinal:    i,
			Text:       string(runes[s.Start:s.End]),
			Start:      s.Start,
			End:        s.End,
		}
	}
	return chunks
}
