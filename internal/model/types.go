// Package model holds the data types shared by the ingestion and query
// pipelines together with the error taxonomy they report through.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Format identifies how a document's text was extracted.
type Format string

const (
	FormatText     Format = "text"
	FormatPDF      Format = "pdf"
	FormatDocx     Format = "docx"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Document is the result of loading one file. It is never persisted itself.
type Document struct {
	ID       string
	Path     string
	Format   Format
	Text     string
	OCRPages []bool // per page, true when the page text came from OCR
	Hash     string // sha256 of Text
	Metadata map[string]string
}

// UsedOCR reports whether any page of the document went through OCR.
func (d *Document) UsedOCR() bool {
	for _, p := range d.OCRPages {
		if p {
			return true
		}
	}
	return false
}

// Chunk is a contiguous span of a document's text. Start and End are rune
// offsets into Document.Text, End exclusive.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Query is one retrieval request.
type Query struct {
	Text      string
	K         int
	Raw       bool
	Threshold *float32
}

// Validate rejects queries that cannot be executed.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question is empty", ErrInvalidQuery)
	}
	if q.K < 1 {
		return fmt.Errorf("%w: k must be at least 1, got %d", ErrInvalidQuery, q.K)
	}
	if q.Threshold != nil && (*q.Threshold < -1 || *q.Threshold > 1) {
		return fmt.Errorf("%w: threshold %.3f outside [-1, 1]", ErrInvalidQuery, *q.Threshold)
	}
	return nil
}

// RetrievedChunk pairs a chunk with its similarity to the query vector.
type RetrievedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Answer is the generated response and the chunk ids it was grounded on.
type Answer struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}

// DocumentID derives a stable identifier from the document's absolute path.
func DocumentID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String()
}

// ChunkID builds a chunk identifier that sorts in ordinal order within a document.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%06d", documentID, ordinal)
}

// ContentHash returns the hex sha256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
