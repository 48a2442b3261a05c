package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/docrag/internal/model"
)

func TestIngestReport_Counts(t *testing.T) {
	r := NewIngest("local", "/tmp/db")
	r.Add(DocumentResult{Path: "b.txt", Status: StatusProcessed, Chunks: 3, Bytes: 2048})
	r.Add(DocumentResult{Path: "a.pdf", Status: StatusProcessed, Chunks: 5, Bytes: 1024, OCR: true})
	r.Add(DocumentResult{Path: "c.txt", Status: StatusUnchanged})
	r.Add(DocumentResult{Path: "d.bin", Status: StatusSkipped})
	r.Add(DocumentResult{Path: "e.docx", Status: StatusFailed, Error: "no extractable text"})
	r.Finish()

	assert.Equal(t, 2, r.Processed)
	assert.Equal(t, 1, r.Unchanged)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 8, r.Chunks)
	assert.Equal(t, int64(3072), r.TotalBytes)
	assert.Equal(t, "a.pdf", r.Documents[0].Path)
	assert.Equal(t, []string{"e.docx: no extractable text"}, r.Errors())
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
}

func TestIngestReport_ConcurrentAdd(t *testing.T) {
	r := NewIngest("local", "db")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(DocumentResult{Path: "x", Status: StatusProcessed, Chunks: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Processed)
	assert.Equal(t, 50, r.Chunks)
}

func TestIngestReport_PrintSummary(t *testing.T) {
	r := NewIngest("qdrant", "localhost:6334/docrag")
	r.Add(DocumentResult{Path: "/docs/sky.txt", Status: StatusProcessed, Chunks: 1, Bytes: 17})
	r.Add(DocumentResult{Path: "/docs/bad.pdf", Status: StatusFailed, Error: "ocr error: unsupported language"})
	r.Finish()

	var buf bytes.Buffer
	r.PrintSummary(&buf)
	out := buf.String()
	assert.Contains(t, out, "INGEST REPORT")
	assert.Contains(t, out, "qdrant")
	assert.Contains(t, out, "Processed:   1")
	assert.Contains(t, out, "Failed:      1")
	assert.Contains(t, out, "/docs/sky.txt 1 chunks")
	assert.Contains(t, out, "unsupported language")
	assert.Contains(t, out, "17 B")
}

func TestIngestReport_JSON(t *testing.T) {
	r := NewIngest("local", "db")
	r.Add(DocumentResult{Path: "a.txt", Status: StatusProcessed, Chunks: 2})
	r.Finish()

	data, err := r.JSON()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1, decoded["processed"])
	assert.EqualValues(t, 2, decoded["chunks"])
	assert.Len(t, decoded["documents"], 1)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "2.0 KB", formatBytes(2048))
	assert.Equal(t, "1.5 MB", formatBytes(3<<19))
}

func sampleChunks() []model.RetrievedChunk {
	return []model.RetrievedChunk{
		{Chunk: model.Chunk{ID: "d1:000000", Source: "/docs/sky.txt", Text: "The sky is blue."}, Score: 0.91},
		{Chunk: model.Chunk{ID: "d2:000003", Source: "/docs/sea.md", Ordinal: 3, Text: "The sea is green."}, Score: 0.42},
	}
}

func TestPrintChunks(t *testing.T) {
	var buf bytes.Buffer
	PrintChunks(&buf, sampleChunks())
	out := buf.String()
	assert.Contains(t, out, "Chunk 1:")
	assert.Contains(t, out, "Chunk 2:")
	assert.Contains(t, out, "The sky is blue.")
	assert.Contains(t, out, "/docs/sea.md")
	assert.Contains(t, out, "0.9100")
	assert.Less(t, strings.Index(out, "Chunk 1:"), strings.Index(out, "Chunk 2:"))
}

func TestPrintChunks_Empty(t *testing.T) {
	var buf bytes.Buffer
	PrintChunks(&buf, nil)
	assert.Contains(t, buf.String(), "No matching chunks.")
}

func TestPrintAnswer(t *testing.T) {
	var buf bytes.Buffer
	chunks := sampleChunks()
	PrintAnswer(&buf, &model.Answer{Text: "Blue [1].", Citations: []string{"d1:000000", "d2:000003"}}, chunks)
	out := buf.String()
	assert.Contains(t, out, "Answer:")
	assert.Contains(t, out, "Blue [1].")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "[1] d1:000000")
	assert.Contains(t, out, "/docs/sky.txt")
}

func TestPrintAnswer_NoCitations(t *testing.T) {
	var buf bytes.Buffer
	PrintAnswer(&buf, &model.Answer{Text: "nothing", Citations: []string{}}, nil)
	assert.NotContains(t, buf.String(), "Sources:")
}

func TestQueryResult_JSON(t *testing.T) {
	data, err := QueryResult{Question: "q"}.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chunks": []`)
	assert.NotContains(t, string(data), "answer")
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	PrintStats(&buf, IndexStats{Backend: "local", Location: "db", Dimension: 768, Entries: 12, Documents: 2})
	out := buf.String()
	assert.Contains(t, out, "768")
	assert.Contains(t, out, "entries:    12")

	buf.Reset()
	PrintStats(&buf, IndexStats{Backend: "local", Location: "db"})
	assert.Contains(t, buf.String(), "unset")
	assert.NotContains(t, buf.String(), "documents")
}
