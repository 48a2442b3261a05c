// Package report renders ingest summaries and query results for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// Status is the outcome of ingesting one document.
type Status string

const (
	StatusProcessed Status = "processed"
	// StatusUnchanged means the index already held the same content.
	StatusUnchanged Status = "unchanged"
	// StatusSkipped means a directory scan found an unsupported file.
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// DocumentResult records one document of an ingest run.
type DocumentResult struct {
	Path     string        `json:"path"`
	Status   Status        `json:"status"`
	Format   string        `json:"format,omitempty"`
	Chunks   int           `json:"chunks"`
	Bytes    int64         `json:"bytes"`
	OCR      bool          `json:"ocr,omitempty"`
	Duration time.Duration `json:"duration_ms"`
	Error    string        `json:"error,omitempty"`
}

// IngestReport collects statistics for one ingest invocation. Add is safe
// for concurrent use.
type IngestReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Duration   time.Duration    `json:"duration_ms,omitempty"`
	Backend    string           `json:"backend"`
	Location   string           `json:"location"`
	Processed  int              `json:"processed"`
	Unchanged  int              `json:"unchanged"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Chunks     int              `json:"chunks"`
	TotalBytes int64            `json:"total_bytes"`
	Documents  []DocumentResult `json:"documents"`

	mu sync.Mutex
}

// NewIngest starts tracking an ingest run against the given index.
func NewIngest(backend, location string) *IngestReport {
	return &IngestReport{
		StartedAt: time.Now(),
		Backend:   backend,
		Location:  location,
		Documents: []DocumentResult{},
	}
}

// Add records a document outcome.
func (r *IngestReport) Add(res DocumentResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch res.Status {
	case StatusProcessed:
		r.Processed++
		r.Chunks += res.Chunks
		r.TotalBytes += res.Bytes
	case StatusUnchanged:
		r.Unchanged++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
	r.Documents = append(r.Documents, res)
}

// Finish marks the run as complete and orders documents by path.
func (r *IngestReport) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	sort.SliceStable(r.Documents, func(i, j int) bool { return r.Documents[i].Path < r.Documents[j].Path })
}

// Errors returns "path: message" for every failed document.
func (r *IngestReport) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.Documents {
		if d.Status == StatusFailed {
			out = append(out, fmt.Sprintf("%s: %s", d.Path, d.Error))
		}
	}
	return out
}

// PrintSummary writes a human-readable summary.
func (r *IngestReport) PrintSummary(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║           INGEST REPORT              ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "║ Index:       %-23s║\n", r.Backend)
	fmt.Fprintf(w, "║   %s\n", r.Location)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Processed:   %d\n", r.Processed)
	fmt.Fprintf(w, "║ Unchanged:   %d\n", r.Unchanged)
	fmt.Fprintf(w, "║ Skipped:     %d\n", r.Skipped)
	fmt.Fprintf(w, "║ Failed:      %d\n", r.Failed)
	fmt.Fprintf(w, "║ Chunks:      %d\n", r.Chunks)
	fmt.Fprintf(w, "║ Total Size:  %s\n", formatBytes(r.TotalBytes))
	if len(r.Documents) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ DOCUMENTS\n")
		for _, d := range r.Documents {
			detail := fmt.Sprintf("%d chunks", d.Chunks)
			switch {
			case d.Status == StatusFailed:
				detail = d.Error
			case d.Status != StatusProcessed:
				detail = ""
			case d.OCR:
				detail += ", ocr"
			}
			fmt.Fprintf(w, "║   %-9s %8s  %s %s\n", d.Status, d.Duration.Round(time.Millisecond), d.Path, detail)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (r *IngestReport) JSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.MarshalIndent(r, "", "  ")
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
