package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/efebarandurmaz/docrag/internal/model"
)

const (
	colorBlue  = "#58a6ff"
	colorGreen = "#3fb950"
	colorGray  = "#8b949e"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorBlue))
	answerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorGreen))
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray))
)

// PrintChunks writes raw-mode results as numbered "Chunk i:" blocks.
func PrintChunks(w io.Writer, chunks []model.RetrievedChunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, metaStyle.Render("No matching chunks."))
		return
	}
	for i, c := range chunks {
		fmt.Fprintln(w, headingStyle.Render(fmt.Sprintf("Chunk %d:", i+1)))
		fmt.Fprintln(w, metaStyle.Render(fmt.Sprintf("source: %s  ordinal: %d  score: %.4f", c.Chunk.Source, c.Chunk.Ordinal, c.Score)))
		fmt.Fprintln(w, strings.TrimSpace(c.Chunk.Text))
		fmt.Fprintln(w)
	}
}

// PrintAnswer writes the generated answer and the chunk ids it cites.
func PrintAnswer(w io.Writer, ans *model.Answer, chunks []model.RetrievedChunk) {
	fmt.Fprintln(w, answerStyle.Render("Answer:"))
	fmt.Fprintln(w, ans.Text)
	if len(ans.Citations) == 0 {
		return
	}
	sources := make(map[string]string, len(chunks))
	for _, c := range chunks {
		sources[c.Chunk.ID] = c.Chunk.Source
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render("Sources:"))
	for i, id := range ans.Citations {
		line := fmt.Sprintf("  [%d] %s", i+1, id)
		if src, ok := sources[id]; ok {
			line += " " + metaStyle.Render("("+src+")")
		}
		fmt.Fprintln(w, line)
	}
}

// QueryResult is the JSON form of a query invocation.
type QueryResult struct {
	Question string                 `json:"question"`
	Chunks   []model.RetrievedChunk `json:"chunks"`
	Answer   *model.Answer          `json:"answer,omitempty"`
}

// JSON returns the result as formatted JSON.
func (q QueryResult) JSON() ([]byte, error) {
	if q.Chunks == nil {
		q.Chunks = []model.RetrievedChunk{}
	}
	return json.MarshalIndent(q, "", "  ")
}

// IndexStats describes the index for the stats command.
type IndexStats struct {
	Backend   string `json:"backend"`
	Location  string `json:"location"`
	Dimension int    `json:"dimension"`
	Entries   int    `json:"entries"`
	Documents int    `json:"documents,omitempty"`
}

// JSON returns the statistics as formatted JSON.
func (s IndexStats) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// PrintStats writes index statistics.
func PrintStats(w io.Writer, s IndexStats) {
	fmt.Fprintln(w, headingStyle.Render("Index"))
	fmt.Fprintf(w, "  backend:    %s\n", s.Backend)
	fmt.Fprintf(w, "  location:   %s\n", s.Location)
	if s.Dimension > 0 {
		fmt.Fprintf(w, "  dimension:  %d\n", s.Dimension)
	} else {
		fmt.Fprintf(w, "  dimension:  %s\n", metaStyle.Render("unset"))
	}
	fmt.Fprintf(w, "  entries:    %d\n", s.Entries)
	if s.Documents > 0 {
		fmt.Fprintf(w, "  documents:  %d\n", s.Documents)
	}
}
