package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/docrag/internal/model"
)

// TextReader reads plain text files.
type TextReader struct{}

func (TextReader) Format() model.Format { return model.FormatText }
func (TextReader) Extensions() []string { return []string{".txt", ".text"} }

func (TextReader) Read(_ context.Context, path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Extraction{Text: decodeText(data)}, nil
}

func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// MarkdownReader reads markdown, lifting YAML front matter into metadata.
type MarkdownReader struct{}

func (MarkdownReader) Format() model.Format { return model.FormatMarkdown }
func (MarkdownReader) Extensions() []string { return []string{".md", ".markdown"} }

func (MarkdownReader) Read(_ context.Context, path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, body, err := splitFrontMatter(decodeText(data))
	if err != nil {
		return nil, fmt.Errorf("%w: front matter in %s: %w", model.ErrInput, filepath.Base(path), err)
	}
	return &Extraction{Text: body, Metadata: meta}, nil
}

func splitFrontMatter(s string) (map[string]string, string, error) {
	s = strings.TrimPrefix(s, "\ufeff")
	if !strings.HasPrefix(s, "---\n") && !strings.HasPrefix(s, "---\r\n") {
		return nil, s, nil
	}
	rest := s[strings.Index(s, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, s, nil
	}
	raw := rest[:end]
	body := rest[end+len("\n---"):]
	if nl := strings.Index(body, "\n"); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	var fields map[string]any
	if err := yaml.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, "", err
	}
	meta := make(map[string]string, len(fields))
	for k, v := range fields {
		meta[k] = fmt.Sprint(v)
	}
	if title, ok := meta["title"]; ok && title != "" {
		body = title + "\n\n" + body
	}
	return meta, body, nil
}

// CSVReader renders delimited tables as one "column: value" block per row.
type CSVReader struct{}

func (CSVReader) Format() model.Format { return model.FormatCSV }
func (CSVReader) Extensions() []string { return []string{".csv", ".tsv"} }

func (CSVReader) Read(_ context.Context, path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(data))
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", model.ErrInput, filepath.Base(path), err)
	}
	return &Extraction{Text: renderRows(records)}, nil
}

func renderRows(records [][]string) string {
	if len(records) == 0 {
		return ""
	}
	header := records[0]
	var b strings.Builder
	for _, row := range records[1:] {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		for i, cell := range row {
			name := fmt.Sprintf("column%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(strings.TrimSpace(cell))
		}
	}
	if b.Len() == 0 {
		return strings.Join(header, ", ")
	}
	return b.String()
}

// DocxReader extracts word-processor documents with docconv.
type DocxReader struct{}

func (DocxReader) Format() model.Format { return model.FormatDocx }
func (DocxReader) Extensions() []string { return []string{".docx"} }

func (DocxReader) Read(_ context.Context, path string) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, meta, err := docconv.ConvertDocx(f)
	if err != nil {
		return nil, fmt.Errorf("%w: converting %s: %w", model.ErrInput, filepath.Base(path), err)
	}
	return &Extraction{Text: text, Metadata: meta}, nil
}
