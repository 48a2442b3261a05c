// Package loader turns files into normalized document text. Each format is a
// Reader registered by extension; PDF pages can be routed through OCR.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/efebarandurmaz/docrag/internal/model"
)

// Extraction is what a Reader produces before normalization.
type Extraction struct {
	Text     string
	OCRPages []bool
	Metadata map[string]string
}

// Reader extracts text from one file format.
type Reader interface {
	Format() model.Format
	Extensions() []string
	Read(ctx context.Context, path string) (*Extraction, error)
}

// Registry maps lower-case extensions (with the dot) to readers.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]Reader
}

func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]Reader)}
}

func (r *Registry) Register(rd Reader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range rd.Extensions() {
		r.readers[strings.ToLower(ext)] = rd
	}
}

// For returns the reader for path's extension.
func (r *Registry) For(path string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	rd, ok := r.readers[ext]
	if !ok {
		if ext == "" {
			ext = "(none)"
		}
		return nil, fmt.Errorf("%w: extension %s", model.ErrUnsupportedFormat, ext)
	}
	return rd, nil
}

// Extensions lists registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.readers))
	for ext := range r.readers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Loader is the entry point for format dispatch.
type Loader struct {
	registry *Registry
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*loaderConfig)

type loaderConfig struct {
	ocr     OCROptions
	openPDF PDFOpener
	logger  *slog.Logger
}

// WithOCR enables the OCR branch for PDFs.
func WithOCR(o OCROptions) Option {
	return func(c *loaderConfig) { c.ocr = o }
}

// WithPDFOpener replaces the PDF backend.
func WithPDFOpener(open PDFOpener) Option {
	return func(c *loaderConfig) { c.openPDF = open }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *loaderConfig) { c.logger = l }
}

// New builds a loader with readers for text, markdown, csv/tsv, docx and pdf.
func New(opts ...Option) *Loader {
	cfg := loaderConfig{openPDF: OpenPDF, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	reg := NewRegistry()
	reg.Register(TextReader{})
	reg.Register(MarkdownReader{})
	reg.Register(CSVReader{})
	reg.Register(DocxReader{})
	reg.Register(NewPDFReader(cfg.openPDF, cfg.ocr, cfg.logger))
	return &Loader{registry: reg, logger: cfg.logger}
}

// Supported reports whether path has a registered extension.
func (l *Loader) Supported(path string) bool {
	_, err := l.registry.For(path)
	return err == nil
}

func (l *Loader) Extensions() []string { return l.registry.Extensions() }

// Load reads and normalizes one file.
func (l *Loader) Load(ctx context.Context, path string) (*model.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", model.ErrInput, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", model.ErrInput, path)
	}

	rd, err := l.registry.For(path)
	if err != nil {
		return nil, err
	}

	ext, err := rd.Read(ctx, path)
	if err != nil {
		if errors.Is(err, model.ErrInput) || errors.Is(err, model.ErrOCR) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading %s: %w", model.ErrInput, path, err)
	}

	text := Normalize(ext.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %s", model.ErrNoExtractableText, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	doc := &model.Document{
		ID:       model.DocumentID(abs),
		Path:     abs,
		Format:   rd.Format(),
		Text:     text,
		OCRPages: ext.OCRPages,
		Hash:     model.ContentHash(text),
		Metadata: ext.Metadata,
	}
	l.logger.Debug("document loaded",
		"path", abs,
		"format", doc.Format,
		"chars", len([]rune(text)),
		"ocr", doc.UsedOCR())
	return doc, nil
}

var (
	blankRuns = regexp.MustCompile(`\n{3,}`)
	lineEnds  = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// Normalize produces the canonical text form shared by every format: NFC,
// LF line endings, no control characters other than tab and newline, no
// trailing spaces, at most one blank line in a row.
func Normalize(s string) string {
	s = norm.NFC.String(lineEnds.Replace(s))
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f || r == '\ufeff' {
			return -1
		}
		return r
	}, s)
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	s = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}
