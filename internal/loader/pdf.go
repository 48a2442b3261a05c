package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/ocr"
)

// Policy decides which PDF pages go through OCR when OCR is enabled.
type Policy string

const (
	// PolicyAuto samples the first pages and OCRs the whole document when it looks scanned.
	PolicyAuto Policy = "auto"
	// PolicyAll OCRs every page.
	PolicyAll Policy = "all"
	// PolicyMissing OCRs only pages without a text layer.
	PolicyMissing Policy = "missing"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case PolicyAuto, PolicyAll, PolicyMissing:
		return p, nil
	case "":
		return PolicyAuto, nil
	default:
		return "", fmt.Errorf("%w: unknown OCR page policy %q", model.ErrInput, s)
	}
}

// Scanned-document heuristic thresholds, in characters per sampled page.
const (
	sampledPages       = 5
	minCharsPerPage    = 50
	minCharsWithImages = 100
)

// OCROptions configure the PDF OCR branch.
type OCROptions struct {
	Enabled bool
	Adapter *ocr.Adapter
	Lang    string
	DPI     int
	Policy  Policy
}

// PDFDocument is the page-level view of a PDF the reader needs.
type PDFDocument interface {
	NumPages() int
	PageText(page int) (string, error)
	PageHasImages(page int) (bool, error)
	// RenderPage rasterizes a 1-based page at dpi into a PNG at dst.
	RenderPage(page, dpi int, dst string) error
	Close() error
}

// PDFOpener opens a PDF file.
type PDFOpener func(path string) (PDFDocument, error)

// PDFReader extracts the text layer and, when asked, OCRs pages.
type PDFReader struct {
	open   PDFOpener
	ocr    OCROptions
	logger *slog.Logger
}

func NewPDFReader(open PDFOpener, o OCROptions, logger *slog.Logger) *PDFReader {
	if open == nil {
		open = OpenPDF
	}
	if o.DPI <= 0 {
		o.DPI = 300
	}
	if o.Lang == "" {
		o.Lang = "eng"
	}
	if o.Policy == "" {
		o.Policy = PolicyAuto
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFReader{open: open, ocr: o, logger: logger}
}

func (r *PDFReader) Format() model.Format { return model.FormatPDF }
func (r *PDFReader) Extensions() []string { return []string{".pdf"} }

func (r *PDFReader) Read(ctx context.Context, path string) (*Extraction, error) {
	doc, err := r.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening pdf %s: %w", model.ErrInput, filepath.Base(path), err)
	}
	defer doc.Close()

	n := doc.NumPages()
	if n == 0 {
		return nil, fmt.Errorf("%w: %s has no pages", model.ErrNoExtractableText, filepath.Base(path))
	}

	texts := make([]string, n)
	for i := range texts {
		t, err := doc.PageText(i + 1)
		if err != nil {
			return nil, fmt.Errorf("%w: reading text layer of %s page %d: %w", model.ErrInput, filepath.Base(path), i+1, err)
		}
		texts[i] = strings.TrimSpace(t)
	}

	ocrPages := make([]bool, n)
	if r.ocr.Enabled {
		selected := r.selectPages(doc, texts)
		if len(selected) > 0 {
			recognized, err := r.recognize(ctx, doc, selected)
			if err != nil {
				return nil, err
			}
			for i, page := range selected {
				texts[page-1] = recognized[i]
				ocrPages[page-1] = true
			}
		}
	}

	var parts []string
	for i, t := range texts {
		if ocrPages[i] {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, t))
		} else if t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		hint := ""
		if !r.ocr.Enabled {
			hint = " (scanned document? retry with --ocr)"
		}
		return nil, fmt.Errorf("%w: %s has no text layer%s", model.ErrNoExtractableText, filepath.Base(path), hint)
	}
	return &Extraction{Text: strings.Join(parts, "\n\n"), OCRPages: ocrPages}, nil
}

// selectPages returns the 1-based pages to OCR under the configured policy.
func (r *PDFReader) selectPages(doc PDFDocument, texts []string) []int {
	var pages []int
	switch r.ocr.Policy {
	case PolicyAll:
		for i := range texts {
			pages = append(pages, i+1)
		}
	case PolicyMissing:
		for i, t := range texts {
			if t == "" {
				pages = append(pages, i+1)
			}
		}
	default:
		if looksScanned(doc, texts) {
			for i := range texts {
				pages = append(pages, i+1)
			}
		}
	}
	return pages
}

// looksScanned samples the first pages: too little text per page, or
// images with little text, marks the document as scanned.
func looksScanned(doc PDFDocument, texts []string) bool {
	sample := min(len(texts), sampledPages)
	chars := 0
	images := false
	for i := 0; i < sample; i++ {
		chars += len([]rune(texts[i]))
		if !images {
			if has, err := doc.PageHasImages(i + 1); err == nil && has {
				images = true
			}
		}
	}
	perPage := chars / sample
	return perPage < minCharsPerPage || (images && perPage < minCharsWithImages)
}

func (r *PDFReader) recognize(ctx context.Context, doc PDFDocument, pages []int) ([]string, error) {
	if r.ocr.Adapter == nil {
		return nil, fmt.Errorf("%w: OCR requested but no engine configured", model.ErrOCREngine)
	}
	// Translate before rendering so a bad language spec fails fast.
	if _, err := r.ocr.Adapter.Languages(r.ocr.Lang); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "docrag-pages-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrOCREngine, err)
	}
	defer os.RemoveAll(dir)

	images := make([]ocr.Image, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(dir, fmt.Sprintf("page-%05d.png", page))
		if err := doc.RenderPage(page, r.ocr.DPI, dst); err != nil {
			return nil, fmt.Errorf("%w: rendering page %d: %w", model.ErrOCREngine, page, err)
		}
		images[i] = ocr.Image{Page: page, Path: dst}
	}
	r.logger.Info("running OCR",
		"engine", r.ocr.Adapter.Engine().Name(),
		"pages", len(pages),
		"lang", r.ocr.Lang,
		"dpi", r.ocr.DPI)
	return r.ocr.Adapter.Recognize(ctx, images, r.ocr.Lang, r.ocr.DPI)
}
