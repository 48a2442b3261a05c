// Package ocr turns rendered page images into text through pluggable
// engines. The Adapter owns language translation and page-level
// parallelism; engines only know how to run one page.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/efebarandurmaz/docrag/internal/langcode"
)

// Image is one rendered page on disk.
type Image struct {
	Page int // 1-based page number
	Path string
}

// Engine is an OCR backend.
type Engine interface {
	Name() string
	// Vocabulary is the language-code family the engine accepts.
	Vocabulary() langcode.Vocabulary
	// Prepare verifies the engine can run with the given (already translated)
	// languages. Called once per document before any page is recognized.
	Prepare(ctx context.Context, langs []string) error
	Recognize(ctx context.Context, img Image, langs []string, dpi int) (string, error)
	// Parallelism caps pages in flight; 0 means no engine-specific cap.
	Parallelism() int
}

// Options configure engine construction.
type Options struct {
	TesseractCmd string
	TessdataDir  string
	EasyOCRCmd   string
	GPU          bool
	Runner       Runner
	Logger       *slog.Logger
}

func (o Options) runner() Runner {
	if o.Runner != nil {
		return o.Runner
	}
	return ExecRunner{}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Runner executes external commands.
type Runner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
