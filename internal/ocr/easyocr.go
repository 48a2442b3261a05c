package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/efebarandurmaz/docrag/internal/langcode"
	"github.com/efebarandurmaz/docrag/internal/model"
)

// EasyOCR is the neural engine, driven through the easyocr command-line entry point.
type EasyOCR struct {
	cmd    string
	gpu    bool
	runner Runner
	logger *slog.Logger
}

func NewEasyOCR(opts Options) *EasyOCR {
	cmd := opts.EasyOCRCmd
	if cmd == "" {
		cmd = "easyocr"
	}
	return &EasyOCR{cmd: cmd, gpu: opts.GPU, runner: opts.runner(), logger: opts.logger()}
}

func (e *EasyOCR) Name() string                    { return "easyocr" }
func (e *EasyOCR) Vocabulary() langcode.Vocabulary { return langcode.Neural }

// Parallelism is 1 on GPU: the model shares a single device context.
func (e *EasyOCR) Parallelism() int {
	if e.gpu {
		return 1
	}
	return 0
}

func (e *EasyOCR) Prepare(_ context.Context, langs []string) error {
	path, err := e.runner.LookPath(e.cmd)
	if err != nil {
		return fmt.Errorf("%w: easyocr executable %q not found: %w", model.ErrOCREngine, e.cmd, err)
	}
	e.cmd = path
	e.logger.Debug("easyocr ready", "cmd", path, "gpu", e.gpu, "languages", langs)
	return nil
}

func (e *EasyOCR) Recognize(ctx context.Context, img Image, langs []string, _ int) (string, error) {
	args := append([]string{"-l"}, langs...)
	args = append(args, "-f", img.Path, "--detail", "0")
	// The CLI parses --gpu with bool(), so only an empty value turns it off.
	if e.gpu {
		args = append(args, "--gpu=True")
	} else {
		args = append(args, "--gpu=")
	}
	out, err := e.runner.Run(ctx, e.cmd, args...)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n"), nil
}
