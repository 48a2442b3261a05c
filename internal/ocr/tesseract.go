package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/efebarandurmaz/docrag/internal/langcode"
	"github.com/efebarandurmaz/docrag/internal/model"
)

// TessdataCandidates are probed in order when no language-data directory is configured.
var TessdataCandidates = []string{
	"/usr/share/tessdata",
	"/usr/local/share/tessdata",
	"/opt/homebrew/share/tessdata",
	"/opt/tesseract/share/tessdata",
	"/usr/share/tesseract-ocr/4.00/tessdata",
	"/usr/share/tesseract-ocr/5/tessdata",
}

// Tesseract is the classical engine, driven through the tesseract executable.
type Tesseract struct {
	cmd      string
	tessdata string
	runner   Runner
	logger   *slog.Logger

	mu        sync.Mutex
	installed map[string]bool
}

// NewTesseract builds the engine. The language-data directory is resolved
// from options, then TESSDATA_PREFIX, then TessdataCandidates.
func NewTesseract(opts Options) *Tesseract {
	cmd := opts.TesseractCmd
	if cmd == "" {
		cmd = "tesseract"
	}
	return &Tesseract{
		cmd:      cmd,
		tessdata: ResolveTessdata(opts.TessdataDir, os.Getenv, dirHasTraineddata),
		runner:   opts.runner(),
		logger:   opts.logger(),
	}
}

func (t *Tesseract) Name() string                    { return "tesseract" }
func (t *Tesseract) Vocabulary() langcode.Vocabulary { return langcode.Classical }
func (t *Tesseract) Parallelism() int                { return 0 }

// TessdataDir is the resolved language-data directory, empty when tesseract's own default applies.
func (t *Tesseract) TessdataDir() string { return t.tessdata }

func (t *Tesseract) Prepare(ctx context.Context, langs []string) error {
	path, err := t.runner.LookPath(t.cmd)
	if err != nil {
		return fmt.Errorf("%w: tesseract executable %q not found: %w", model.ErrOCREngine, t.cmd, err)
	}
	t.cmd = path

	installed, err := t.installedLanguages(ctx)
	if err != nil {
		return err
	}
	for _, l := range langs {
		if !installed[l] {
			where := t.tessdata
			if where == "" {
				where = "the default tessdata directory"
			}
			return fmt.Errorf("%w: tesseract language data for %q is not installed in %s", model.ErrOCREngine, l, where)
		}
	}
	return nil
}

func (t *Tesseract) installedLanguages(ctx context.Context) (map[string]bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.installed != nil {
		return t.installed, nil
	}

	args := []string{"--list-langs"}
	if t.tessdata != "" {
		args = append(args, "--tessdata-dir", t.tessdata)
	}
	out, err := t.runner.Run(ctx, t.cmd, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tesseract languages: %w", model.ErrOCREngine, err)
	}
	t.installed = parseLangList(out)
	t.logger.Debug("tesseract languages", "tessdata", t.tessdata, "count", len(t.installed))
	return t.installed, nil
}

func (t *Tesseract) Recognize(ctx context.Context, img Image, langs []string, dpi int) (string, error) {
	args := []string{img.Path, "stdout", "-l", langcode.JoinClassical(langs)}
	if dpi > 0 {
		args = append(args, "--dpi", strconv.Itoa(dpi))
	}
	if t.tessdata != "" {
		args = append(args, "--tessdata-dir", t.tessdata)
	}
	out, err := t.runner.Run(ctx, t.cmd, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// parseLangList reads `tesseract --list-langs` output.
func parseLangList(out []byte) map[string]bool {
	langs := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of available languages") {
			continue
		}
		langs[line] = true
	}
	return langs
}

// ResolveTessdata picks the language-data directory.
func ResolveTessdata(explicit string, getenv func(string) string, usable func(string) bool) string {
	if explicit != "" {
		return explicit
	}
	if env := getenv("TESSDATA_PREFIX"); env != "" {
		return env
	}
	for _, dir := range TessdataCandidates {
		if usable(dir) {
			return dir
		}
	}
	return ""
}

func dirHasTraineddata(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "*.traineddata"))
	return err == nil && len(matches) > 0
}
