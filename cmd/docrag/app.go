package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/efebarandurmaz/docrag/internal/answer"
	"github.com/efebarandurmaz/docrag/internal/chunker"
	"github.com/efebarandurmaz/docrag/internal/config"
	"github.com/efebarandurmaz/docrag/internal/embedding"
	"github.com/efebarandurmaz/docrag/internal/llm"
	"github.com/efebarandurmaz/docrag/internal/llm/builtin"
	"github.com/efebarandurmaz/docrag/internal/loader"
	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/observability"
	"github.com/efebarandurmaz/docrag/internal/ocr"
	"github.com/efebarandurmaz/docrag/internal/pipeline"
	"github.com/efebarandurmaz/docrag/internal/vector"
)

var version = "dev"

// app holds what every command needs once configuration is resolved.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	tracing *observability.TracerProvider
	factory *llm.ProviderFactory
}

func loadConfig(path, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// start validates cfg and builds the logger and tracer.
func start(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration: %w", model.ErrInput, err)
	}
	for _, w := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	logger, err := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInput, err)
	}
	slog.SetDefault(logger)

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, tracing: tp, factory: builtin.NewFactory()}, nil
}

func (a *app) close() {
	if err := a.tracing.Shutdown(context.Background()); err != nil {
		a.logger.Warn("flushing traces", "error", err)
	}
}

func (a *app) openIndex(ctx context.Context) (vector.Index, string, error) {
	return pipeline.OpenIndex(ctx, a.cfg.Index, a.logger)
}

func (a *app) embeddingClient(index vector.Index) (*embedding.Client, error) {
	provider, err := a.factory.Create(a.cfg.EmbeddingProvider())
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("no embedding provider configured")
	}
	dim := a.cfg.Embedding.Dimension
	if dim == 0 {
		dim = index.Dimension()
	}
	return embedding.New(provider,
		embedding.WithBatchSize(a.cfg.Embedding.BatchSize),
		embedding.WithWorkers(a.cfg.Embedding.Workers),
		embedding.WithDimension(dim),
		embedding.WithLogger(a.logger),
	), nil
}

func (a *app) answerer() (*answer.Answerer, error) {
	provider, err := a.factory.Create(a.cfg.GenerationProvider())
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, nil
	}
	return answer.New(provider,
		answer.WithTemperature(a.cfg.LLM.Temperature),
		answer.WithMaxTokens(a.cfg.LLM.MaxTokens),
		answer.WithLogger(a.logger),
	), nil
}

// loader builds the format loader. With OCR enabled the language spec is
// checked here so an unknown code fails before any document is read.
func (a *app) loader(withOCR bool) (*loader.Loader, error) {
	if err := loader.SetPDFLicense(a.cfg.PDF.LicenseKey); err != nil {
		return nil, err
	}
	opts := []loader.Option{loader.WithLogger(a.logger)}
	if !withOCR {
		return loader.New(opts...), nil
	}

	engine, err := ocr.DefaultRegistry().New(a.cfg.OCR.Engine, ocr.Options{
		TesseractCmd: a.cfg.OCR.TesseractCmd,
		TessdataDir:  a.cfg.OCR.TessdataDir,
		EasyOCRCmd:   a.cfg.OCR.EasyOCRCmd,
		GPU:          a.cfg.OCR.GPU,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, err
	}
	adapter := ocr.NewAdapter(engine, ocr.WithWorkers(a.cfg.OCR.Workers), ocr.WithLogger(a.logger))
	if _, err := adapter.Languages(a.cfg.OCR.Lang); err != nil {
		return nil, err
	}
	policy, err := loader.ParsePolicy(a.cfg.OCR.Pages)
	if err != nil {
		return nil, err
	}
	attrs := []any{"engine", engine.Name(), "lang", a.cfg.OCR.Lang, "dpi", a.cfg.OCR.DPI, "pages", policy}
	if t, ok := engine.(*ocr.Tesseract); ok && t.TessdataDir() != "" {
		attrs = append(attrs, "tessdata", t.TessdataDir())
	}
	a.logger.Debug("ocr enabled", attrs...)
	return loader.New(append(opts, loader.WithOCR(loader.OCROptions{
		Enabled: true,
		Adapter: adapter,
		Lang:    a.cfg.OCR.Lang,
		DPI:     a.cfg.OCR.DPI,
		Policy:  policy,
	}))...), nil
}

func (a *app) chunker() (*chunker.Chunker, error) {
	c, err := chunker.New(a.cfg.Chunk.Size, a.cfg.Chunk.Overlap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInput, err)
	}
	return c, nil
}

// confirmContinue asks on out and reads the reply from in. Anything but
// y/yes, including end of input, declines.
func confirmContinue(in io.Reader, out io.Writer, assumeYes bool) pipeline.ConfirmFunc {
	return func(_ context.Context, cause error) bool {
		if assumeYes {
			return true
		}
		fmt.Fprintf(out, "The embedding service is unreachable: %v\nContinue anyway? [y/N] ", cause)
		line, _ := bufio.NewReader(in).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}
