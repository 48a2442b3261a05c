package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/docrag/internal/langcode"
	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/observability"
)

// Adapter runs an engine over the pages of one document.
type Adapter struct {
	engine  Engine
	table   *langcode.Table
	workers int
	logger  *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithWorkers bounds the number of pages recognized concurrently.
func WithWorkers(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter wraps an engine. Workers default to the CPU count.
func NewAdapter(engine Engine, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		engine:  engine,
		table:   langcode.Default(),
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Engine returns the wrapped engine.
func (a *Adapter) Engine() Engine { return a.engine }

// Languages translates a caller-supplied spec into the engine's vocabulary.
func (a *Adapter) Languages(spec string) ([]string, error) {
	codes, err := langcode.ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	return a.table.Translate(codes, a.engine.Vocabulary())
}

// Recognize returns one text per image, in input order. Languages are
// translated before the engine is touched. Any page failure fails the
// whole call.
func (a *Adapter) Recognize(ctx context.Context, images []Image, spec string, dpi int) ([]string, error) {
	langs, err := a.Languages(spec)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}

	ctx, span := observability.StartStageSpan(ctx, observability.StageOCR,
		attribute.String("ocr.engine", a.engine.Name()),
		attribute.Int("ocr.pages", len(images)))
	defer span.End()

	if err := a.engine.Prepare(ctx, langs); err != nil {
		err = asEngineError(a.engine.Name(), err)
		observability.RecordError(span, err)
		return nil, err
	}

	limit := a.workers
	if p := a.engine.Parallelism(); p > 0 && p < limit {
		limit = p
	}

	start := time.Now()
	texts := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, img := range images {
		g.Go(func() error {
			text, err := a.engine.Recognize(gctx, img, langs, dpi)
			if err != nil {
				return fmt.Errorf("page %d: %w", img.Page, asEngineError(a.engine.Name(), err))
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		observability.RecordError(span, err)
		return nil, err
	}

	empty := true
	for _, t := range texts {
		if t != "" {
			empty = false
			break
		}
	}
	if empty {
		return nil, fmt.Errorf("%w: %s recognized no text on %d page(s)", model.ErrOCREngine, a.engine.Name(), len(images))
	}

	a.logger.Debug("ocr finished",
		"engine", a.engine.Name(),
		"languages", langs,
		"pages", len(images),
		"workers", limit,
		"duration", time.Since(start))
	return texts, nil
}

func asEngineError(engine string, err error) error {
	if errors.Is(err, model.ErrOCR) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", model.ErrOCREngine, engine, err)
}
