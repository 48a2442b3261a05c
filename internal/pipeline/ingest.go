package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/docrag/internal/chunker"
	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/observability"
	"github.com/efebarandurmaz/docrag/internal/report"
	"github.com/efebarandurmaz/docrag/internal/vector"
)

// DocumentLoader loads one file into a normalized document.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*model.Document, error)
	Supported(path string) bool
}

// Embedder embeds chunk texts and can probe its endpoint.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Ping(ctx context.Context) error
}

// DefaultProbeTimeout bounds the preflight reachability check.
const DefaultProbeTimeout = 15 * time.Second

// ConfirmFunc decides whether to go on after a failed preflight.
type ConfirmFunc func(ctx context.Context, cause error) bool

// Ingestor runs Load, Chunk, Embed and Index for each document.
type Ingestor struct {
	loader    DocumentLoader
	chunker   *chunker.Chunker
	embedder  Embedder
	index     vector.Index
	logger    *slog.Logger
	workers   int
	recursive bool
	confirm   ConfirmFunc
	probe     time.Duration
}

// IngestOption configures an Ingestor.
type IngestOption func(*Ingestor)

// WithDocumentWorkers bounds how many documents are ingested at once.
func WithDocumentWorkers(n int) IngestOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.workers = n
		}
	}
}

// WithRecursive controls whether directories are walked recursively.
func WithRecursive(r bool) IngestOption {
	return func(in *Ingestor) { in.recursive = r }
}

// WithConfirm sets the prompt used when the embedding endpoint is
// unreachable. Without one the run stops.
func WithConfirm(f ConfirmFunc) IngestOption {
	return func(in *Ingestor) { in.confirm = f }
}

func WithLogger(l *slog.Logger) IngestOption {
	return func(in *Ingestor) { in.logger = l }
}

// NewIngestor creates an Ingestor.
func NewIngestor(loader DocumentLoader, ch *chunker.Chunker, embedder Embedder, index vector.Index, opts ...IngestOption) *Ingestor {
	in := &Ingestor{
		loader:    loader,
		chunker:   ch,
		embedder:  embedder,
		index:     index,
		logger:    slog.Default(),
		workers:   1,
		recursive: true,
		probe:     DefaultProbeTimeout,
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Preflight probes the embedding endpoint. When it is unreachable the
// confirm hook decides whether to continue.
func (in *Ingestor) Preflight(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, in.probe)
	err := in.embedder.Ping(probeCtx)
	cancel()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if in.confirm != nil && in.confirm(ctx, err) {
		in.logger.Warn("continuing with unreachable embedding service", "error", err)
		return nil
	}
	if !errors.Is(err, model.ErrServiceUnavailable) {
		err = fmt.Errorf("%w: %w", model.ErrEmbeddingServiceUnavailable, err)
	}
	return err
}

// Run ingests every target under paths into the index, recording each
// outcome in rep. A failing document does not stop the others; the
// returned error joins all document failures.
func (in *Ingestor) Run(ctx context.Context, paths []string, rep *report.IngestReport) error {
	if err := in.Preflight(ctx); err != nil {
		return err
	}

	targets, err := Scan(paths, in.recursive, in.loader.Supported)
	if err != nil {
		return fmt.Errorf("%w: scanning inputs: %w", model.ErrInput, err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: no documents found under %v", model.ErrInput, paths)
	}

	errs := make([]error, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(in.workers)
	for i, t := range targets {
		if t.Skip {
			in.logger.Info("skipping unsupported file", "path", t.Path)
			rep.Add(report.DocumentResult{Path: t.Path, Status: report.StatusSkipped})
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := in.IngestFile(ctx, t.Path)
			rep.Add(res)
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d documents failed: %w", len(failed), len(targets), errors.Join(failed...))
	}
	return nil
}

// IngestFile ingests one file. A document whose content hash is already
// indexed is left alone; a changed one has all its chunks replaced in a
// single index write.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (report.DocumentResult, error) {
	start := time.Now()
	res := report.DocumentResult{Path: path, Status: report.StatusFailed}
	if info, err := os.Stat(path); err == nil {
		res.Bytes = info.Size()
	}

	ctx, span := observability.StartDocumentSpan(ctx, path)
	defer span.End()

	fail := func(err error) (report.DocumentResult, error) {
		err = fmt.Errorf("%s: %w", path, err)
		observability.RecordError(span, err)
		res.Error = err.Error()
		res.Duration = time.Since(start)
		in.logger.Error("ingest failed", "path", path, "error", err)
		return res, err
	}

	doc, err := in.load(ctx, path)
	if err != nil {
		return fail(err)
	}
	res.Path = doc.Path
	res.Format = string(doc.Format)
	res.OCR = doc.UsedOCR()

	prev, found, err := in.index.DocumentHash(ctx, doc.ID)
	if err != nil {
		return fail(err)
	}
	if found && prev == doc.Hash {
		res.Status = report.StatusUnchanged
		res.Duration = time.Since(start)
		observability.RecordDocumentResult(span, 0, res.OCR, true)
		in.logger.Info("document unchanged", "path", doc.Path)
		return res, nil
	}

	_, chunkSpan := observability.StartStageSpan(ctx, observability.StageChunk)
	chunks := in.chunker.Split(doc)
	chunkSpan.SetAttributes(attribute.Int("document.chunks", len(chunks)))
	chunkSpan.End()

	vectors, err := in.embed(ctx, chunks)
	if err != nil {
		return fail(err)
	}

	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vector.Entry{Chunk: c, Vector: vectors[i], DocumentHash: doc.Hash}
	}
	if err := in.add(ctx, entries); err != nil {
		return fail(err)
	}

	res.Status = report.StatusProcessed
	res.Chunks = len(chunks)
	res.Duration = time.Since(start)
	observability.RecordDocumentResult(span, len(chunks), res.OCR, false)
	in.logger.Info("document ingested",
		"path", doc.Path,
		"format", doc.Format,
		"chunks", len(chunks),
		"replaced", found,
		"duration", res.Duration)
	return res, nil
}

func (in *Ingestor) load(ctx context.Context, path string) (*model.Document, error) {
	ctx, span := observability.StartStageSpan(ctx, observability.StageLoad)
	defer span.End()
	doc, err := in.loader.Load(ctx, path)
	observability.RecordError(span, err)
	return doc, err
}

func (in *Ingestor) embed(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	ctx, span := observability.StartStageSpan(ctx, observability.StageEmbed,
		attribute.Int("embed.texts", len(chunks)))
	defer span.End()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := in.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(vecs) != len(chunks) {
		err := fmt.Errorf("embedding returned %d vectors for %d chunks", len(vecs), len(chunks))
		observability.RecordError(span, err)
		return nil, err
	}
	return vecs, nil
}

func (in *Ingestor) add(ctx context.Context, entries []vector.Entry) error {
	ctx, span := observability.StartStageSpan(ctx, observability.StageIndex,
		attribute.Int("index.entries", len(entries)))
	defer span.End()
	err := in.index.Add(ctx, entries...)
	observability.RecordError(span, err)
	return err
}
