package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/docrag/internal/answer"
	"github.com/efebarandurmaz/docrag/internal/chunker"
	"github.com/efebarandurmaz/docrag/internal/config"
	"github.com/efebarandurmaz/docrag/internal/llm"
	"github.com/efebarandurmaz/docrag/internal/loader"
	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/report"
	"github.com/efebarandurmaz/docrag/internal/retriever"
	"github.com/efebarandurmaz/docrag/internal/vector/local"
)

const bowDim = 256

// bowEmbedder hashes words into a fixed-size count vector, so texts that
// share words end up close together.
type bowEmbedder struct {
	mu      sync.Mutex
	texts   int
	pingErr error
}

func (e *bowEmbedder) vec(text string) []float32 {
	v := make([]float32, bowDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%bowDim]++
	}
	return v
}

func (e *bowEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.texts += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e *bowEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vec(text), nil
}

func (e *bowEmbedder) Ping(context.Context) error { return e.pingErr }

func (e *bowEmbedder) embedded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

// countingProvider is a generation provider that records calls.
type countingProvider struct {
	mu    sync.Mutex
	calls int
	reply string
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Complete(context.Context, *llm.Prompt, *llm.RequestOptions) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return &llm.Response{Content: p.reply}, nil
}

func (p *countingProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not an embedding provider")
}

type fixture struct {
	dir      string
	store    *local.Store
	embedder *bowEmbedder
	ingestor *Ingestor
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T, size, overlap int, opts ...IngestOption) *fixture {
	t.Helper()
	store, err := local.Open(filepath.Join(t.TempDir(), "db"), local.WithLogger(discard()))
	require.NoError(t, err)
	ch, err := chunker.New(size, overlap)
	require.NoError(t, err)
	emb := &bowEmbedder{}
	opts = append([]IngestOption{WithLogger(discard())}, opts...)
	return &fixture{
		dir:      t.TempDir(),
		store:    store,
		embedder: emb,
		ingestor: NewIngestor(loader.New(loader.WithLogger(discard())), ch, emb, store, opts...),
	}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestIngestAndQueryRaw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	f.write(t, "sky.txt", "The sky is blue.")
	f.write(t, "grass.txt", "Grass grows in the field.")

	rep := report.NewIngest("local", f.store.Dir())
	require.NoError(t, f.ingestor.Run(ctx, []string{f.dir}, rep))
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, 2, f.count(t))

	q := NewQuerier(retriever.New(f.embedder, f.store, discard()), nil, discard())
	res, err := q.Run(ctx, model.Query{Text: "What color is the sky?", K: 1, Raw: true})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Contains(t, res.Chunks[0].Chunk.Text, "The sky is blue.")
	assert.Nil(t, res.Answer)
}

func TestQuery_AnswerCitesRetrievedChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	path := f.write(t, "sky.txt", "The sky is blue.")
	_, err := f.ingestor.IngestFile(ctx, path)
	require.NoError(t, err)

	provider := &countingProvider{reply: "Answer: The sky is blue [1]."}
	q := NewQuerier(retriever.New(f.embedder, f.store, discard()), answer.New(provider), discard())
	res, err := q.Run(ctx, model.Query{Text: "What color is the sky?", K: 4})
	require.NoError(t, err)
	require.NotNil(t, res.Answer)
	assert.Equal(t, "The sky is blue [1].", res.Answer.Text)
	assert.Equal(t, []string{model.ChunkID(model.DocumentID(path), 0)}, res.Answer.Citations)
	assert.Equal(t, 1, provider.calls)
}

func TestQuery_EmptyIndexSkipsGeneration(t *testing.T) {
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	provider := &countingProvider{reply: "should not be used"}
	q := NewQuerier(retriever.New(f.embedder, f.store, discard()), answer.New(provider), discard())

	res, err := q.Run(context.Background(), model.Query{Text: "anything?", K: 4})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Equal(t, answer.NoContextAnswer, res.Answer.Text)
	assert.Zero(t, provider.calls)
}

func TestQuery_InvalidQuery(t *testing.T) {
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	q := NewQuerier(retriever.New(f.embedder, f.store, discard()), nil, discard())
	_, err := q.Run(context.Background(), model.Query{Text: "sky", K: 0, Raw: true})
	require.Error(t, err)
	assert.Equal(t, model.ExitQuery, model.ExitCode(err))
}

func TestIngest_UnchangedDocumentIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 2)
	path := f.write(t, "doc.txt", "alpha beta gamma delta epsilon")

	res, err := f.ingestor.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, report.StatusProcessed, res.Status)
	embedded := f.embedder.embedded()
	before := f.count(t)

	res, err = f.ingestor.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, report.StatusUnchanged, res.Status)
	assert.Equal(t, embedded, f.embedder.embedded())
	assert.Equal(t, before, f.count(t))
}

func TestIngest_ChangedDocumentReplacesChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 0)
	path := f.write(t, "doc.txt", strings.Repeat("x", 45))

	_, err := f.ingestor.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 5, f.count(t))

	f.write(t, "doc.txt", strings.Repeat("y", 15))
	res, err := f.ingestor.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, report.StatusProcessed, res.Status)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, f.count(t))

	hash, found, err := f.store.DocumentHash(ctx, model.DocumentID(path))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.ContentHash(strings.Repeat("y", 15)), hash)
}

func TestRun_DirectoryScan(t *testing.T) {
	for _, tc := range []struct {
		name      string
		recursive bool
		processed int
	}{
		{"recursive", true, 3},
		{"flat", false, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap, WithRecursive(tc.recursive), WithDocumentWorkers(2))
			f.write(t, "a.txt", "first document")
			f.write(t, "b.md", "# second\n\ndocument")
			f.write(t, "c.bin", "\x00\x01")
			f.write(t, "sub/d.txt", "nested document")
			f.write(t, ".hidden/e.txt", "hidden document")

			rep := report.NewIngest("local", f.store.Dir())
			require.NoError(t, f.ingestor.Run(context.Background(), []string{f.dir}, rep))
			assert.Equal(t, tc.processed, rep.Processed)
			assert.Equal(t, 1, rep.Skipped)
			assert.Zero(t, rep.Failed)
		})
	}
}

func TestRun_ExplicitUnsupportedFileFails(t *testing.T) {
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	path := f.write(t, "data.bin", "bytes")

	rep := report.NewIngest("local", f.store.Dir())
	err := f.ingestor.Run(context.Background(), []string{path}, rep)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
	assert.Equal(t, model.ExitInput, model.ExitCode(err))
	assert.Equal(t, 1, rep.Failed)
}

func TestRun_FailureIsolatedPerDocument(t *testing.T) {
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	good := f.write(t, "good.txt", "The sky is blue.")
	empty := f.write(t, "empty.txt", "   \n\n  ")
	missing := filepath.Join(f.dir, "missing.txt")

	rep := report.NewIngest("local", f.store.Dir())
	err := f.ingestor.Run(context.Background(), []string{good, empty, missing}, rep)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNoExtractableText)
	assert.ErrorIs(t, err, model.ErrFileNotFound)
	assert.Contains(t, err.Error(), "2 of 3 documents failed")
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, f.count(t))
}

func TestPreflight(t *testing.T) {
	unreachable := errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")

	t.Run("reachable", func(t *testing.T) {
		f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
		assert.NoError(t, f.ingestor.Preflight(context.Background()))
	})

	t.Run("declined", func(t *testing.T) {
		var asked error
		f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap,
			WithConfirm(func(_ context.Context, cause error) bool { asked = cause; return false }))
		f.embedder.pingErr = unreachable

		err := f.ingestor.Preflight(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrEmbeddingServiceUnavailable)
		assert.Equal(t, model.ExitService, model.ExitCode(err))
		assert.Equal(t, unreachable, asked)
	})

	t.Run("no prompt", func(t *testing.T) {
		f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
		f.embedder.pingErr = unreachable
		assert.ErrorIs(t, f.ingestor.Preflight(context.Background()), model.ErrServiceUnavailable)
	})

	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap,
			WithConfirm(func(context.Context, error) bool { return true }))
		f.embedder.pingErr = unreachable
		assert.NoError(t, f.ingestor.Preflight(context.Background()))
	})
}

func TestRun_DeclinedPreflightIndexesNothing(t *testing.T) {
	f := newFixture(t, chunker.DefaultSize, chunker.DefaultOverlap)
	f.embedder.pingErr = errors.New("connection refused")
	path := f.write(t, "a.txt", "text")

	err := f.ingestor.Run(context.Background(), []string{path}, report.NewIngest("local", f.store.Dir()))
	require.Error(t, err)
	assert.Zero(t, f.embedder.embedded())
	assert.Zero(t, f.count(t))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.pdf", "notes.xyz", "sub/c.md", ".git/config.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	supported := func(p string) bool { return filepath.Ext(p) != ".xyz" }

	targets, err := Scan([]string{dir, filepath.Join(dir, "b.txt")}, true, supported)
	require.NoError(t, err)
	assert.Equal(t, []Target{
		{Path: filepath.Join(dir, "a.pdf")},
		{Path: filepath.Join(dir, "b.txt")},
		{Path: filepath.Join(dir, "notes.xyz"), Skip: true},
		{Path: filepath.Join(dir, "sub", "c.md")},
	}, targets)

	missing := filepath.Join(dir, "nope.txt")
	targets, err = Scan([]string{missing}, true, supported)
	require.NoError(t, err)
	assert.Equal(t, []Target{{Path: missing}}, targets)
}

func TestOpenIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	idx, location, err := OpenIndex(context.Background(), config.IndexConfig{Backend: "local", Dir: dir}, discard())
	require.NoError(t, err)
	defer idx.Close()
	assert.Equal(t, dir, location)

	_, _, err = OpenIndex(context.Background(), config.IndexConfig{Backend: "faiss"}, discard())
	assert.Error(t, err)
}
