package local

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/vector"
)

func entry(doc string, ord int, hash string, v ...float32) vector.Entry {
	return vector.Entry{
		Chunk: model.Chunk{
			ID:         model.ChunkID(doc, ord),
			DocumentID: doc,
			Source:     "/docs/" + doc + ".txt",
			Ordinal:    ord,
			Text:       doc + " chunk",
		},
		Vector:       v,
		DocumentHash: hash,
	}
}

func TestOpen_MissingDirIsEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir)
	require.NoError(t, err)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, s.Dimension())

	got, err := s.Query(context.Background(), []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "open must not create the directory")
}

func TestSelfMatch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	v := []float32{0.3, -0.2, 0.9}
	require.NoError(t, s.Add(ctx, entry("a", 0, "h", v...), entry("b", 0, "h", 0.9, 0.1, 0)))

	got, err := s.Query(ctx, v, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a:000000", got[0].Chunk.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-5)
}

func TestRankingDeterminism(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Unit vectors whose cosine with (1, 0) is 0.9, 0.5 and 0.2.
	require.NoError(t, s.Add(ctx,
		entry("c", 0, "h", 0.2, 0.9798),
		entry("a", 0, "h", 0.9, 0.4359),
		entry("b", 0, "h", 0.5, 0.8660),
	))

	got, err := s.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a:000000", got[0].Chunk.ID)
	assert.Equal(t, "b:000000", got[1].Chunk.ID)
	assert.InDelta(t, 0.9, got[0].Score, 1e-3)
	assert.InDelta(t, 0.5, got[1].Score, 1e-3)
}

func TestEqualScoresOrderedByID(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, entry("z", 0, "h", 1, 1), entry("m", 0, "h", 2, 2), entry("k", 0, "h", 3, 3)))
	got, err := s.Query(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"k:000000", "m:000000", "z:000000"},
		[]string{got[0].Chunk.ID, got[1].Chunk.ID, got[2].Chunk.ID})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, entry("a", 0, "h1", 1, 0, 0), entry("a", 1, "h1", 0, 1, 0), entry("b", 0, "h2", 0, 0, 1)))
	q := []float32{0.5, 0.4, 0.1}
	before, err := s.Query(ctx, q, 3)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	after, err := reopened.Query(ctx, q, 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 3, reopened.Dimension())

	hash, ok, err := reopened.DocumentHash(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "h2", hash)

	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, 3, m.Entries)
	assert.Equal(t, 2, m.Documents)
	assert.Equal(t, 3, m.Dimension)
}

func TestAddReplacesDocument(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, entry("a", 0, "old", 1, 0), entry("a", 1, "old", 1, 0), entry("a", 2, "old", 1, 0), entry("b", 0, "x", 0, 1)))
	require.NoError(t, s.Add(ctx, entry("a", 0, "new", 1, 0)))

	n, _ := s.Count(ctx)
	assert.Equal(t, 2, n)
	hash, ok, _ := s.DocumentHash(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "new", hash)
}

func TestDimensionMismatch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, entry("a", 0, "h", 1, 0, 0)))

	err = s.Add(ctx, entry("b", 0, "h", 1, 0))
	assert.ErrorIs(t, err, model.ErrEmbeddingDimensionMismatch)
	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n, "a rejected batch must not be applied")

	_, err = s.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, model.ErrEmbeddingDimensionMismatch)
}

func TestDeleteDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, entry("a", 0, "h", 1, 0)))

	require.NoError(t, s.DeleteDocument(ctx, "a"))
	require.NoError(t, s.DeleteDocument(ctx, "missing"))
	_, ok, _ := s.DocumentHash(ctx, "a")
	assert.False(t, ok)
	assert.Zero(t, s.Dimension(), "an emptied index accepts a new dimension")

	reopened, err := Open(dir)
	require.NoError(t, err)
	n, _ := reopened.Count(ctx)
	assert.Zero(t, n)
}

func TestCorruptedSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotFile), []byte("not gob"), 0o644))

	_, err := Open(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrIndexCorrupted)
	assert.Equal(t, model.ExitIndex, model.ExitCode(err))
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, entry("seed", 0, "h", 1, 1)))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				doc := string(rune('a' + w))
				assert.NoError(t, s.Add(ctx, entry(doc, 0, "h", 1, float32(i)), entry(doc, 1, "h", float32(i), 1)))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				got, err := s.Query(ctx, []float32{1, 1}, 100)
				assert.NoError(t, err)
				// Documents are always written whole.
				perDoc := map[string]int{}
				for _, g := range got {
					perDoc[g.Chunk.DocumentID]++
				}
				for doc, n := range perDoc {
					if doc != "seed" {
						assert.Equal(t, 2, n, "document %s", doc)
					}
				}
			}
		}()
	}
	wg.Wait()

	n, _ := s.Count(ctx)
	assert.Equal(t, 9, n)
	reopened, err := Open(s.Dir())
	require.NoError(t, err)
	m, _ := reopened.Count(ctx)
	assert.Equal(t, 9, m)
}
