// Package vector defines the vector index contract shared by the local,
// Qdrant and Chroma backends, plus the ranking rules they all follow.
package vector

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/efebarandurmaz/docrag/internal/model"
)

// Entry is one chunk and its embedding as stored in an index.
type Entry struct {
	Chunk        model.Chunk
	Vector       []float32
	DocumentHash string // content hash of the owning document
}

// Index stores chunk vectors and answers nearest-neighbour queries.
//
// Add is a single write: entries whose document is already indexed replace
// every previous chunk of that document. Implementations serialize writes;
// concurrent queries never observe a partially applied Add.
type Index interface {
	// Dimension is the vector size the index holds, 0 while empty.
	Dimension() int
	Add(ctx context.Context, entries ...Entry) error
	// Query returns up to k entries ordered by descending cosine similarity,
	// ties broken by ascending chunk id.
	Query(ctx context.Context, vec []float32, k int) ([]model.RetrievedChunk, error)
	// DocumentHash reports the stored content hash of a document.
	DocumentHash(ctx context.Context, documentID string) (hash string, ok bool, err error)
	DeleteDocument(ctx context.Context, documentID string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Cosine returns the cosine similarity of a and b, 0 when either is a zero
// vector. a and b must have the same length.
func Cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Rank sorts results by descending score then ascending chunk id, and
// truncates to k.
func Rank(results []model.RetrievedChunk, k int) []model.RetrievedChunk {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// SearchFunc asks a backend for its best limit matches in descending score
// order. Equal scores may come back in any order.
type SearchFunc func(ctx context.Context, limit int) ([]model.RetrievedChunk, error)

// TopK returns the k best matches from a backend that does not break ties by
// chunk id. It over-fetches and widens the request while the last result
// still ties the k-th, so every candidate tied at the cut takes part in Rank.
func TopK(ctx context.Context, k int, search SearchFunc) ([]model.RetrievedChunk, error) {
	if k <= 0 {
		return []model.RetrievedChunk{}, nil
	}
	limit := 2 * k
	for {
		results, err := search(ctx, limit)
		if err != nil {
			return nil, err
		}
		if len(results) < limit {
			return Rank(results, k), nil
		}
		ranked := Rank(results, -1)
		if ranked[k-1].Score != ranked[len(ranked)-1].Score {
			return ranked[:k], nil
		}
		limit *= 2
	}
}

// CheckDimension fails when a vector of size got is offered to an index of
// size want. want == 0 accepts anything.
func CheckDimension(want, got int) error {
	if got == 0 {
		return fmt.Errorf("%w: empty vector", model.ErrEmbeddingDimensionMismatch)
	}
	if want != 0 && want != got {
		return fmt.Errorf("%w: vector has %d dimensions, index holds %d", model.ErrEmbeddingDimensionMismatch, got, want)
	}
	return nil
}

// Validate checks a batch for internal consistency before it is written and
// returns the batch's dimension.
func Validate(want int, entries []Entry) (int, error) {
	dim := want
	for _, e := range entries {
		if e.Chunk.ID == "" || e.Chunk.DocumentID == "" {
			return 0, fmt.Errorf("%w: entry without chunk or document id", model.ErrIndex)
		}
		if err := CheckDimension(dim, len(e.Vector)); err != nil {
			return 0, fmt.Errorf("chunk %s: %w", e.Chunk.ID, err)
		}
		dim = len(e.Vector)
	}
	return dim, nil
}

// Documents lists the distinct document ids in entries, in first-seen order.
func Documents(entries []Entry) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if !seen[e.Chunk.DocumentID] {
			seen[e.Chunk.DocumentID] = true
			ids = append(ids, e.Chunk.DocumentID)
		}
	}
	return ids
}
