// Package retriever finds the chunks most similar to a question.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/vector"
)

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds the question and searches the index.
type Retriever struct {
	embedder QueryEmbedder
	index    vector.Index
	logger   *slog.Logger
}

// New creates a Retriever. logger may be nil.
func New(embedder QueryEmbedder, index vector.Index, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: index, logger: logger}
}

// Retrieve returns up to q.K chunks ordered by descending similarity. An
// empty index yields an empty list without calling the embedder.
func (r *Retriever) Retrieve(ctx context.Context, q model.Query) ([]model.RetrievedChunk, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	n, err := r.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		r.logger.Info("index is empty")
		return []model.RetrievedChunk{}, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.index.Query(ctx, vec, q.K)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	if q.Threshold != nil {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= *q.Threshold {
				kept = append(kept, h)
			}
		}
		r.logger.Debug("applied similarity threshold", "threshold", *q.Threshold, "before", len(hits), "after", len(kept))
		hits = kept
	}
	return hits, nil
}
