package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/observability"
	"github.com/efebarandurmaz/docrag/internal/report"
)

// Retriever returns the chunks closest to a query.
type Retriever interface {
	Retrieve(ctx context.Context, q model.Query) ([]model.RetrievedChunk, error)
}

// Answerer generates an answer from retrieved chunks.
type Answerer interface {
	Answer(ctx context.Context, question string, chunks []model.RetrievedChunk) (*model.Answer, error)
}

// Querier runs retrieval and, outside raw mode, answer generation.
type Querier struct {
	retriever Retriever
	answerer  Answerer
	logger    *slog.Logger
}

// NewQuerier creates a Querier. answerer may be nil when only raw queries
// are run.
func NewQuerier(r Retriever, a Answerer, logger *slog.Logger) *Querier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Querier{retriever: r, answerer: a, logger: logger}
}

// Run executes q. Raw queries return the ranked chunks only.
func (qr *Querier) Run(ctx context.Context, q model.Query) (*report.QueryResult, error) {
	rctx, span := observability.StartStageSpan(ctx, observability.StageRetrieve,
		attribute.Int("query.k", q.K),
		attribute.Bool("query.raw", q.Raw))
	chunks, err := qr.retriever.Retrieve(rctx, q)
	observability.RecordError(span, err)
	span.SetAttributes(attribute.Int("query.hits", len(chunks)))
	span.End()
	if err != nil {
		return nil, err
	}

	res := &report.QueryResult{Question: q.Text, Chunks: chunks}
	if q.Raw {
		return res, nil
	}
	if qr.answerer == nil {
		return nil, model.ErrGenerationServiceUnavailable
	}

	actx, span := observability.StartStageSpan(ctx, observability.StageAnswer)
	defer span.End()
	ans, err := qr.answerer.Answer(actx, q.Text, chunks)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	qr.logger.Debug("query answered", "hits", len(chunks), "citations", len(ans.Citations))
	res.Answer = ans
	return res, nil
}
