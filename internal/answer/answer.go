// Package answer generates a grounded answer from retrieved chunks.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/efebarandurmaz/docrag/internal/llm"
	"github.com/efebarandurmaz/docrag/internal/model"
	"github.com/efebarandurmaz/docrag/internal/observability"
)

// NoContextAnswer is returned without calling the model when retrieval is empty.
const NoContextAnswer = "No relevant context was found in the indexed documents, so this question cannot be answered from them."

const systemPrompt = `You answer questions using only the numbered context passages provided.
Cite the passages you rely on with their numbers in square brackets, for example [1] or [2][3].
If the passages do not contain the answer, say that the documents do not cover it. Do not guess.`

// Answerer turns retrieved chunks and a question into an Answer.
type Answerer struct {
	provider llm.Provider
	opts     *llm.RequestOptions
	logger   *slog.Logger
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Answerer) { a.opts.Temperature = &t }
}

// WithMaxTokens caps the answer length. n <= 0 keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.opts.MaxTokens = &n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Answerer) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Answerer over provider.
func New(provider llm.Provider, opts ...Option) *Answerer {
	a := &Answerer{provider: provider, opts: &llm.RequestOptions{}, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Answer asks the model to answer question from chunks, which are passed
// in retrieval order. Every chunk placed in the prompt is cited.
func (a *Answerer) Answer(ctx context.Context, question string, chunks []model.RetrievedChunk) (*model.Answer, error) {
	if len(chunks) == 0 {
		return &model.Answer{Text: NoContextAnswer, Citations: []string{}}, nil
	}

	ctx, span := observability.StartLLMSpan(ctx, a.provider.Name(), "complete")
	defer span.End()

	prompt := BuildPrompt(question, chunks)
	start := time.Now()
	resp, err := a.provider.Complete(ctx, prompt, a.opts)
	if err != nil {
		observability.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if llm.IsUnavailable(err) {
			return nil, fmt.Errorf("%w (%s): %w", model.ErrGenerationServiceUnavailable, a.provider.Name(), err)
		}
		return nil, fmt.Errorf("generate answer via %s: %w", a.provider.Name(), err)
	}

	observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, time.Since(start))

	text := llm.CleanAnswer(resp.Content)
	if text == "" {
		return nil, errors.New("generate answer: model returned an empty response")
	}
	a.logger.Debug("generated answer", "provider", a.provider.Name(), "model", resp.Model,
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)

	citations := make([]string, len(chunks))
	for i, c := range chunks {
		citations[i] = c.Chunk.ID
	}
	return &model.Answer{Text: text, Citations: citations}, nil
}

// BuildPrompt numbers the chunks from 1 and appends the question.
func BuildPrompt(question string, chunks []model.RetrievedChunk) *llm.Prompt {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n[%d] (source: %s)\n%s\n", i+1, c.Chunk.Source, strings.TrimSpace(c.Chunk.Text))
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", strings.TrimSpace(question))
	return llm.UserPrompt(systemPrompt, b.String())
}
