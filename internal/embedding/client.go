// Package embedding turns chunk texts into vectors through an llm.Provider,
// batching requests over a bounded worker pool.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/docrag/internal/llm"
	"github.com/efebarandurmaz/docrag/internal/model"
)

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

// Client embeds texts in batches. Vectors are returned in input order
// regardless of which batch finishes first.
type Client struct {
	provider  llm.Provider
	batchSize int
	workers   int
	logger    *slog.Logger

	mu  sync.Mutex
	dim int // 0 until known
}

// Option configures a Client.
type Option func(*Client)

// WithBatchSize sets how many texts go into one provider call.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithWorkers bounds the number of batches in flight.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithDimension pins the expected vector size, usually the index's.
func WithDimension(d int) Option {
	return func(c *Client) {
		if d > 0 {
			c.dim = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client over provider.
func New(provider llm.Provider, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Provider returns the name of the underlying provider.
func (c *Client) Provider() string { return c.provider.Name() }

// Dimension reports the expected vector size, 0 if nothing has been embedded
// yet and none was configured.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

// EmbedTexts returns one vector per text, in order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for start := 0; start < len(texts); start += c.batchSize {
		start := start
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.provider.Embed(gctx, texts[start:end])
			if err != nil {
				return c.classify(ctx, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding batch [%d:%d]: got %d vectors", start, end, len(vecs))
			}
			for i, v := range vecs {
				if err := c.checkDimension(len(v)); err != nil {
					return err
				}
				out[start+i] = v
			}
			c.logger.Debug("embedded batch", "from", start, "to", end, "provider", c.provider.Name())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Ping checks that the embedding endpoint answers. Providers without a
// reachability probe are assumed reachable.
func (c *Client) Ping(ctx context.Context) error {
	p, ok := c.provider.(llm.Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return c.classify(ctx, err)
	}
	return nil
}

func (c *Client) checkDimension(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == 0 {
		return fmt.Errorf("%w: provider returned an empty vector", model.ErrEmbeddingDimensionMismatch)
	}
	if c.dim == 0 {
		c.dim = n
		return nil
	}
	if n != c.dim {
		return fmt.Errorf("%w: got %d, index expects %d", model.ErrEmbeddingDimensionMismatch, n, c.dim)
	}
	return nil
}

// classify maps transport failures onto the service-unavailable category.
func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, model.ErrServiceUnavailable) {
		return err
	}
	if llm.IsUnavailable(err) {
		return fmt.Errorf("%w (%s): %w", model.ErrEmbeddingServiceUnavailable, c.provider.Name(), err)
	}
	return fmt.Errorf("embedding via %s: %w", c.provider.Name(), err)
}
