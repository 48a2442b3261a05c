package llm

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures request pacing for a provider.
type RateLimitConfig struct {
	// RequestsPerMinute limits calls per minute (0 = unlimited).
	RequestsPerMinute int
	// BurstSize allows short bursts above the steady rate.
	BurstSize int
}

// DefaultRateLimitConfig is conservative enough for free-tier hosted APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerMinute: 60, BurstSize: 4}
}

// RateLimitProvider paces calls to the wrapped provider with a token bucket.
// Embedding batches and completions share one bucket.
type RateLimitProvider struct {
	inner   Provider
	limiter *rate.Limiter
	waited  atomic.Int64 // total nanoseconds spent waiting
	calls   atomic.Int64
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitProvider{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

// WithRateLimit wraps provider, passing nil through.
func WithRateLimit(provider Provider, config *RateLimitConfig) Provider {
	if provider == nil {
		return nil
	}
	return NewRateLimitProvider(provider, config)
}

func (r *RateLimitProvider) Name() string { return r.inner.Name() }

// Unwrap exposes the wrapped provider.
func (r *RateLimitProvider) Unwrap() Provider { return r.inner }

func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, prompt, opts)
}

func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

func (r *RateLimitProvider) Ping(ctx context.Context) error {
	if p, ok := r.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (r *RateLimitProvider) wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	r.calls.Add(1)
	r.waited.Add(int64(time.Since(start)))
	return nil
}

// Stats reports how many calls went through and how long they queued in total.
func (r *RateLimitProvider) Stats() (calls int64, waited time.Duration) {
	return r.calls.Load(), time.Duration(r.waited.Load())
}
