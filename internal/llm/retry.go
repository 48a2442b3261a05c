package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries int           // retry attempts after the first call (0 = no retries)
	RetryDelay time.Duration // initial delay between retries
	MaxDelay   time.Duration // cap on the exponential delay
	Timeout    time.Duration // per-attempt timeout
}

// DefaultRetryConfig returns the configuration used when none is given.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    2 * time.Minute,
	}
}

// RetryProvider wraps a Provider with per-attempt timeouts and bounded
// exponential backoff on transient failures.
type RetryProvider struct {
	inner  Provider
	config *RetryConfig
}

// NewRetryProvider wraps an existing provider with retry logic.
func NewRetryProvider(inner Provider, config *RetryConfig) *RetryProvider {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryProvider{inner: inner, config: config}
}

// Name returns the underlying provider name.
func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

// Unwrap exposes the wrapped provider.
func (r *RetryProvider) Unwrap() Provider { return r.inner }

// Complete sends a prompt with timeout and retry logic.
func (r *RetryProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	return retry(ctx, r.config, func(ctx context.Context) (*Response, error) {
		return r.inner.Complete(ctx, prompt, opts)
	})
}

// Embed sends an embedding request with timeout and retry logic.
func (r *RetryProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retry(ctx, r.config, func(ctx context.Context) ([][]float32, error) {
		return r.inner.Embed(ctx, texts)
	})
}

// Ping forwards to the inner provider without retrying.
func (r *RetryProvider) Ping(ctx context.Context) error {
	if p, ok := r.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func retry[T any](ctx context.Context, cfg *RetryConfig, call func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryDelay
	b.MaxInterval = cfg.MaxDelay

	attempts := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		attemptCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		v, err := call(attemptCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
	)
	if err == nil {
		return out, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if attempts > cfg.MaxRetries && IsRetryable(err) {
		return zero, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, err)
	}
	return zero, fmt.Errorf("non-retryable error: %w", err)
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Caller cancelled.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// A local endpoint that is still starting up refuses or resets connections.
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := err.Error()

	// Daily token limits won't reset with retries.
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests") {
		return !strings.Contains(errStr, "tokens per day") && !strings.Contains(errStr, "TPD")
	}

	if containsStatus(errStr, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout) {
		return true
	}

	if containsStatus(errStr, http.StatusBadRequest, http.StatusUnauthorized,
		http.StatusForbidden, http.StatusNotFound) {
		return false
	}

	return true
}

// IsUnavailable reports whether err means the endpoint could not be reached
// or could not serve the request at all, as opposed to rejecting it.
func IsUnavailable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return true
	}
	return containsStatus(errStr, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout)
}

func containsStatus(s string, codes ...int) bool {
	for _, c := range codes {
		if strings.Contains(s, fmt.Sprint(c)) || strings.Contains(s, http.StatusText(c)) {
			return true
		}
	}
	return false
}

// WrapWithRetry wraps a provider with retry logic from config.
func WrapWithRetry(provider Provider, cfg ProviderConfig) Provider {
	if provider == nil {
		return nil
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 && cfg.Timeout == 0 {
		maxRetries = 3
	}

	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 1 * time.Second
	}

	return NewRetryProvider(provider, &RetryConfig{
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		MaxDelay:   30 * time.Second,
		Timeout:    timeout,
	})
}
