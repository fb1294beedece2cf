// Package retry decorates an LLM provider with bounded exponential backoff.
// Hosted model APIs shed load with 429s and the occasional 5xx; the write
// and repair agents should ride those out instead of failing the task.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"neuroforge/internal/domain"
)

// Config bounds the retry loop.
type Config struct {
	MaxRetries     int           // retries after the first attempt; 0 disables retrying
	InitialBackoff time.Duration // wait before the first retry
	MaxBackoff     time.Duration // ceiling on the grown backoff
	Multiplier     float64       // backoff growth factor, >= 1.0
}

// DefaultConfig mirrors the kernel's built-in retry settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Validate checks that the config fields are usable.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be > 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// Transient HTTP statuses as they surface in provider error strings. The
// backends fold the response status into the error, so substring matching
// is what there is to work with.
var transientStatuses = []string{"429", "500", "502", "503", "504", "529"}

// Connection-level failures worth another attempt.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"i/o timeout",
	"EOF",
}

// IsRetryable reports whether err looks transient. Context cancellation is
// final: either the orchestrator stopped the task or the attempt deadline
// passed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, status := range transientStatuses {
		if strings.Contains(msg, status) {
			return true
		}
	}
	for _, fragment := range transientMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// RetryableProvider wraps an LLMProvider, retrying Generate on transient
// failures with exponential backoff. Backoff waits end early when the
// context is canceled.
type RetryableProvider struct {
	inner    domain.LLMProvider
	config   Config
	waitFunc func(ctx context.Context, d time.Duration) error // injectable for testing
}

// NewRetryableProvider returns a retrying decorator around inner, which
// must not be nil.
func NewRetryableProvider(inner domain.LLMProvider, cfg Config) *RetryableProvider {
	if inner == nil {
		panic("retry: inner provider must not be nil")
	}
	return &RetryableProvider{inner: inner, config: cfg, waitFunc: wait}
}

// wait blocks for d or until ctx is done, whichever comes first.
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Generate implements domain.LLMProvider. It returns the first successful
// completion, the first non-retryable error, or the last error once the
// attempt budget is spent.
func (p *RetryableProvider) Generate(ctx context.Context, prompt string) (string, error) {
	backoff := p.config.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		result, err := p.inner.Generate(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return "", err
		}
		if attempt == p.config.MaxRetries {
			break
		}

		if err := p.waitFunc(ctx, backoff); err != nil {
			return "", err
		}

		next := time.Duration(float64(backoff) * p.config.Multiplier)
		if next > p.config.MaxBackoff {
			next = p.config.MaxBackoff
		}
		backoff = next
	}

	return "", fmt.Errorf("retries exhausted after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

var _ domain.LLMProvider = (*RetryableProvider)(nil)
