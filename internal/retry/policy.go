// Package retry provides the backoff policy and circuit breaker shared by
// outbound calls to the invitation API and the notification webhook.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/dandantas/boarding/internal/model"
)

// StatusError is returned for a non-2xx HTTP response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable is the default predicate: network errors, 408, 429, 5xx and
// 403 responses served by an edge challenge page are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var status *StatusError
	if !errors.As(err, &status) {
		return true
	}

	switch {
	case status.StatusCode == http.StatusRequestTimeout, status.StatusCode == http.StatusTooManyRequests:
		return true
	case status.StatusCode >= 500 && status.StatusCode < 600:
		return true
	case status.StatusCode == http.StatusForbidden:
		body := strings.ToLower(status.Body)
		return strings.Contains(body, "cloudflare") || strings.Contains(body, "cf-") || strings.Contains(body, "just a moment")
	}
	return false
}

// Option configures a Policy
type Option func(*Policy)

// WithRetryable replaces the default retry predicate
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) { p.retryable = fn }
}

// WithSleep replaces the backoff wait, mostly for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) { p.sleep = fn }
}

// WithOnRetry registers a hook called before each backoff wait
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(p *Policy) { p.onRetry = fn }
}

// Policy runs an operation with exponential backoff
type Policy struct {
	config    model.RetryConfig
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	onRetry   func(attempt int, delay time.Duration, err error)
}

// NewPolicy creates a policy; zero config fields take DefaultRetryConfig
func NewPolicy(config model.RetryConfig, opts ...Option) *Policy {
	p := &Policy{
		config:    config.WithDefaults(),
		retryable: Retryable,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxAttempts returns the maximum number of attempts
func (p *Policy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// Delay returns the wait after the given failed attempt:
// min(initial * multiplier^(attempt-1), max)
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delayMs := float64(p.config.InitialDelayMs) * math.Pow(p.config.Multiplier, float64(attempt-1))
	if delayMs > float64(p.config.MaxDelayMs) {
		delayMs = float64(p.config.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) || attempt == p.config.MaxAttempts {
			return lastErr
		}

		delay := p.Delay(attempt)
		if p.onRetry != nil {
			p.onRetry(attempt, delay, lastErr)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
