package ai

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the single retry/backoff configuration shared by the
// embedding and chat completion calls. Delays grow exponentially from
// BaseDelay up to MaxDelay with +-20% jitter; only errors the Retriable
// predicate accepts are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retriable   func(error) bool

	// OnRetry, when set, observes each scheduled retry (attempt number,
	// wait duration, error). Used for logging and tests.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultRetryPolicy matches the provider's rate-limit guidance: 5 attempts,
// 1s base delay, 12s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    12 * time.Second,
		Retriable:   IsTransient,
	}
}

// Do runs op until it succeeds, a non-retriable error occurs, the attempt
// budget is exhausted, or ctx is cancelled. The last error is returned on
// exhaustion; the total wait is bounded by MaxDelay * MaxAttempts.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		bo.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		bo.MaxInterval = p.MaxDelay
	}
	bo.RandomizationFactor = 0.2
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by the attempt count, not wall clock
	bo.Reset()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if p.Retriable != nil && !p.Retriable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// IsTransient reports whether err belongs to the retriable class: provider
// rate limits and server errors, resource exhaustion, deadline overruns, and
// network failures. Everything else propagates immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}
