/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Rate describes the frequency of requests.
type Rate struct {
	Count    int
	Duration time.Duration
}

// String returns the rate in a "count/duration" form.
func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Count, r.Duration)
}

func (r Rate) validate() error {
	if r.Count <= 0 {
		return fmt.Errorf("rate count must be positive, got %d", r.Count)
	}
	if r.Duration <= 0 {
		return fmt.Errorf("rate duration must be positive, got %s", r.Duration)
	}
	return nil
}

// Limiter interface defines the rate limiting contract.
type Limiter interface {
	Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error)
}

// Error is returned when a request exceeds the rate budget of its key.
// It is a capacity error: expected, frequent, and never retried internally.
// RetryAfter carries the retry guidance for the caller.
type Error struct {
	Key        string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for key %q, retry after %s", e.Key, e.RetryAfter)
}

// AcquireOrReject checks the rate budget of the key using the passed limiter
// and returns *Error with retry guidance if the budget is exceeded.
func AcquireOrReject(ctx context.Context, limiter Limiter, key string) error {
	allow, retryAfter, err := limiter.Allow(ctx, key)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if !allow {
		return &Error{Key: key, RetryAfter: retryAfter}
	}
	return nil
}
