/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type fixedWindow struct {
	start time.Time
	count int
}

// FixedWindowLimiter implements the fixed window counter algorithm.
// Requests for a key are counted within aligned-to-first-request windows of maxRate.Duration;
// when a window elapses, the next request starts a new one with the counter reset.
//
// This is intentionally the simpler algorithm: it admits bursts up to 2x maxRate.Count
// around window boundaries. That tolerance is an accepted policy choice, not a bug;
// use SlidingWindowLimiter, LeakyBucketLimiter, or TokenBucketLimiter when strict
// per-window admission is required.
type FixedWindowLimiter struct {
	maxRate Rate

	mu      sync.Mutex
	windows map[string]*fixedWindow
}

var _ Limiter = (*FixedWindowLimiter)(nil)

// NewFixedWindowLimiter creates a new fixed window rate limiter.
func NewFixedWindowLimiter(maxRate Rate) (*FixedWindowLimiter, error) {
	if err := maxRate.validate(); err != nil {
		return nil, err
	}
	return &FixedWindowLimiter{
		maxRate: maxRate,
		windows: make(map[string]*fixedWindow),
	}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
// The counter of the key's current window never exceeds maxRate.Count.
func (l *FixedWindowLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &fixedWindow{}
		l.windows[key] = w
	}
	if !ok || now.Sub(w.start) >= l.maxRate.Duration {
		w.start, w.count = now, 1
		return true, 0, nil
	}
	if w.count < l.maxRate.Count {
		w.count++
		return true, 0, nil
	}
	return false, w.start.Add(l.maxRate.Duration).Sub(now), nil
}

// TryAcquire is a non-blocking shorthand for Allow that drops the retry guidance.
func (l *FixedWindowLimiter) TryAcquire(key string) bool {
	allow, _, _ := l.Allow(context.Background(), key)
	return allow
}

// CleanExpired removes windows that have already elapsed and returns the number of removed ones.
// Expired windows are reset opportunistically on access anyway; the sweep only bounds memory
// for keys that are never requested again.
func (l *FixedWindowLimiter) CleanExpired() (removed int) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.Sub(w.start) >= l.maxRate.Duration {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
