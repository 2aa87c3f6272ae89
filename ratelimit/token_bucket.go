/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainboard/go-fetchkit/ttlcache"
)

// TokenBucketLimiter implements the token bucket algorithm on top of golang.org/x/time/rate.
// Tokens are replenished continuously at maxRate, and short bursts up to maxBurst are admitted.
type TokenBucketLimiter struct {
	getLimiter func(key string) *rate.Limiter
}

var _ Limiter = (*TokenBucketLimiter)(nil)

// NewTokenBucketLimiter creates a new token bucket rate limiter.
// If maxKeys is 0, the rate is shared by all keys;
// otherwise, each key gets its own bucket, and at most maxKeys of them are kept.
func NewTokenBucketLimiter(maxRate Rate, maxBurst, maxKeys int) (*TokenBucketLimiter, error) {
	if err := maxRate.validate(); err != nil {
		return nil, err
	}
	if maxBurst < 1 {
		maxBurst = 1
	}
	newLimiter := func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(float64(maxRate.Count)/maxRate.Duration.Seconds()), maxBurst)
	}

	if maxKeys == 0 {
		lim := newLimiter()
		return &TokenBucketLimiter{getLimiter: func(_ string) *rate.Limiter { return lim }}, nil
	}

	store, err := ttlcache.NewWithOpts[string, *rate.Limiter](nil, ttlcache.Options{MaxEntries: maxKeys})
	if err != nil {
		return nil, fmt.Errorf("new in-memory store for keys: %w", err)
	}
	return &TokenBucketLimiter{
		getLimiter: func(key string) *rate.Limiter {
			lim, _ := store.GetOrAdd(key, newLimiter)
			return lim
		},
	}, nil
}

// Allow checks if the request should be allowed based on the rate limit.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	rsv := l.getLimiter(key).Reserve()
	if !rsv.OK() {
		return false, 0, fmt.Errorf("reservation is not possible for key %q", key)
	}
	if delay := rsv.Delay(); delay > 0 {
		rsv.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}
