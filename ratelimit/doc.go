/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides per-key rate limiting for outgoing provider calls.
//
// The default algorithm is a fixed window counter (FixedWindowLimiter): simple,
// O(1) per request, with a documented tolerance for bursts at window boundaries.
// Callers that need stricter admission can use one of the drop-in alternatives
// implementing the same Limiter interface:
//   - SlidingWindowLimiter (sliding window counting)
//   - LeakyBucketLimiter (GCRA, a leaky bucket variant)
//   - TokenBucketLimiter (token bucket)
package ratelimit
