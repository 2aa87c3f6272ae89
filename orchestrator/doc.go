/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package orchestrator composes the TTL cache, single-flight deduplication,
// per-key rate limiting and the bounded-concurrency priority task queue into
// a single FetchOrCompute operation.
//
// For every requested key the orchestrator serves from cache when possible,
// attaches to an in-flight computation when one exists (without consuming the
// rate budget), and otherwise checks the rate budget and schedules the compute
// function on the task queue. Successful results are cached with a TTL;
// failures and timeouts are propagated to all attached callers and never
// cached.
package orchestrator
