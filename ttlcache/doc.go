/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ttlcache provides an in-memory key/value store with per-entry expiration and Prometheus metrics.
// Expired entries are evicted lazily on read; a periodic cleanup may be run for bounded memory.
package ttlcache
