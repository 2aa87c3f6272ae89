/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func (e *cacheEntry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && e.expiresAt.Before(now)
}

// TTLCache represents an in-memory key/value store with per-entry TTL and Prometheus metrics.
// A read never returns a value whose age exceeds its TTL: expired entries are evicted lazily
// on access and, optionally, by a periodic cleanup (see RunPeriodicCleanup).
type TTLCache[K comparable, V any] struct {
	maxEntries int // 0 means the number of entries is unbounded

	defaultTTL time.Duration

	mu        sync.Mutex
	insOrder  *list.List          // entries in insertion order, the newest is in the front
	entries   map[K]*list.Element // map of cache entries, value is an insOrder element
	metricsCollector MetricsCollector
}

// Options represents options for the cache.
type Options struct {
	// DefaultTTL is the TTL applied by Set and GetOrAdd.
	// Zero means entries don't expire.
	DefaultTTL time.Duration

	// MaxEntries bounds the number of entries in the cache.
	// When the bound is reached, the oldest inserted entry is evicted.
	// Zero means no bound.
	MaxEntries int
}

// New creates a new TTLCache with the provided metrics collector.
// Metrics collector is used to collect statistics about cache usage.
// It can be nil, in this case, metrics will be disabled.
func New[K comparable, V any](metricsCollector MetricsCollector) (*TTLCache[K, V], error) {
	return NewWithOpts[K, V](metricsCollector, Options{})
}

// NewWithOpts creates a new TTLCache with the provided metrics collector and options.
func NewWithOpts[K comparable, V any](metricsCollector MetricsCollector, opts Options) (*TTLCache[K, V], error) {
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("defaultTTL must be greater or equal to 0 (no expiration)")
	}
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("maxEntries must be greater or equal to 0 (unbounded)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}

	return &TTLCache[K, V]{
		maxEntries:       opts.MaxEntries,
		defaultTTL:       opts.DefaultTTL,
		insOrder:         list.New(),
		entries:          make(map[K]*list.Element),
		metricsCollector: metricsCollector,
	}, nil
}

// Get returns a value from the cache by the provided key.
// An entry whose age exceeds its TTL is evicted as a side effect and reported as a miss.
func (c *TTLCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// Set adds a value to the cache with the provided key and the default TTL, overwriting
// an existing entry unconditionally.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds a value to the cache with the provided key and TTL, overwriting
// an existing entry unconditionally. TTL <= 0 means the entry doesn't expire.
// Please note that expired entries are not removed immediately,
// but only when they are accessed or during periodic cleanup (see RunPeriodicCleanup).
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		// Overwriting makes the entry the most recent insertion.
		c.insOrder.MoveToFront(elem)
		elem.Value = &cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt}
		return
	}
	c.addNew(key, value, expiresAt)
}

// GetOrAdd returns a value from the cache by the provided key.
// If the key does not exist, it adds a new value to the cache with the default TTL.
func (c *TTLCache[K, V]) GetOrAdd(key K, valueProvider func() V) (value V, exists bool) {
	return c.GetOrAddWithTTL(key, valueProvider, c.defaultTTL)
}

// GetOrAddWithTTL returns a value from the cache by the provided key.
// If the key does not exist, it adds a new value to the cache with the provided TTL.
func (c *TTLCache[K, V]) GetOrAddWithTTL(key K, valueProvider func() V, ttl time.Duration) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if value, exists = c.get(key); exists {
		return value, exists
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	value = valueProvider()
	c.addNew(key, value, expiresAt)
	return value, false
}

// Delete removes a value from the cache by the provided key.
func (c *TTLCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}

	c.insOrder.Remove(elem)
	delete(c.entries, key)
	c.metricsCollector.SetAmount(len(c.entries))
	return true
}

// Purge clears the cache.
// All removed entries will not be counted as expirations or evictions.
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metricsCollector.SetAmount(0)
	c.entries = make(map[K]*list.Element)
	c.insOrder.Init()
}

// Len returns the number of entries in the cache, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CleanExpired removes all expired entries and returns the number of removed ones.
func (c *TTLCache[K, V]) CleanExpired() (removed int) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.entries {
		if elem.Value.(*cacheEntry[K, V]).expired(now) {
			c.insOrder.Remove(elem)
			delete(c.entries, key)
			removed++
		}
	}
	if removed != 0 {
		c.metricsCollector.SetAmount(len(c.entries))
		c.metricsCollector.AddExpirations(removed)
	}
	return removed
}

// RunPeriodicCleanup runs a cycle of periodic cleanup of expired entries.
// Entries without expiration time are not affected.
// It's supposed to be run in a separate goroutine.
func (c *TTLCache[K, V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanExpired()
		}
	}
}

func (c *TTLCache[K, V]) get(key K) (value V, ok bool) {
	elem, hit := c.entries[key]
	if !hit {
		c.metricsCollector.IncMisses()
		return value, false
	}
	entry := elem.Value.(*cacheEntry[K, V])
	if entry.expired(time.Now()) {
		c.insOrder.Remove(elem)
		delete(c.entries, key)
		c.metricsCollector.SetAmount(len(c.entries))
		c.metricsCollector.AddExpirations(1)
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.metricsCollector.IncHits()
	return entry.value, true
}

func (c *TTLCache[K, V]) addNew(key K, value V, expiresAt time.Time) {
	c.entries[key] = c.insOrder.PushFront(&cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt})
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		c.metricsCollector.SetAmount(len(c.entries))
		return
	}
	if c.removeOldest() != nil {
		c.metricsCollector.AddEvictions(1)
	}
}

func (c *TTLCache[K, V]) removeOldest() *cacheEntry[K, V] {
	elem := c.insOrder.Back()
	if elem == nil {
		return nil
	}
	c.insOrder.Remove(elem)
	entry := elem.Value.(*cacheEntry[K, V])
	delete(c.entries, entry.key)
	return entry
}
