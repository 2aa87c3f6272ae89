/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ttlcache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMetrics struct {
	Amount      int
	Hits        int
	Misses      int
	Expirations int
	Evictions   int
}

func assertMetrics(t *testing.T, want testMetrics, pm *PrometheusMetrics) {
	t.Helper()
	assert.Equal(t, want.Amount, int(testutil.ToFloat64(pm.EntriesAmount.With(nil))), "entries amount")
	assert.Equal(t, want.Hits, int(testutil.ToFloat64(pm.HitsTotal.With(nil))), "hits")
	assert.Equal(t, want.Misses, int(testutil.ToFloat64(pm.MissesTotal.With(nil))), "misses")
	assert.Equal(t, want.Expirations, int(testutil.ToFloat64(pm.ExpirationsTotal.With(nil))), "expirations")
	assert.Equal(t, want.Evictions, int(testutil.ToFloat64(pm.EvictionsTotal.With(nil))), "evictions")
}

func makeCache(t *testing.T, opts Options) (*TTLCache[string, string], *PrometheusMetrics) {
	t.Helper()
	pm := NewPrometheusMetrics()
	cache, err := NewWithOpts[string, string](pm, opts)
	require.NoError(t, err)
	return cache, pm
}

func TestTTLCache(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		fn          func(t *testing.T, cache *TTLCache[string, string])
		wantMetrics testMetrics
	}{
		{
			name: "attempt to get not existing keys",
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				for _, key := range []string{"addr:0xabc", "addr:0xdef"} {
					_, found := cache.Get(key)
					require.False(t, found)
				}
			},
			wantMetrics: testMetrics{Misses: 2},
		},
		{
			name: "set entries and get them",
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				cache.Set("addr:0xabc", "balance=1")
				cache.Set("addr:0xdef", "balance=2")

				val, found := cache.Get("addr:0xabc")
				require.True(t, found)
				require.Equal(t, "balance=1", val)
				val, found = cache.Get("addr:0xdef")
				require.True(t, found)
				require.Equal(t, "balance=2", val)
			},
			wantMetrics: testMetrics{Amount: 2, Hits: 2},
		},
		{
			name: "set overwrites unconditionally",
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				cache.SetWithTTL("addr:0xabc", "balance=1", time.Minute)
				cache.SetWithTTL("addr:0xabc", "balance=2", time.Minute)

				val, found := cache.Get("addr:0xabc")
				require.True(t, found)
				require.Equal(t, "balance=2", val)
				require.Equal(t, 1, cache.Len())
			},
			wantMetrics: testMetrics{Amount: 1, Hits: 1},
		},
		{
			name: "expired entry is evicted on read",
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				cache.SetWithTTL("addr:0xabc", "balance=1", 10*time.Millisecond)

				val, found := cache.Get("addr:0xabc")
				require.True(t, found)
				require.Equal(t, "balance=1", val)

				time.Sleep(20 * time.Millisecond)

				_, found = cache.Get("addr:0xabc")
				require.False(t, found)
				require.Equal(t, 0, cache.Len())
			},
			wantMetrics: testMetrics{Hits: 1, Misses: 1, Expirations: 1},
		},
		{
			name: "zero ttl never expires",
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				cache.SetWithTTL("addr:0xabc", "balance=1", 0)
				time.Sleep(10 * time.Millisecond)
				_, found := cache.Get("addr:0xabc")
				require.True(t, found)
			},
			wantMetrics: testMetrics{Amount: 1, Hits: 1},
		},
		{
			name: "delete entries",
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				cache.Set("addr:0xabc", "balance=1")
				cache.Set("addr:0xdef", "balance=2")

				require.True(t, cache.Delete("addr:0xabc"))
				require.False(t, cache.Delete("addr:0xabc"))
				require.False(t, cache.Delete("addr:0x404"))
			},
			wantMetrics: testMetrics{Amount: 1},
		},
		{
			name: "oldest insertion is evicted when the bound is reached",
			opts: Options{MaxEntries: 2},
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				cache.Set("addr:0x1", "balance=1")
				cache.Set("addr:0x2", "balance=2")
				cache.Set("addr:0x3", "balance=3")

				_, found := cache.Get("addr:0x1")
				require.False(t, found)
				_, found = cache.Get("addr:0x2")
				require.True(t, found)
				_, found = cache.Get("addr:0x3")
				require.True(t, found)
			},
			wantMetrics: testMetrics{Amount: 2, Hits: 2, Misses: 1, Evictions: 1},
		},
		{
			name: "clean expired removes only stale entries",
			fn: func(t *testing.T, cache *TTLCache[string, string]) {
				cache.SetWithTTL("addr:0x1", "balance=1", 10*time.Millisecond)
				cache.SetWithTTL("addr:0x2", "balance=2", 10*time.Millisecond)
				cache.SetWithTTL("addr:0x3", "balance=3", time.Minute)

				time.Sleep(20 * time.Millisecond)

				require.Equal(t, 2, cache.CleanExpired())
				require.Equal(t, 1, cache.Len())
			},
			wantMetrics: testMetrics{Amount: 1, Expirations: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, pm := makeCache(t, tt.opts)
			tt.fn(t, cache)
			assertMetrics(t, tt.wantMetrics, pm)
		})
	}
}

func TestTTLCacheGetOrAdd(t *testing.T) {
	cache, _ := makeCache(t, Options{})

	providerCalls := 0
	provider := func() string {
		providerCalls++
		return "balance=1"
	}

	val, exists := cache.GetOrAdd("addr:0xabc", provider)
	require.False(t, exists)
	require.Equal(t, "balance=1", val)

	val, exists = cache.GetOrAdd("addr:0xabc", provider)
	require.True(t, exists)
	require.Equal(t, "balance=1", val)

	require.Equal(t, 1, providerCalls)
}

func TestTTLCacheRunPeriodicCleanup(t *testing.T) {
	cache, _ := makeCache(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		cache.RunPeriodicCleanup(ctx, 10*time.Millisecond)
	}()

	cache.SetWithTTL("addr:0x1", "balance=1", 5*time.Millisecond)
	cache.SetWithTTL("addr:0x2", "balance=2", time.Minute)

	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic cleanup didn't stop after context cancellation")
	}
}

func TestNewWithOpts(t *testing.T) {
	_, err := NewWithOpts[string, string](nil, Options{DefaultTTL: -1})
	require.Error(t, err)

	_, err = NewWithOpts[string, string](nil, Options{MaxEntries: -1})
	require.Error(t, err)
}
