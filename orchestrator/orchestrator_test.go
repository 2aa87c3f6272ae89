/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/chainboard/go-fetchkit/config"
	"github.com/chainboard/go-fetchkit/ratelimit"
	"github.com/chainboard/go-fetchkit/taskqueue"
	"github.com/chainboard/go-fetchkit/testutil"
)

func newTestConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.ConcurrencyLimit = 4
	cfg.DefaultTTL = config.TimeDuration(time.Minute)
	cfg.DefaultTimeout = config.TimeDuration(5 * time.Second)
	cfg.RateLimit.MaxRequests = 1000
	cfg.RateLimit.Window = config.TimeDuration(time.Minute)
	cfg.Cache.MaxEntries = 0
	return cfg
}

func TestFetchOrComputeCachesResult(t *testing.T) {
	orch, err := New[string](newTestConfig())
	require.NoError(t, err)
	defer orch.Close()

	var execCount atomic.Int32
	req := Request[string]{
		CacheKey: "report:42",
		Fn: func(ctx context.Context) (string, error) {
			execCount.Inc()
			return "report-body", nil
		},
	}

	for i := 0; i < 3; i++ {
		val, fetchErr := orch.FetchOrCompute(context.Background(), req)
		require.NoError(t, fetchErr)
		require.Equal(t, "report-body", val)
	}
	require.EqualValues(t, 1, execCount.Load(), "compute fn must run once, later calls are cache hits")
}

func TestFetchOrComputeSingleFlight(t *testing.T) {
	const callers = 10

	orch, err := New[int](newTestConfig())
	require.NoError(t, err)
	defer orch.Close()

	var execCount atomic.Int32
	req := Request[int]{
		CacheKey: "widget:summary",
		Fn: func(ctx context.Context) (int, error) {
			execCount.Inc()
			time.Sleep(100 * time.Millisecond) // keep the flight open for the other callers
			return 42, nil
		},
	}

	start := make(chan struct{})
	results := make([]int, callers)
	var group errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		group.Go(func() error {
			<-start
			var fetchErr error
			results[i], fetchErr = orch.FetchOrCompute(context.Background(), req)
			return fetchErr
		})
	}
	close(start)
	require.NoError(t, group.Wait())

	for i := 0; i < callers; i++ {
		require.Equal(t, 42, results[i])
	}
	require.EqualValues(t, 1, execCount.Load(), "concurrent callers must share a single computation")
}

func TestFetchOrComputeRateLimited(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimit.MaxRequests = 1
	cfg.RateLimit.Window = config.TimeDuration(time.Minute)

	orch, err := New[string](cfg)
	require.NoError(t, err)
	defer orch.Close()

	okVal, err := orch.FetchOrCompute(context.Background(), Request[string]{
		CacheKey:     "dashboard:1",
		RateLimitKey: "tenant:acme",
		Fn: func(ctx context.Context) (string, error) {
			return "first", nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "first", okVal)

	var secondRan atomic.Bool
	_, err = orch.FetchOrCompute(context.Background(), Request[string]{
		CacheKey:     "dashboard:2",
		RateLimitKey: "tenant:acme",
		Fn: func(ctx context.Context) (string, error) {
			secondRan.Store(true)
			return "second", nil
		},
	})
	var rlErr *ratelimit.Error
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, "tenant:acme", rlErr.Key)
	require.Greater(t, rlErr.RetryAfter, time.Duration(0))
	require.False(t, secondRan.Load(), "rejected request must not be enqueued")
	require.Equal(t, 0, orch.QueueStats().Pending)

	// A different rate limit key has its own budget.
	otherVal, err := orch.FetchOrCompute(context.Background(), Request[string]{
		CacheKey:     "dashboard:3",
		RateLimitKey: "tenant:globex",
		Fn: func(ctx context.Context) (string, error) {
			return "third", nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "third", otherVal)
}

func TestFetchOrComputeRateLimitKeyDefaultsToCacheKey(t *testing.T) {
	cfg := newTestConfig()
	cfg.RateLimit.MaxRequests = 1
	cfg.DefaultTTL = config.TimeDuration(time.Nanosecond) // effectively disable caching

	orch, err := New[int](cfg)
	require.NoError(t, err)
	defer orch.Close()

	fn := func(ctx context.Context) (int, error) { return 1, nil }

	_, err = orch.FetchOrCompute(context.Background(), Request[int]{CacheKey: "k1", Fn: fn})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = orch.FetchOrCompute(context.Background(), Request[int]{CacheKey: "k1", Fn: fn})
	var rlErr *ratelimit.Error
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, "k1", rlErr.Key)
}

func TestFetchOrComputeTTLExpiry(t *testing.T) {
	orch, err := New[int](newTestConfig())
	require.NoError(t, err)
	defer orch.Close()

	var execCount atomic.Int32
	req := Request[int]{
		CacheKey: "stats:hourly",
		TTL:      50 * time.Millisecond,
		Fn: func(ctx context.Context) (int, error) {
			return int(execCount.Inc()), nil
		},
	}

	val, err := orch.FetchOrCompute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, val)

	val, err = orch.FetchOrCompute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, val, "live entry must be served from the cache")

	time.Sleep(80 * time.Millisecond)

	val, err = orch.FetchOrCompute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, val, "expired entry must be recomputed")
}

func TestFetchOrComputeTimeout(t *testing.T) {
	orch, err := New[string](newTestConfig())
	require.NoError(t, err)
	defer orch.Close()

	var execCount atomic.Int32
	req := Request[string]{
		CacheKey: "slow:feed",
		Timeout:  50 * time.Millisecond,
		Fn: func(ctx context.Context) (string, error) {
			execCount.Inc()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				return "too late", nil
			}
		},
	}

	_, err = orch.FetchOrCompute(context.Background(), req)
	var timeoutErr *taskqueue.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	// The timed out result must not be cached.
	req.Fn = func(ctx context.Context) (string, error) {
		execCount.Inc()
		return "fast now", nil
	}
	val, err := orch.FetchOrCompute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "fast now", val)
	require.EqualValues(t, 2, execCount.Load())
}

func TestFetchOrComputeComputeError(t *testing.T) {
	orch, err := New[string](newTestConfig())
	require.NoError(t, err)
	defer orch.Close()

	errUpstream := errors.New("upstream unavailable")
	req := Request[string]{
		CacheKey: "profile:7",
		Fn: func(ctx context.Context) (string, error) {
			return "", errUpstream
		},
	}

	_, err = orch.FetchOrCompute(context.Background(), req)
	var computeErr *ComputeError
	require.ErrorAs(t, err, &computeErr)
	require.ErrorIs(t, err, errUpstream)
	require.Contains(t, err.Error(), "compute failed")

	// Failures must not be cached, the next call computes again.
	req.Fn = func(ctx context.Context) (string, error) {
		return "recovered", nil
	}
	val, err := orch.FetchOrCompute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "recovered", val)
}

func TestFetchOrComputeValidation(t *testing.T) {
	orch, err := New[int](newTestConfig())
	require.NoError(t, err)
	defer orch.Close()

	_, err = orch.FetchOrCompute(context.Background(), Request[int]{
		Fn: func(ctx context.Context) (int, error) { return 0, nil },
	})
	require.EqualError(t, err, "cache key must not be empty")

	_, err = orch.FetchOrCompute(context.Background(), Request[int]{CacheKey: "k"})
	require.EqualError(t, err, "compute fn must not be nil")
}

func TestNewWithOptsValidation(t *testing.T) {
	cfg := newTestConfig()
	cfg.ConcurrencyLimit = 0
	_, err := New[int](cfg)
	require.ErrorContains(t, err, "concurrency limit must be positive")

	cfg = newTestConfig()
	cfg.DefaultTTL = config.TimeDuration(-time.Second)
	_, err = New[int](cfg)
	require.ErrorContains(t, err, "default TTL must not be negative")

	cfg = newTestConfig()
	cfg.DefaultTimeout = config.TimeDuration(-time.Second)
	_, err = New[int](cfg)
	require.ErrorContains(t, err, "default timeout must not be negative")

	cfg = newTestConfig()
	cfg.RateLimit.MaxRequests = 0
	_, err = New[int](cfg)
	require.ErrorContains(t, err, "create rate limiter")
}

func TestFetchOrComputeCustomLimiter(t *testing.T) {
	limiter := &stubLimiter{allow: false, retryAfter: 3 * time.Second}
	orch, err := NewWithOpts[int](newTestConfig(), Opts{Limiter: limiter})
	require.NoError(t, err)
	defer orch.Close()

	_, err = orch.FetchOrCompute(context.Background(), Request[int]{
		CacheKey: "k",
		Fn:       func(ctx context.Context) (int, error) { return 0, nil },
	})
	var rlErr *ratelimit.Error
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, 3*time.Second, rlErr.RetryAfter)
}

func TestOrchestratorPrometheusMetrics(t *testing.T) {
	promMetrics := NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{Namespace: "dashboard"})
	promMetrics.MustRegister()
	defer promMetrics.Unregister()

	cfg := newTestConfig()
	cfg.RateLimit.MaxRequests = 1
	orch, err := NewWithOpts[string](cfg, Opts{MetricsCollector: promMetrics})
	require.NoError(t, err)
	defer orch.Close()

	fn := func(ctx context.Context) (string, error) { return "v", nil }

	_, err = orch.FetchOrCompute(context.Background(), Request[string]{CacheKey: "k", Fn: fn})
	require.NoError(t, err)
	_, err = orch.FetchOrCompute(context.Background(), Request[string]{CacheKey: "k", Fn: fn})
	require.NoError(t, err)
	_, err = orch.FetchOrCompute(context.Background(), Request[string]{CacheKey: "k2", RateLimitKey: "k", Fn: fn})
	require.Error(t, err)

	requireSamplesCount := func(result Result, want int) {
		t.Helper()
		labels := map[string]string{metricsLabelResult: string(result)}
		counter, counterErr := promMetrics.RequestsTotal.GetMetricWith(labels)
		require.NoError(t, counterErr)
		testutil.RequireSamplesCountInCounter(t, counter, want)
	}
	requireSamplesCount(ResultComputed, 1)
	requireSamplesCount(ResultCacheHit, 1)
	requireSamplesCount(ResultRateLimited, 1)
}

func TestOrchestratorClose(t *testing.T) {
	cfg := newTestConfig()
	cfg.ConcurrencyLimit = 1

	orch, err := New[int](cfg)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = orch.FetchOrCompute(context.Background(), Request[int]{
			CacheKey: "running",
			Fn: func(ctx context.Context) (int, error) {
				close(started)
				<-release
				return 1, nil
			},
		})
	}()
	<-started

	pendingErrCh := make(chan error, 1)
	go func() {
		_, pendingErr := orch.FetchOrCompute(context.Background(), Request[int]{
			CacheKey: "pending",
			Fn:       func(ctx context.Context) (int, error) { return 2, nil },
		})
		pendingErrCh <- pendingErr
	}()
	require.Eventually(t, func() bool {
		return orch.QueueStats().Pending == 1
	}, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	orch.Close()

	require.ErrorIs(t, <-pendingErrCh, taskqueue.ErrQueueClosed)

	_, err = orch.FetchOrCompute(context.Background(), Request[int]{
		CacheKey: "after-close",
		Fn:       func(ctx context.Context) (int, error) { return 3, nil },
	})
	require.ErrorIs(t, err, taskqueue.ErrQueueClosed)
}

func TestRunPeriodicCleanup(t *testing.T) {
	cfg := newTestConfig()
	orch, err := New[int](cfg)
	require.NoError(t, err)
	defer orch.Close()

	for i := 0; i < 5; i++ {
		_, fetchErr := orch.FetchOrCompute(context.Background(), Request[int]{
			CacheKey: fmt.Sprintf("short-lived:%d", i),
			TTL:      10 * time.Millisecond,
			Fn:       func(ctx context.Context) (int, error) { return i, nil },
		})
		require.NoError(t, fetchErr)
	}
	require.Equal(t, 5, orch.cache.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.RunPeriodicCleanup(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return orch.cache.Len() == 0
	}, time.Second, 10*time.Millisecond, "expired entries must be swept")
}

type stubLimiter struct {
	allow      bool
	retryAfter time.Duration
}

func (l *stubLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	return l.allow, l.retryAfter, nil
}
