/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainboard/go-fetchkit/log"
	"github.com/chainboard/go-fetchkit/ratelimit"
	"github.com/chainboard/go-fetchkit/singleflight"
	"github.com/chainboard/go-fetchkit/taskqueue"
	"github.com/chainboard/go-fetchkit/ttlcache"
)

// ComputeError wraps a failure of the compute function.
type ComputeError struct {
	Cause error
}

// Error implements the error interface.
func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute failed: %s", e.Cause.Error())
}

// Unwrap returns the underlying compute failure.
func (e *ComputeError) Unwrap() error {
	return e.Cause
}

// Request describes a single FetchOrCompute call.
type Request[V any] struct {
	// CacheKey identifies the result in the cache and deduplicates concurrent computations.
	CacheKey string

	// RateLimitKey identifies the rate budget the computation is charged against.
	// Callers that join an already in-flight computation are not charged.
	RateLimitKey string

	// Priority orders the pending computations, higher first.
	Priority int

	// TTL bounds the lifetime of a cached result. Zero means the orchestrator default.
	TTL time.Duration

	// Timeout bounds the execution of Fn. Zero means the orchestrator default.
	Timeout time.Duration

	// Fn computes the value. It must respect ctx cancellation to be abortable on timeout.
	Fn taskqueue.TaskFunc[V]
}

// Opts allows overriding the orchestrator collaborators built from Config.
type Opts struct {
	// Limiter replaces the fixed-window limiter built from Config.RateLimit.
	// Any ratelimit.Limiter implementation can be plugged in.
	Limiter ratelimit.Limiter

	// Logger is used for structured logging. Disabled if nil.
	Logger log.FieldLogger

	// MetricsCollector collects the orchestrator metrics. Disabled if nil.
	MetricsCollector MetricsCollector

	// CacheMetricsCollector collects the result cache metrics. Disabled if nil.
	CacheMetricsCollector ttlcache.MetricsCollector

	// QueueMetricsCollector collects the task queue metrics. Disabled if nil.
	QueueMetricsCollector taskqueue.MetricsCollector
}

// Orchestrator serves values by cache lookup, single-flight attachment or
// rate-limited scheduling of the compute function on the task queue.
// All collaborators are process-local; see the package documentation.
type Orchestrator[V any] struct {
	cache   *ttlcache.TTLCache[string, V]
	flights singleflight.Group[string, V]
	limiter ratelimit.Limiter
	queue   *taskqueue.Queue[V]

	defaultTTL     time.Duration
	defaultTimeout time.Duration

	logger           log.FieldLogger
	metricsCollector MetricsCollector
}

// New creates a new Orchestrator from the passed configuration.
func New[V any](cfg *Config) (*Orchestrator[V], error) {
	return NewWithOpts[V](cfg, Opts{})
}

// NewWithOpts creates a new Orchestrator from the passed configuration,
// allowing the collaborators to be overridden.
func NewWithOpts[V any](cfg *Config, opts Opts) (*Orchestrator[V], error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.ConcurrencyLimit <= 0 {
		return nil, fmt.Errorf("concurrency limit must be positive, got %d", cfg.ConcurrencyLimit)
	}
	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("default TTL must not be negative, got %s", cfg.DefaultTTL)
	}
	if cfg.DefaultTimeout < 0 {
		return nil, fmt.Errorf("default timeout must not be negative, got %s", cfg.DefaultTimeout)
	}

	limiter := opts.Limiter
	if limiter == nil {
		var err error
		limiter, err = ratelimit.NewFixedWindowLimiter(ratelimit.Rate{
			Count:    cfg.RateLimit.MaxRequests,
			Duration: time.Duration(cfg.RateLimit.Window),
		})
		if err != nil {
			return nil, fmt.Errorf("create rate limiter: %w", err)
		}
	}

	cache, err := ttlcache.NewWithOpts[string, V](opts.CacheMetricsCollector, ttlcache.Options{
		DefaultTTL: time.Duration(cfg.DefaultTTL),
		MaxEntries: cfg.Cache.MaxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	queue, err := taskqueue.NewWithOpts[V](cfg.ConcurrencyLimit, opts.QueueMetricsCollector, taskqueue.Options{
		DefaultTimeout: time.Duration(cfg.DefaultTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("create task queue: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	metricsCollector := opts.MetricsCollector
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}

	return &Orchestrator[V]{
		cache:            cache,
		limiter:          limiter,
		queue:            queue,
		defaultTTL:       time.Duration(cfg.DefaultTTL),
		defaultTimeout:   time.Duration(cfg.DefaultTimeout),
		logger:           logger,
		metricsCollector: metricsCollector,
	}, nil
}

// FetchOrCompute returns the value for the request's cache key.
//
// The call is resolved by the first applicable step:
//  1. A live cached result is returned as is.
//  2. If a computation for the cache key is already in flight, the caller
//     attaches to it and shares its outcome. The rate budget is not charged.
//  3. The rate budget of RateLimitKey is checked; on rejection *ratelimit.Error
//     with retry guidance is returned and nothing is enqueued.
//  4. The compute function is scheduled on the task queue with the request's
//     priority and timeout. A successful result is cached before any attached
//     caller observes it.
//
// Failures are returned as *ComputeError, exceeded timeouts as
// *taskqueue.TimeoutError. Neither is cached.
func (o *Orchestrator[V]) FetchOrCompute(ctx context.Context, req Request[V]) (V, error) {
	var zero V
	if req.CacheKey == "" {
		return zero, fmt.Errorf("cache key must not be empty")
	}
	if req.Fn == nil {
		return zero, fmt.Errorf("compute fn must not be nil")
	}

	if val, ok := o.cache.Get(req.CacheKey); ok {
		o.metricsCollector.IncRequests(ResultCacheHit)
		return val, nil
	}

	if val, err, joined := o.flights.Join(req.CacheKey); joined {
		o.metricsCollector.IncRequests(ResultFlightJoin)
		o.logger.Debug("joined in-flight computation", log.String("cache_key", req.CacheKey))
		return val, err
	}

	rateLimitKey := req.RateLimitKey
	if rateLimitKey == "" {
		rateLimitKey = req.CacheKey
	}
	if err := ratelimit.AcquireOrReject(ctx, o.limiter, rateLimitKey); err != nil {
		var rlErr *ratelimit.Error
		if errors.As(err, &rlErr) {
			o.metricsCollector.IncRequests(ResultRateLimited)
			o.logger.Warn("rate limit exceeded",
				log.String("rate_limit_key", rateLimitKey),
				log.Duration("retry_after", rlErr.RetryAfter))
		}
		return zero, err
	}

	start := time.Now()
	val, err := o.flights.Do(req.CacheKey, func() (V, error) {
		return o.compute(req)
	})
	o.observeOutcome(req.CacheKey, time.Since(start), err)
	return val, err
}

// compute runs as the single-flight leader: it schedules the compute function
// on the queue, waits for the terminal result and caches it on success.
func (o *Orchestrator[V]) compute(req Request[V]) (V, error) {
	var zero V

	future, err := o.queue.SubmitWithOpts(req.Fn, taskqueue.SubmitOpts{
		Priority: req.Priority,
		Timeout:  req.Timeout,
	})
	if err != nil {
		return zero, err
	}

	// Wait for the task, not the caller: attached callers share this result,
	// and the task's own timeout bounds the execution.
	val, err := future.Result(context.Background())
	if err != nil {
		var timeoutErr *taskqueue.TimeoutError
		if errors.As(err, &timeoutErr) || errors.Is(err, taskqueue.ErrQueueClosed) {
			return zero, err
		}
		return zero, &ComputeError{Cause: err}
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = o.defaultTTL
	}
	o.cache.SetWithTTL(req.CacheKey, val, ttl)
	return val, nil
}

func (o *Orchestrator[V]) observeOutcome(cacheKey string, elapsed time.Duration, err error) {
	switch {
	case err == nil:
		o.metricsCollector.IncRequests(ResultComputed)
		o.logger.Debug("value computed",
			log.String("cache_key", cacheKey), log.DurationIn(elapsed, time.Millisecond))
	case isTimeout(err):
		o.metricsCollector.IncRequests(ResultTimeout)
		o.logger.Warn("compute timed out",
			log.String("cache_key", cacheKey), log.DurationIn(elapsed, time.Millisecond))
	default:
		o.metricsCollector.IncRequests(ResultComputeError)
		o.logger.Error("compute failed",
			log.String("cache_key", cacheKey), log.DurationIn(elapsed, time.Millisecond), log.Error(err))
	}
}

func isTimeout(err error) bool {
	var timeoutErr *taskqueue.TimeoutError
	return errors.As(err, &timeoutErr)
}

// QueueStats returns a snapshot of the underlying task queue state.
func (o *Orchestrator[V]) QueueStats() taskqueue.Stats {
	return o.queue.Stats()
}

// RunPeriodicCleanup starts a blocking loop that sweeps expired cache entries
// and rate limiter windows every cleanupInterval until ctx is done.
// Sweeping is optional: reads never observe expired entries either way,
// the sweep only bounds memory of abandoned keys.
func (o *Orchestrator[V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := o.cache.CleanExpired()
			if sweeper, ok := o.limiter.(interface{ CleanExpired() int }); ok {
				removed += sweeper.CleanExpired()
			}
			if removed > 0 {
				o.logger.Debug("periodic cleanup finished", log.Int("removed", removed))
			}
		}
	}
}

// Close shuts the task queue down. Pending computations are failed with
// taskqueue.ErrQueueClosed, running ones are awaited.
func (o *Orchestrator[V]) Close() {
	o.queue.Close()
}
