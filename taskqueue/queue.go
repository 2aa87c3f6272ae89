/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"
)

// Options represents options for the queue.
type Options struct {
	// DefaultTimeout bounds the execution of tasks submitted without an explicit timeout.
	// Zero means no timeout.
	DefaultTimeout time.Duration
}

// SubmitOpts represents per-task submit options.
type SubmitOpts struct {
	// Priority orders pending tasks, higher first. Ties are broken by submission order.
	Priority int

	// Timeout bounds the task execution. Zero means the queue's default timeout.
	Timeout time.Duration
}

// Queue is a bounded-concurrency priority task executor.
// The concurrency limit is fixed at construction time.
type Queue[V any] struct {
	concurrencyLimit int
	defaultTimeout   time.Duration
	metricsCollector MetricsCollector

	mu      sync.Mutex
	pending taskHeap[V]
	seq     uint64
	running int
	closed  bool

	wg sync.WaitGroup

	completedCount atomic.Int64
	failedCount    atomic.Int64
	timedOutCount  atomic.Int64
}

// New creates a new Queue with the provided concurrency limit and metrics collector.
// Metrics collector can be nil, in this case, metrics will be disabled.
func New[V any](concurrencyLimit int, metricsCollector MetricsCollector) (*Queue[V], error) {
	return NewWithOpts[V](concurrencyLimit, metricsCollector, Options{})
}

// NewWithOpts creates a new Queue with the provided concurrency limit, metrics collector, and options.
func NewWithOpts[V any](concurrencyLimit int, metricsCollector MetricsCollector, opts Options) (*Queue[V], error) {
	if concurrencyLimit <= 0 {
		return nil, fmt.Errorf("concurrency limit must be positive, got %d", concurrencyLimit)
	}
	if opts.DefaultTimeout < 0 {
		return nil, fmt.Errorf("default timeout must be greater or equal to 0 (no timeout)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	return &Queue[V]{
		concurrencyLimit: concurrencyLimit,
		defaultTimeout:   opts.DefaultTimeout,
		metricsCollector: metricsCollector,
	}, nil
}

// Submit enqueues a task with zero priority and the default timeout.
func (q *Queue[V]) Submit(fn TaskFunc[V]) (*Future[V], error) {
	return q.SubmitWithOpts(fn, SubmitOpts{})
}

// SubmitWithOpts enqueues a task and returns its future.
// The task starts immediately if a running slot is free;
// otherwise it stays pending until one frees up.
func (q *Queue[V]) SubmitWithOpts(fn TaskFunc[V], opts SubmitOpts) (*Future[V], error) {
	if fn == nil {
		return nil, fmt.Errorf("task fn must not be nil")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = q.defaultTimeout
	}
	future := newFuture[V](xid.New().String(), opts.Priority)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	q.seq++
	heap.Push(&q.pending, &task[V]{fn: fn, timeout: timeout, seq: q.seq, future: future})
	q.dispatchLocked()
	return future, nil
}

// Stats is a point-in-time snapshot of the queue state.
type Stats struct {
	Pending   int
	Running   int
	Completed int64
	Failed    int64
	TimedOut  int64
}

// Stats returns a snapshot of the queue state.
func (q *Queue[V]) Stats() Stats {
	q.mu.Lock()
	pending, running := q.pending.Len(), q.running
	q.mu.Unlock()
	return Stats{
		Pending:   pending,
		Running:   running,
		Completed: q.completedCount.Load(),
		Failed:    q.failedCount.Load(),
		TimedOut:  q.timedOutCount.Load(),
	}
}

// Close stops accepting new tasks, fails all still-pending tasks with ErrQueueClosed,
// and waits until all running tasks reach a terminal state.
// It is safe to call Close multiple times.
func (q *Queue[V]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	var zero V
	for q.pending.Len() > 0 {
		t := heap.Pop(&q.pending).(*task[V])
		t.future.settle(StateFailed, zero, ErrQueueClosed)
		q.failedCount.Inc()
		q.metricsCollector.IncFinishedTasks(StateFailed)
	}
	q.metricsCollector.SetPendingTasks(0)
	q.mu.Unlock()

	q.wg.Wait()
}

// dispatchLocked starts pending tasks while free running slots remain.
// Must be called with q.mu held.
func (q *Queue[V]) dispatchLocked() {
	for q.running < q.concurrencyLimit && q.pending.Len() > 0 {
		t := heap.Pop(&q.pending).(*task[V])
		q.running++
		q.wg.Add(1)
		go q.run(t)
	}
	q.metricsCollector.SetPendingTasks(q.pending.Len())
	q.metricsCollector.SetRunningTasks(q.running)
}

type taskResult[V any] struct {
	val V
	err error
}

func (q *Queue[V]) run(t *task[V]) {
	defer q.wg.Done()
	defer q.freeSlot()

	startedAt := time.Now()
	t.future.state.Store(int32(StateRunning))

	var ctx context.Context
	var cancel context.CancelFunc
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	resCh := make(chan taskResult[V], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				var zero V
				resCh <- taskResult[V]{zero, fmt.Errorf("task panic: %v\n\n%s", p, debug.Stack())}
			}
		}()
		val, err := t.fn(ctx)
		resCh <- taskResult[V]{val, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			// A cooperative fn returns the context error when the timeout fires;
			// normalize it so callers observe a single timeout error type.
			if errors.Is(res.err, context.DeadlineExceeded) {
				var zero V
				q.settle(t, StateTimedOut, zero, &TimeoutError{TaskID: t.future.id, Elapsed: time.Since(startedAt)})
				return
			}
			q.settle(t, StateFailed, res.val, res.err)
			return
		}
		q.settle(t, StateCompleted, res.val, nil)
	case <-ctx.Done():
		// The task fn may keep running in the background if it ignores the context;
		// the slot is freed anyway and the eventual result is discarded.
		var zero V
		q.settle(t, StateTimedOut, zero, &TimeoutError{TaskID: t.future.id, Elapsed: time.Since(startedAt)})
	}
}

func (q *Queue[V]) settle(t *task[V], state State, val V, err error) {
	t.future.settle(state, val, err)
	switch state {
	case StateCompleted:
		q.completedCount.Inc()
	case StateTimedOut:
		q.timedOutCount.Inc()
	default:
		q.failedCount.Inc()
	}
	q.metricsCollector.IncFinishedTasks(state)
}

func (q *Queue[V]) freeSlot() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	q.dispatchLocked()
}
