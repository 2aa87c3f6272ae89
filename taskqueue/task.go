/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// TaskFunc is a unit of work submitted to the queue.
// The passed context is cancelled when the task's timeout fires or the queue is closed;
// implementations are expected to check it cooperatively so the underlying call is
// actually aborted instead of running unobserved.
type TaskFunc[V any] func(ctx context.Context) (V, error)

// State represents the lifecycle state of a task:
// Pending -> Running -> Completed | Failed | TimedOut.
type State int32

// Task states.
const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
)

// String returns the state name as it is exposed in stats and metrics labels.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// ErrQueueClosed is returned on submits to a closed queue
// and delivered to futures of tasks that were still pending when the queue was closed.
var ErrQueueClosed = errors.New("task queue is closed")

// TimeoutError is delivered to the task's future when the task's timeout fires
// before its function settles.
type TimeoutError struct {
	TaskID  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Elapsed)
}

// Future is a handle to a submitted task. It settles exactly once,
// when the task reaches a terminal state.
type Future[V any] struct {
	id          string
	priority    int
	submittedAt time.Time

	state atomic.Int32

	done chan struct{}
	val  V
	err  error
}

func newFuture[V any](id string, priority int) *Future[V] {
	return &Future[V]{
		id:          id,
		priority:    priority,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// ID returns the task id.
func (f *Future[V]) ID() string {
	return f.id
}

// Priority returns the task priority.
func (f *Future[V]) Priority() int {
	return f.priority
}

// SubmittedAt returns the time the task was submitted.
func (f *Future[V]) SubmittedAt() time.Time {
	return f.submittedAt
}

// State returns the current task state.
func (f *Future[V]) State() State {
	return State(f.state.Load())
}

// Done returns a channel that is closed when the task reaches a terminal state.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the task reaches a terminal state or the passed context is done.
// Waiting is cancellable per caller; it doesn't affect the task itself.
func (f *Future[V]) Result(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (f *Future[V]) settle(state State, val V, err error) {
	f.val, f.err = val, err
	f.state.Store(int32(state))
	close(f.done)
}

type task[V any] struct {
	fn      TaskFunc[V]
	timeout time.Duration
	seq     uint64
	future  *Future[V]
	index   int // index in the pending heap
}

// taskHeap orders pending tasks by descending priority, FIFO within a priority.
type taskHeap[V any] []*task[V]

func (h taskHeap[V]) Len() int { return len(h) }

func (h taskHeap[V]) Less(i, j int) bool {
	if h[i].future.priority != h[j].future.priority {
		return h[i].future.priority > h[j].future.priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap[V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap[V]) Push(x interface{}) {
	t := x.(*task[V])
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap[V]) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
