/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package taskqueue provides a bounded-concurrency executor with priority ordering,
// per-task timeouts, and Prometheus metrics.
//
// Tasks are drawn from the pending set in descending priority order with FIFO
// tie-break, so lower-priority tasks are not starved as long as the queue drains.
// At most a fixed number of tasks run simultaneously; a freed slot immediately
// draws the next pending task. Each running task receives a context that is
// cancelled when its timeout fires, allowing cooperative abortion of the
// underlying call; a task that ignores the context keeps running in the
// background, but its slot is freed and its eventual result is discarded.
package taskqueue
