// Package queue implements the Trade Queue: a single-worker, strict-FIFO
// task runner with a minimum inter-dispatch gap, so exchange calls never
// overlap and never burst past the exchange's rate limits (spec.md §4.2).
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task is one unit of queued work. Its own error handling is internal:
// a returned error is logged, never retried, and never aborts the queue.
type Task func(ctx context.Context) error

// Queue runs tasks one at a time, strictly in insertion order, waiting at
// least MinGap between the end of one task and the start of the next.
type Queue struct {
	minGap time.Duration

	mu      sync.Mutex
	tasks   []Task
	wake    chan struct{}
	closed  bool
	lastRun time.Time
}

// New returns a Queue ready to accept tasks; Run must be started in its
// own goroutine to begin draining them.
func New(minGap time.Duration) *Queue {
	return &Queue{minGap: minGap, wake: make(chan struct{}, 1)}
}

// Enqueue appends a task to the back of the FIFO. Safe for concurrent use.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. Intended to be started once
// as a long-lived goroutine.
func (q *Queue) Run(ctx context.Context) {
	for {
		task, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if gap := q.minGap - time.Since(q.lastRun); gap > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(gap):
			}
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("trade queue task panicked")
				}
			}()
			if err := task(ctx); err != nil {
				log.Error().Err(err).Msg("trade queue task failed")
			}
		}()
		q.lastRun = time.Now()
	}
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Close stops accepting new tasks; already-queued tasks still drain.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len reports the number of tasks currently waiting, for diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
