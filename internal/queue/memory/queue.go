// Package memory provides the in-process work queue drained by the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

// Queue is a FIFO of crawl tasks with an acknowledgement barrier. A capacity of
// zero means unbounded; otherwise Enqueue blocks while capacity tasks are
// waiting to be dequeued.
type Queue struct {
	mu    sync.Mutex
	items []crawler.Task
	// outstanding tracks every unacknowledged index; true once dequeued.
	outstanding map[int]bool
	pending     int
	closed      bool
	capacity    int

	// ready is signalled whenever items grow or the queue closes.
	ready chan struct{}
	// space is signalled whenever a bounded queue frees a slot.
	space chan struct{}
	// drained is closed and replaced each time pending reaches zero.
	drained chan struct{}
}

// NewQueue constructs a queue with the provided capacity (0 = unbounded).
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	q := &Queue{
		outstanding: make(map[int]bool),
		capacity:    capacity,
		ready:       make(chan struct{}),
		space:       make(chan struct{}),
		drained:     make(chan struct{}),
	}
	close(q.drained)
	return q
}

// Enqueue appends a task to the tail or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, task crawler.Task) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return fmt.Errorf("enqueue index %d: %w", task.Index, crawler.ErrQueueClosed)
		}
		if _, dup := q.outstanding[task.Index]; dup {
			q.mu.Unlock()
			return fmt.Errorf("enqueue index %d: %w", task.Index, crawler.ErrDuplicateTask)
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, task)
			q.outstanding[task.Index] = false
			if q.pending == 0 {
				q.drained = make(chan struct{})
			}
			q.pending++
			q.broadcast(&q.ready)
			q.mu.Unlock()
			return nil
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-space:
		}
	}
}

// Dequeue pops the head task, blocking until one is available, the queue is
// closed and empty, or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (crawler.Task, error) {
	for {
		q.mu.Lock()
		if task, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return crawler.Task{}, crawler.ErrQueueClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-ready:
		}
	}
}

// TryDequeue pops the head task without blocking. It returns ErrQueueEmpty
// when nothing is waiting.
func (q *Queue) TryDequeue() (crawler.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.popLocked(); ok {
		return task, nil
	}
	if q.closed {
		return crawler.Task{}, crawler.ErrQueueClosed
	}
	return crawler.Task{}, crawler.ErrQueueEmpty
}

// Ack marks a dequeued task as fully processed.
func (q *Queue) Ack(task crawler.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if dequeued, ok := q.outstanding[task.Index]; !ok || !dequeued {
		return fmt.Errorf("ack index %d: %w", task.Index, crawler.ErrNotInFlight)
	}
	delete(q.outstanding, task.Index)
	q.pending--
	if q.pending == 0 {
		close(q.drained)
	}
	return nil
}

// WaitUntilDrained blocks until every enqueued task has been dequeued and
// acknowledged, or the context ends.
func (q *Queue) WaitUntilDrained(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait until drained: %w", ctx.Err())
	case <-drained:
		return nil
	}
}

// Close stops accepting tasks. Tasks already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast(&q.ready)
	q.broadcast(&q.space)
}

// Len returns the number of tasks waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of tasks enqueued but not yet acknowledged.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue) popLocked() (crawler.Task, bool) {
	if len(q.items) == 0 {
		return crawler.Task{}, false
	}
	task := q.items[0]
	q.items[0] = crawler.Task{}
	q.items = q.items[1:]
	q.outstanding[task.Index] = true
	if q.capacity > 0 {
		q.broadcast(&q.space)
	}
	return task, true
}

// broadcast wakes every goroutine waiting on ch and installs a fresh channel.
func (q *Queue) broadcast(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}
