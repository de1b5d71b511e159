// Package dispatcher manages worker fan-out over the task queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/worker"
)

type drainer interface {
	WaitUntilDrained(ctx context.Context) error
}

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts every worker, waits for all of them to exit, then waits for the
// queue's drain barrier. Workers exit once the queue is closed and empty, so
// the queue must be closed by the producer for Run to return without ctx
// ending. On return with a nil error every enqueued task has been stored and
// acknowledged.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.workers) == 0 {
		return errors.New("dispatcher has no workers")
	}
	d.logger.Info("starting workers", zap.Int("workers", len(d.workers)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			if err := wk.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("dispatcher canceled: %w", ctx.Err())
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if dq, ok := d.queue.(drainer); ok {
		if err := dq.WaitUntilDrained(ctx); err != nil {
			return fmt.Errorf("wait for drain: %w", err)
		}
	}
	d.logger.Info("all tasks are completed")
	return nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task crawler.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
