// Package worker implements the per-goroutine fetch loop of the worker pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/metrics"
	"github.com/JakeFAU/zipcrawler/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// TimeoutCooldown is how long the worker pauses after a timed-out fetch
	// before taking its next task. Zero disables the pause.
	TimeoutCooldown time.Duration
	// ProgressLogInterval logs the remaining queue length whenever it is a
	// multiple of this value. Zero disables progress logs.
	ProgressLogInterval int
}

// Worker drains the queue: dequeue, decorate, fetch, store, ack.
type Worker struct {
	id        int
	queue     crawler.Queue
	fetcher   crawler.Fetcher
	decorator crawler.RequestDecorator
	store     crawler.ResultStore
	tracker   *progress.Tracker
	cfg       Config
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

// New constructs a Worker. decorator and tracker may be nil.
func New(
	id int,
	queue crawler.Queue,
	fetcher crawler.Fetcher,
	decorator crawler.RequestDecorator,
	store crawler.ResultStore,
	tracker *progress.Tracker,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		fetcher:   fetcher,
		decorator: decorator,
		store:     store,
		tracker:   tracker,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", id)),
		sleep:     sleepContext,
	}
}

// Run consumes tasks until the queue is closed and empty, returning nil, or
// until ctx ends, returning the context error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return fmt.Errorf("worker %d stopped: %w", w.id, ctx.Err())
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return fmt.Errorf("worker %d dequeue: %w", w.id, err)
		}

		result := w.process(ctx, task)
		if result.Failure == crawler.FailureTimeout && w.cfg.TimeoutCooldown > 0 {
			w.logger.Info("cooling down after timeout",
				zap.Int("index", task.Index),
				zap.Duration("cooldown", w.cfg.TimeoutCooldown),
			)
			if err := w.sleep(ctx, w.cfg.TimeoutCooldown); err != nil {
				return fmt.Errorf("worker %d stopped: %w", w.id, err)
			}
		}
	}
}

// process handles exactly one task and always acknowledges it. A panic
// before the result is stored records the panic marker; no panic in the
// task kills the worker.
func (w *Worker) process(ctx context.Context, task crawler.Task) (result crawler.RawResult) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if err := w.queue.Ack(task); err != nil {
			w.logger.Error("ack failed", zap.Int("index", task.Index), zap.Error(err))
		}
	}()

	stored := false
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		w.logger.Warn("task panicked",
			zap.Int("index", task.Index),
			zap.String("url", task.URL),
			zap.Any("panic", rec),
		)
		if stored {
			return
		}
		result = crawler.RawResult{Index: task.Index, URL: task.URL, Failure: crawler.FailurePanic}
		w.putResult(ctx, result)
	}()

	start := time.Now()
	result = w.fetchTask(ctx, task)
	w.putResult(ctx, result)
	stored = true
	if w.tracker != nil {
		w.tracker.Record(result)
	}

	outcome := metrics.OutcomeOK
	if result.Failed() {
		outcome = string(result.Failure)
	}
	metrics.ObserveFetch(outcome, len(result.Content), time.Since(start))
	w.logProgress()
	return result
}

// putResult writes result to the store. An in-flight result is still
// recorded when the run is canceled. Store errors and panics are logged.
func (w *Worker) putResult(ctx context.Context, result crawler.RawResult) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("store result panicked", zap.Int("index", result.Index), zap.Any("panic", rec))
		}
	}()
	if err := w.store.Put(context.WithoutCancel(ctx), result); err != nil {
		w.logger.Error("store result failed", zap.Int("index", result.Index), zap.Error(err))
	}
}

// fetchTask converts every fetch failure, including a panic, into the empty
// marker for the task's index.
func (w *Worker) fetchTask(ctx context.Context, task crawler.Task) (result crawler.RawResult) {
	result = crawler.RawResult{Index: task.Index, URL: task.URL}
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Warn("fetch panicked",
				zap.Int("index", task.Index),
				zap.String("url", task.URL),
				zap.Any("panic", rec),
			)
			result = crawler.RawResult{Index: task.Index, URL: task.URL, Failure: crawler.FailurePanic}
		}
	}()

	req := crawler.FetchRequest{Index: task.Index, URL: task.URL}
	if w.decorator != nil {
		req.Headers = w.decorator.Decorate()
	}
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		result.Failure = crawler.ClassifyFetchError(err)
		var fe *crawler.FetchError
		if errors.As(err, &fe) {
			result.StatusCode = fe.StatusCode
		}
		w.logger.Warn("could not fetch page",
			zap.Int("index", task.Index),
			zap.String("url", task.URL),
			zap.String("failure", string(result.Failure)),
			zap.Int("status_code", result.StatusCode),
			zap.Error(err),
		)
		return result
	}

	result.StatusCode = resp.StatusCode
	if len(resp.Body) == 0 {
		result.Failure = crawler.FailureEmptyBody
		w.logger.Warn("page body empty", zap.Int("index", task.Index), zap.String("url", task.URL))
		return result
	}
	result.Content = resp.Body
	w.logger.Debug("page fetched",
		zap.Int("index", task.Index),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)
	return result
}

func (w *Worker) logProgress() {
	remaining := w.queue.Len()
	metrics.SetQueueDepth(remaining)
	if w.cfg.ProgressLogInterval > 0 && remaining%w.cfg.ProgressLogInterval == 0 {
		w.logger.Info("tasks left to process", zap.Int("remaining", remaining))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
