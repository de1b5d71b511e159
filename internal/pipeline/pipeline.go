// Package pipeline runs one batch end to end: queue the tasks, drain them
// through the worker pool into a result store, then parse, archive and
// persist the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/dispatcher"
	"github.com/JakeFAU/zipcrawler/internal/id/uuid"
	"github.com/JakeFAU/zipcrawler/internal/parser"
	"github.com/JakeFAU/zipcrawler/internal/progress"
	queueMemory "github.com/JakeFAU/zipcrawler/internal/queue/memory"
	"github.com/JakeFAU/zipcrawler/internal/worker"
)

// StoreFactory returns the result store for one run.
type StoreFactory func(runID string) (crawler.ResultStore, error)

// Config sizes the pool and its queue.
type Config struct {
	PoolSize      int
	QueueCapacity int
	Worker        worker.Config
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
}

// Deps are the collaborators a Pipeline drives. Archive and Records may be
// nil, in which case those steps are skipped.
type Deps struct {
	Fetcher   crawler.Fetcher
	Decorator crawler.RequestDecorator
	NewStore  StoreFactory
	Archive   crawler.BlobStore
	Records   crawler.RecordStore
}

// Result is the outcome of one run.
type Result struct {
	RunID    string
	Raw      []crawler.RawResult
	Records  map[int]crawler.ParsedRecord
	Progress progress.Snapshot
	// Archived counts raw pages written to the archive.
	Archived int
}

// Pipeline executes runs. One Pipeline may execute several runs in sequence.
type Pipeline struct {
	cfg     Config
	deps    Deps
	parser  *parser.Parser
	logger  *zap.Logger
	newID   func() (string, error)
	current atomic.Pointer[progress.Tracker]
}

// New validates dependencies and builds a Pipeline.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if cfg.PoolSize <= 0 {
		return nil, errors.New("pool size must be positive")
	}
	if cfg.QueueCapacity < 0 {
		return nil, errors.New("queue capacity must be >= 0")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.NewStore == nil {
		return nil, errors.New("result store factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		parser: parser.New(logger),
		logger: logger.Named("pipeline"),
		newID:  uuid.NewGenerator().NewID,
	}, nil
}

// Progress reports the current or most recent run's snapshot. ok is false
// before the first run starts.
func (p *Pipeline) Progress() (progress.Snapshot, bool) {
	t := p.current.Load()
	if t == nil {
		return progress.Snapshot{}, false
	}
	return t.Snapshot(), true
}

// Run executes a batch in fill-then-drain mode: every task is enqueued and
// the queue closed before the workers start. A repeated index fails the run
// before anything is fetched.
func (p *Pipeline) Run(ctx context.Context, tasks []crawler.Task) (Result, error) {
	seen := make(map[int]struct{}, len(tasks))
	for _, task := range tasks {
		if err := admit(seen, task); err != nil {
			return Result{}, err
		}
	}
	return p.execute(ctx, 0, func(ctx context.Context, q *queueMemory.Queue, tracker *progress.Tracker) error {
		defer q.Close()
		tracker.AddTotal(len(tasks))
		for _, task := range tasks {
			if err := q.Enqueue(ctx, task); err != nil {
				return fmt.Errorf("enqueue task %d: %w", task.Index, err)
			}
		}
		return nil
	}, false)
}

// RunStream executes a batch while tasks are still being produced. Workers
// start immediately and the queue is closed once tasks is closed. The queue
// is bounded by the configured capacity, so a fast producer is paced by the
// pool. A repeated index stops production and fails the run, even when its
// first copy was already acknowledged.
func (p *Pipeline) RunStream(ctx context.Context, tasks <-chan crawler.Task) (Result, error) {
	return p.execute(ctx, p.cfg.QueueCapacity, func(ctx context.Context, q *queueMemory.Queue, tracker *progress.Tracker) error {
		defer q.Close()
		seen := make(map[int]struct{})
		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("produce tasks: %w", ctx.Err())
			case task, ok := <-tasks:
				if !ok {
					return nil
				}
				if err := admit(seen, task); err != nil {
					return err
				}
				tracker.AddTotal(1)
				if err := q.Enqueue(ctx, task); err != nil {
					return fmt.Errorf("enqueue task %d: %w", task.Index, err)
				}
			}
		}
	}, true)
}

// admit records the task's index in seen. The queue only rejects indices
// still outstanding, so the batch keeps its own set.
func admit(seen map[int]struct{}, task crawler.Task) error {
	if _, dup := seen[task.Index]; dup {
		return fmt.Errorf("task %d: %w", task.Index, crawler.ErrDuplicateTask)
	}
	seen[task.Index] = struct{}{}
	return nil
}

type producer func(ctx context.Context, q *queueMemory.Queue, tracker *progress.Tracker) error

func (p *Pipeline) execute(ctx context.Context, capacity int, produce producer, concurrent bool) (Result, error) {
	runID, err := p.newID()
	if err != nil {
		return Result{}, err
	}
	logger := p.logger.With(zap.String("run_id", runID))
	store, err := p.deps.NewStore(runID)
	if err != nil {
		return Result{}, fmt.Errorf("open result store: %w", err)
	}

	tracker := progress.NewTracker(runID)
	p.current.Store(tracker)
	defer tracker.Finish()

	q := queueMemory.NewQueue(capacity)
	workers := make([]*worker.Worker, 0, p.cfg.PoolSize)
	for i := 0; i < p.cfg.PoolSize; i++ {
		workers = append(workers, worker.New(
			i, q, p.deps.Fetcher, p.deps.Decorator, store, tracker, p.cfg.Worker, logger,
		))
	}
	pool := dispatcher.New(q, workers, logger)
	logger.Info("run started", zap.Int("workers", pool.Size()), zap.Int("queue_capacity", capacity))

	if concurrent {
		produceCtx, stopProducing := context.WithCancel(ctx)
		defer stopProducing()
		produced := make(chan error, 1)
		go func() { produced <- produce(produceCtx, q, tracker) }()
		runErr := pool.Run(ctx)
		if runErr != nil {
			// Nothing drains the queue any more; unblock the producer.
			stopProducing()
		}
		if err := errors.Join(<-produced, runErr); err != nil {
			return Result{RunID: runID, Progress: tracker.Snapshot()}, err
		}
	} else {
		if err := produce(ctx, q, tracker); err != nil {
			return Result{RunID: runID, Progress: tracker.Snapshot()}, err
		}
		if err := pool.Run(ctx); err != nil {
			return Result{RunID: runID, Progress: tracker.Snapshot()}, err
		}
	}

	raw, err := store.Results(ctx)
	if err != nil {
		return Result{RunID: runID, Progress: tracker.Snapshot()}, fmt.Errorf("collect results: %w", err)
	}
	records := p.parser.ParseAll(raw)
	result := Result{RunID: runID, Raw: raw, Records: records}

	result.Archived = p.archive(ctx, logger, runID, raw)
	if err := p.persist(ctx, runID, records); err != nil {
		result.Progress = tracker.Snapshot()
		return result, err
	}
	p.release(ctx, logger, store)

	tracker.Finish()
	result.Progress = tracker.Snapshot()
	logger.Info("run finished",
		zap.Int("tasks", result.Progress.Total),
		zap.Int("succeeded", result.Progress.Succeeded),
		zap.Int("failed", result.Progress.Failed),
		zap.Int("archived", result.Archived),
	)
	return result, nil
}

// archive writes each fetched page under prefix/runID. Failures are logged
// and skipped.
func (p *Pipeline) archive(ctx context.Context, logger *zap.Logger, runID string, raw []crawler.RawResult) int {
	if p.deps.Archive == nil {
		return 0
	}
	archived := 0
	for _, r := range raw {
		if r.Failed() {
			continue
		}
		objectPath := ArchivePath(p.cfg.ArchivePrefix, runID, r.Index)
		if _, err := p.deps.Archive.PutObject(ctx, objectPath, "text/html; charset=utf-8", r.Content); err != nil {
			logger.Warn("could not archive page",
				zap.Int("index", r.Index),
				zap.String("path", objectPath),
				zap.Error(err),
			)
			continue
		}
		archived++
	}
	return archived
}

func (p *Pipeline) persist(ctx context.Context, runID string, records map[int]crawler.ParsedRecord) error {
	if p.deps.Records == nil || len(records) == 0 {
		return nil
	}
	if err := p.deps.Records.SaveRecords(ctx, runID, SortedRecords(records)); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

// clearer is implemented by result stores that outlive the process.
type clearer interface {
	Clear(ctx context.Context) error
}

// release drops the run's raw results once they are archived and persisted.
// A failure only leaves the results behind, so it is logged.
func (p *Pipeline) release(ctx context.Context, logger *zap.Logger, store crawler.ResultStore) {
	c, ok := store.(clearer)
	if !ok {
		return
	}
	if err := c.Clear(ctx); err != nil {
		logger.Warn("could not clear result store", zap.Error(err))
	}
}

// ArchivePath is the object path of one raw page.
func ArchivePath(prefix, runID string, index int) string {
	return path.Join(prefix, runID, fmt.Sprintf("%06d.html", index))
}

// SortedRecords flattens records in index order.
func SortedRecords(records map[int]crawler.ParsedRecord) []crawler.ParsedRecord {
	out := make([]crawler.ParsedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
