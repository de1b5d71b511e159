package progress

import (
	"sync"
	"time"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

// Snapshot is a point-in-time view of a batch.
type Snapshot struct {
	RunID     string                      `json:"run_id"`
	Total     int                         `json:"total"`
	Done      int                         `json:"done"`
	Succeeded int                         `json:"succeeded"`
	Failed    int                         `json:"failed"`
	Failures  map[crawler.FailureKind]int `json:"failures"`
	Bytes     int64                       `json:"bytes"`
	StartedAt time.Time                   `json:"started_at"`
	Elapsed   string                      `json:"elapsed"`
	Finished  bool                        `json:"finished"`
}

// Tracker accumulates per-task outcomes. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	runID     string
	total     int
	succeeded int
	failures  map[crawler.FailureKind]int
	bytes     int64
	started   time.Time
	finished  bool
	now       func() time.Time
}

// NewTracker starts tracking a run.
func NewTracker(runID string) *Tracker {
	return newTracker(runID, time.Now)
}

func newTracker(runID string, now func() time.Time) *Tracker {
	return &Tracker{
		runID:    runID,
		failures: make(map[crawler.FailureKind]int),
		started:  now(),
		now:      now,
	}
}

// AddTotal raises the expected task count as tasks are enqueued.
func (t *Tracker) AddTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += n
}

// Record counts one finished task.
func (t *Tracker) Record(result crawler.RawResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if result.Failed() {
		kind := result.Failure
		if kind == crawler.FailureNone {
			kind = crawler.FailureConnection
		}
		t.failures[kind]++
		return
	}
	t.succeeded++
	t.bytes += int64(len(result.Content))
}

// Finish marks the batch complete.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
}

// Snapshot copies the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	failed := 0
	failures := make(map[crawler.FailureKind]int, len(t.failures))
	for k, v := range t.failures {
		failures[k] = v
		failed += v
	}
	return Snapshot{
		RunID:     t.runID,
		Total:     t.total,
		Done:      t.succeeded + failed,
		Succeeded: t.succeeded,
		Failed:    failed,
		Failures:  failures,
		Bytes:     t.bytes,
		StartedAt: t.started,
		Elapsed:   t.now().Sub(t.started).Round(time.Millisecond).String(),
		Finished:  t.finished,
	}
}
