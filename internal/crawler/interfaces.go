package crawler

import (
	"context"
	"net/http"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RequestDecorator produces the header set attached to one outgoing request.
type RequestDecorator interface {
	Decorate() http.Header
}

// Queue provides the work-queue contract the worker pool drains.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
	Ack(task Task) error
	Len() int
}

// ResultStore is the keyed sink workers write raw results into. Writes to
// distinct indices must be safe from concurrent goroutines.
type ResultStore interface {
	Put(ctx context.Context, result RawResult) error
	Get(ctx context.Context, index int) (RawResult, bool, error)
	Len(ctx context.Context) (int, error)
	Results(ctx context.Context) ([]RawResult, error)
}

// RecordStore persists parsed records for a run.
type RecordStore interface {
	SaveRecords(ctx context.Context, runID string, records []ParsedRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
