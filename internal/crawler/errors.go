package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// FailureKind classifies why a fetch produced no content.
type FailureKind string

// Fetch failure kinds.
const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureConnection  FailureKind = "connection_error"
	FailureNonOKStatus FailureKind = "non_ok_status"
	FailureEmptyBody   FailureKind = "empty_body"
	FailurePanic       FailureKind = "panic"
)

// Sentinel errors shared by the queue, stores and parser.
var (
	ErrQueueClosed    = errors.New("queue closed")
	ErrQueueEmpty     = errors.New("queue empty")
	ErrNotInFlight    = errors.New("task not in flight")
	ErrDuplicateTask  = errors.New("task index already queued")
	ErrDuplicateIndex = errors.New("result already stored for index")
	ErrTableNotFound  = errors.New("stat table not found")
	ErrEmptyContent   = errors.New("empty page content")
)

// FetchError is returned by fetchers for every failed GET.
type FetchError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FailureNonOKStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyFetchError maps an arbitrary fetch error onto a FailureKind.
func ClassifyFetchError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureConnection
}
