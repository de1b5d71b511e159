// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Task is one unit of work: fetch the page for a single input row.
type Task struct {
	Index int
	URL   string
	Zip   string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	Index   int
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RawResult holds the fetched bytes for one task index. Empty Content marks a
// failed fetch; Failure says why.
type RawResult struct {
	Index      int         `json:"index"`
	URL        string      `json:"url,omitempty"`
	Content    []byte      `json:"content,omitempty"`
	Failure    FailureKind `json:"failure,omitempty"`
	StatusCode int         `json:"status_code,omitempty"`
}

// Failed reports whether the result carries the empty marker.
func (r RawResult) Failed() bool {
	return len(r.Content) == 0
}

// RecordStatus summarizes how a ParsedRecord was produced.
type RecordStatus string

// Record status values.
const (
	RecordStatusOK            RecordStatus = "ok"
	RecordStatusFetchFailed   RecordStatus = "fetch_failed"
	RecordStatusTableNotFound RecordStatus = "table_not_found"
)

// ParsedRecord is the structured view of one zip-code page.
type ParsedRecord struct {
	Index          int          `json:"index"`
	ZipCode        string       `json:"zip_code"`
	Classification string       `json:"classification"`
	CityType       string       `json:"city_type"`
	TimeZone       string       `json:"time_zone"`
	City           string       `json:"city"`
	State          string       `json:"state"`
	Status         RecordStatus `json:"status"`
	MissingLabels  []string     `json:"missing_labels,omitempty"`
}
