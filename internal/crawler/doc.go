// Package crawler holds the task, result and record types plus the interfaces
// that connect the work queue, worker pool, fetcher, stores and parser.
package crawler
