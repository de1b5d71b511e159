// Package progress tracks how far a crawl batch has advanced. Workers record
// each finished task; the ops API and the pipeline read snapshots.
package progress
