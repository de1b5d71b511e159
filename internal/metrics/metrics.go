// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeOK labels a fetch that produced content.
const OutcomeOK = "ok"

var (
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            prometheus.Counter
	fetchDurationSeconds       *prometheus.HistogramVec
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	parseRecordsTotal          *prometheus.CounterVec
	parseMissingLabelsTotal    prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zipcrawler_fetches_total",
				Help: "Total number of page fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "zipcrawler_fetch_bytes_total",
				Help: "Total number of page bytes fetched.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zipcrawler_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zipcrawler_queue_depth",
				Help: "Number of tasks waiting to be dequeued.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zipcrawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		parseRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zipcrawler_parse_records_total",
				Help: "Total number of parsed records, labeled by status.",
			},
			[]string{"status"},
		)

		parseMissingLabelsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "zipcrawler_parse_missing_labels_total",
				Help: "Total number of expected labels absent from parsed pages.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch outcome. Outcome is OutcomeOK or a failure kind.
func ObserveFetch(outcome string, bytesFetched int, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.Add(float64(bytesFetched))
	}
}

// SetQueueDepth publishes the current number of queued tasks.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveParse counts one parsed record and its missing labels.
func ObserveParse(status string, missingLabels int) {
	Init()
	parseRecordsTotal.WithLabelValues(status).Inc()
	if missingLabels > 0 {
		parseMissingLabelsTotal.Add(float64(missingLabels))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
