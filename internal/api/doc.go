// Package api hosts the operator HTTP server that runs alongside a crawl.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness; readyz runs the registered checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the current run's counters.
package api
