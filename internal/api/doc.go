// Package api hosts the optional HTTP status server that runs alongside a
// crawl. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/history for per-round reports.
//   - GET /v1/results for the page results gathered so far.
package api
