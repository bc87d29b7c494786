// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET|POST /tasks/check and /tasks/process for cron triggers (plain text).
//   - POST /v1/ping and /v1/runs, the JSON equivalents.
//   - GET / and /v1/sites/{site}/history for recent measurements.
package api
