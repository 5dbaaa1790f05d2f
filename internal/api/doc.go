// Package api hosts the read-only HTTP interface over the document store.
// Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/documents?page=&per_page= for the paginated index.
//   - GET /v1/documents/{key} for one document by numeric id or slug.
package api
