// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /v1/extract (and the legacy POST /api/fetch-job-info) taking
//     {"url": "..."} and returning {company, jobTitle, location} or an error
//     object {error, details, kind, stage, raw}.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
