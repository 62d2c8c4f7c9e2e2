// Package main hosts the extraction service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes POST /v1/extract (and the legacy /api/fetch-job-info), health probes and
//     /metrics. Each request body {"url": "..."} runs one pipeline.Orchestrator extraction inside the request
//     goroutine; there is no queue.
//   - Pipeline: validate the URL and LLM credential, resolve a browser binary (environment.Resolver, local path or a
//     rod-managed Chromium download), render with chromedp (render.Manager owns exactly one browser per request and
//     always tears it down), reduce the markup to text with goquery, prompt Gemini, then decode the reply (fenced or plain JSON).
//   - Failures carry the stage and a kind (ValidationError, ConfigurationError, BrowserLaunchError, NavigationError,
//     MarkupExtractionError, LlmCallError, DecodeError) that the API maps to 400, 500, 502 or 504.
//   - Diagnostics: failed runs (and optionally successful ones) write a JSON artifact to the configured BlobStore
//     (memory/local/GCS) with the HTML excerpt and raw model payload.
//   - Configuration & plumbing: Viper populates config from env/files (JOBEXTRACT_ prefix, GEMINI_API_KEY and PORT
//     aliases, optional .env via godotenv); zap provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
//   - Tracing: otelhttp joins inbound traceparent headers; the orchestrator adds one span per stage. Spans go
//     nowhere unless telemetry.exporter is stdout.
//
// Operational notes:
//   - Every wait is bounded: navigation timeout, settle window, LLM client timeout and the per-request deadline from
//     server.request_timeout.
//   - Cloud Run: the HTTP server listens on PORT when set, stays stateless across requests, and drains in-flight
//     extractions on SIGTERM within server.shutdown_timeout.
//
// Quick checklist:
//   - Configure env vars: GEMINI_API_KEY (or JOBEXTRACT_LLM_API_KEY), JOBEXTRACT_BROWSER_EXECUTION_CONTEXT=local|hosted,
//     JOBEXTRACT_BROWSER_LOCAL_PATH for local runs, JOBEXTRACT_DIAGNOSTICS_BACKEND and bucket/dir when capture is
//     wanted.
//   - Run locally: go run ./cmd/jobextract -config config.yaml, or go run . serve / go run . extract <url>.
package main
