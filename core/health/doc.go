// Package health provides HTTP health endpoints for the worker process.
//
// Handlers:
//   - Liveness: process is running (no dependency checks)
//   - Readiness: every dependency check passes
//
// Usage:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /health/live", health.Liveness)
//	mux.Handle("GET /health/ready", health.Readiness(log,
//		redis.Healthcheck(rdb),
//		service.Healthcheck,
//	))
//
// Dependency checks follow the func(context.Context) error signature.
package health
