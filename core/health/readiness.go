package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// Readiness answers "READY" when every check passes and 503 otherwise.
// Checks run in order and stop at the first failure.
func Readiness(log *slog.Logger, checks ...func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", logger.Error(err))
				writeText(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
				return
			}
		}
		writeText(w, http.StatusOK, "READY")
	})
}

// Handler returns a mux serving Liveness on /health/live and Readiness on /health/ready.
func Handler(log *slog.Logger, checks ...func(context.Context) error) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", Liveness)
	mux.Handle("GET /health/ready", Readiness(log, checks...))
	return mux
}
