package health_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/jobqueue/core/health"
)

func TestHandler(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.DiscardHandler)

	serve := func(h http.Handler, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("liveness", func(t *testing.T) {
		t.Parallel()

		rec := serve(health.Handler(log), "/health/live")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ALIVE", rec.Body.String())
	})

	t.Run("ready when checks pass", func(t *testing.T) {
		t.Parallel()

		ok := func(context.Context) error { return nil }
		rec := serve(health.Handler(log, ok, ok), "/health/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "READY", rec.Body.String())
	})

	t.Run("unavailable when a check fails", func(t *testing.T) {
		t.Parallel()

		calls := 0
		failing := func(context.Context) error { calls++; return errors.New("redis down") }
		rec := serve(health.Handler(log, failing, failing), "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, 1, calls, "checks stop at the first failure")
	})

	t.Run("unknown path", func(t *testing.T) {
		t.Parallel()

		rec := serve(health.Handler(log), "/metrics")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
