package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"student-records/internal/health"
	"student-records/internal/logger"
	"student-records/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *health.Handler, path string) (int, health.HealthResponse) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body health.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	h := health.NewHandler(logger.Discard(), metrics.NewMock())
	code, body := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestReady(t *testing.T) {
	ok := health.Check{Name: "postgres", Ping: func(context.Context) error { return nil }}
	down := health.Check{Name: "nats", Ping: func(context.Context) error { return errors.New("nats: connection closed") }}

	t.Run("all up", func(t *testing.T) {
		h := health.NewHandler(logger.Discard(), metrics.NewMock(), ok)
		code, body := serve(t, h, "/ready")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, map[string]string{"postgres": "ok"}, body.Checks)
	})

	t.Run("one down", func(t *testing.T) {
		h := health.NewHandler(logger.Discard(), metrics.NewMock(), ok, down)
		assert.Equal(t, []string{"postgres", "nats"}, h.Names())

		code, body := serve(t, h, "/ready")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "not ready", body.Status)
		assert.Equal(t, "nats: connection closed", body.Checks["nats"])
		assert.Equal(t, "ok", body.Checks["postgres"])
	})
}
