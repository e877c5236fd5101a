package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/jobtracker/pkg/common/logger"
)

func newRouter(ready func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	Routes(r, Config{Build: "test-build", Log: logger.Noop(), Ready: ready})
	return r
}

func TestLiveness(t *testing.T) {
	for _, path := range []string{"/healthz", "/v1/liveness"} {
		rec := httptest.NewRecorder()
		newRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		require.Equal(t, http.StatusOK, rec.Code, path)
		var body healthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "test-build", body.Build)
	}
}

func TestReadiness(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(func(context.Context) error { return nil }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(func(context.Context) error { return errors.New("store unreachable") }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body readyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "store unreachable", body.Error)
}
