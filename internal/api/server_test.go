package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apptracking "github.com/ahrav/jobtracker/internal/app/tracking"
	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

type stubService struct{}

func (stubService) Submit(context.Context, string, tracking.JobKind, tracking.Input) (apptracking.Snapshot, error) {
	panic("boom")
}

func (stubService) Job(_ context.Context, _ string, id uuid.UUID) (apptracking.Snapshot, error) {
	return apptracking.Snapshot{JobID: id, Status: tracking.JobStatusProcessing}, nil
}

func (stubService) Latest(context.Context, string, tracking.JobKind) (apptracking.Snapshot, error) {
	return apptracking.Snapshot{}, tracking.ErrJobNotFound
}

func (stubService) Cancel(context.Context, string, uuid.UUID) (apptracking.Snapshot, error) {
	return apptracking.Snapshot{}, nil
}

func (stubService) Retry(context.Context, string, uuid.UUID) (apptracking.Snapshot, error) {
	return apptracking.Snapshot{}, nil
}

type recordingMetrics struct {
	routes   []string
	statuses []int
}

func (m *recordingMetrics) IncRequestsTotal(_ context.Context, _ string, route string, status int) {
	m.routes = append(m.routes, route)
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) ObserveRequestDuration(context.Context, string, string, time.Duration) {}

func TestServer_RoutesAndMetrics(t *testing.T) {
	metrics := new(recordingMetrics)
	srv := NewServer(Config{Build: "test"}, logger.Noop(), metrics, stubService{}, nil)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id.String(), nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"/v1/jobs/{id}", "/healthz"}, metrics.routes)
	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, metrics.statuses)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	srv := NewServer(Config{}, logger.Noop(), NoopAPIMetrics(), stubService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"kind":"ai_training","url":"https://example.com"}`))
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	srv := NewServer(Config{Host: "127.0.0.1", Port: "0", ShutdownTimeout: time.Second},
		logger.Noop(), NoopAPIMetrics(), stubService{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestDebugMux(t *testing.T) {
	h, err := DebugMux()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/statsviz", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
}
