package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

func newTestClient(srv *httptest.Server, pingFn string) *Client {
	return NewClient(Config{
		BaseURL:      srv.URL + "/",
		APIKey:       "secret",
		PingFunction: pingFn,
	}, srv.Client(), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func TestClient_TriggerJob(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody triggerPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	id := uuid.New()
	err := c.TriggerJob(context.Background(), tracking.TriggerRequest{
		JobID:   id,
		Kind:    tracking.JobKindAITraining,
		OwnerID: "owner-1",
		Input:   tracking.Input{URL: "https://example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/functions/v1/train-chatbot", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, id.String(), gotBody.JobID)
	assert.Equal(t, "owner-1", gotBody.OwnerID)
	assert.Equal(t, "https://example.com", gotBody.Input.URL)
}

func TestClient_TriggerJobRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	err := c.TriggerJob(context.Background(), tracking.TriggerRequest{
		JobID: uuid.New(),
		Kind:  tracking.JobKindJobSearch,
	})
	require.ErrorIs(t, err, ErrWorkerRejected)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestClient_TriggerUnknownKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	c := newTestClient(srv, "")
	err := c.TriggerJob(context.Background(), tracking.TriggerRequest{JobID: uuid.New(), Kind: "other"})
	require.Error(t, err)
}

func TestClient_PingJob(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantAlive bool
		wantErr   bool
	}{
		{
			name: "alive",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/functions/v1/job-status", r.URL.Path)
				_, _ = w.Write([]byte(`{"alive":true}`))
			},
			wantAlive: true,
		},
		{
			name: "not alive",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"alive":false}`))
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: true,
		},
		{
			name: "malformed reply",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			alive, err := newTestClient(srv, "job-status").PingJob(context.Background(), tracking.JobKindAITraining, uuid.New())
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, alive)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlive, alive)
		})
	}
}

func TestClient_PingDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	alive, err := newTestClient(srv, "").PingJob(context.Background(), tracking.JobKindAITraining, uuid.New())
	require.NoError(t, err)
	assert.False(t, alive)
}
