package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apptracking "github.com/ahrav/jobtracker/internal/app/tracking"
	"github.com/ahrav/jobtracker/internal/domain/tracking"
)

func TestFromService(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrCode
		status int
	}{
		{"validation", &tracking.ValidationError{Field: "url", Reason: "bad"}, InvalidArgument, http.StatusBadRequest},
		{"auth", tracking.ErrAuth, Unauthenticated, http.StatusUnauthorized},
		{"not found", fmt.Errorf("reading: %w", tracking.ErrJobNotFound), NotFound, http.StatusNotFound},
		{"no job", tracking.ErrNoJob, NotFound, http.StatusNotFound},
		{"in progress", tracking.ErrJobInProgress, Conflict, http.StatusConflict},
		{"closed", apptracking.ErrTrackerClosed, Unavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("connection reset"), Internal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromService(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.HTTPStatus())
		})
	}
}

func TestFromService_HidesInternalDetails(t *testing.T) {
	got := FromService(errors.New("pq: password authentication failed"))
	assert.Equal(t, "internal error", got.Message)
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, Newf(NotFound, "job %s not found", "abc"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Error
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, NotFound, body.Code)
	assert.Equal(t, "job abc not found", body.Message)
}

func TestCheck(t *testing.T) {
	type req struct {
		Kind string `validate:"required,oneof=a b"`
		URL  string `validate:"omitempty,url"`
	}

	assert.NoError(t, Check(req{Kind: "a", URL: "https://example.com"}))

	err := Check(req{Kind: "c", URL: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind must be one of [a b]")
	assert.Contains(t, err.Error(), "url must be a valid URL")
}
