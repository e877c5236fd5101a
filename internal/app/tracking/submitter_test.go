package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
)

func TestSubmitter_Submit(t *testing.T) {
	env := newTestEnv()
	env.trigger.On("TriggerJob", mock.Anything, mock.Anything).Return(nil)

	id := uuid.New()
	deps := env.deps()
	deps.NewID = sequentialIDs(id)
	s := NewSubmitter(env.cfg, deps)

	got, err := s.Submit(context.Background(), tracking.JobKindAITraining, "owner-1", urlInput())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	rec := env.store.get(id)
	require.NotNil(t, rec)
	assert.Equal(t, "processing", rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, "owner-1", rec.OwnerID)
	assert.Equal(t, urlInput(), rec.Input)
	assert.Equal(t, testStart, rec.CreatedAt)
	assert.Equal(t, 1, env.store.insertCalls)

	env.trigger.AssertNumberOfCalls(t, "TriggerJob", 1)
	req := env.trigger.Calls[0].Arguments.Get(1).(tracking.TriggerRequest)
	assert.Equal(t, id, req.JobID)
	assert.Equal(t, tracking.JobKindAITraining, req.Kind)
	assert.Equal(t, "owner-1", req.OwnerID)
}

func TestSubmitter_RejectsBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name    string
		kind    tracking.JobKind
		owner   string
		input   tracking.Input
		wantErr error
	}{
		{
			name:    "empty input",
			kind:    tracking.JobKindAITraining,
			owner:   "owner-1",
			wantErr: tracking.ErrValidation,
		},
		{
			name:    "malformed url",
			kind:    tracking.JobKindJobSearch,
			owner:   "owner-1",
			input:   tracking.Input{URL: "not a url"},
			wantErr: tracking.ErrValidation,
		},
		{
			name:    "unknown kind",
			kind:    tracking.JobKind("other"),
			owner:   "owner-1",
			input:   urlInput(),
			wantErr: tracking.ErrValidation,
		},
		{
			name:    "missing owner",
			kind:    tracking.JobKindAITraining,
			owner:   "  ",
			input:   urlInput(),
			wantErr: tracking.ErrAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			s := NewSubmitter(env.cfg, env.deps())

			id, err := s.Submit(context.Background(), tt.kind, tt.owner, tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, uuid.Nil, id)
			assert.Zero(t, env.store.insertCalls)
			env.trigger.AssertNotCalled(t, "TriggerJob", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitter_TriggerFailureMarksRecordFailed(t *testing.T) {
	env := newTestEnv()
	triggerErr := errors.New("worker unavailable")
	env.trigger.On("TriggerJob", mock.Anything, mock.Anything).Return(triggerErr)

	id := uuid.New()
	deps := env.deps()
	deps.NewID = sequentialIDs(id)
	s := NewSubmitter(env.cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Submit(ctx, tracking.JobKindAITraining, "owner-1", urlInput())
	cancel()

	require.ErrorIs(t, err, triggerErr)
	rec := env.store.get(id)
	require.NotNil(t, rec)
	assert.Equal(t, "failed", rec.Status)
	assert.Contains(t, rec.Error, "worker unavailable")
	env.trigger.AssertNumberOfCalls(t, "TriggerJob", 1)
}

func TestSubmitter_RegeneratesCollidingID(t *testing.T) {
	env := newTestEnv()
	env.trigger.On("TriggerJob", mock.Anything, mock.Anything).Return(nil)

	taken, fresh := uuid.New(), uuid.New()
	env.store.put(tracking.NewJobRecord(taken, "someone-else", tracking.JobKindJobSearch, urlInput(), testStart))

	deps := env.deps()
	deps.NewID = sequentialIDs(taken, fresh)
	s := NewSubmitter(env.cfg, deps)

	id, err := s.Submit(context.Background(), tracking.JobKindAITraining, "owner-1", urlInput())
	require.NoError(t, err)
	assert.Equal(t, fresh, id)
	assert.Equal(t, "someone-else", env.store.get(taken).OwnerID)
}

func TestSubmitter_GivesUpAfterSecondCollision(t *testing.T) {
	env := newTestEnv()
	taken := uuid.New()
	env.store.put(tracking.NewJobRecord(taken, "someone-else", tracking.JobKindJobSearch, urlInput(), testStart))

	deps := env.deps()
	deps.NewID = sequentialIDs(taken, taken)
	s := NewSubmitter(env.cfg, deps)

	_, err := s.Submit(context.Background(), tracking.JobKindAITraining, "owner-1", urlInput())
	require.ErrorIs(t, err, tracking.ErrDuplicateJob)
	assert.Zero(t, env.store.insertCalls)
	env.trigger.AssertNotCalled(t, "TriggerJob", mock.Anything, mock.Anything)
}

func TestSubmitter_InsertFailureSkipsTrigger(t *testing.T) {
	env := newTestEnv()
	insertErr := errors.New("connection refused")
	env.store.insertErr = insertErr
	s := NewSubmitter(env.cfg, env.deps())

	_, err := s.Submit(context.Background(), tracking.JobKindAITraining, "owner-1", urlInput())
	require.ErrorIs(t, err, insertErr)
	env.trigger.AssertNotCalled(t, "TriggerJob", mock.Anything, mock.Anything)
}
