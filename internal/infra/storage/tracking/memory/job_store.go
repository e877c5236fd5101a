package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
)

var _ tracking.JobRecordStore = (*JobStore)(nil)

// JobStore provides an in-memory implementation of tracking.JobRecordStore
// for tests and local development. Records are copied on the way in and out.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*tracking.JobRecord
	clock tracking.TimeProvider
}

// NewJobStore creates an empty in-memory job store.
func NewJobStore(clock tracking.TimeProvider) *JobStore {
	if clock == nil {
		clock = tracking.RealTimeProvider{}
	}
	return &JobStore{
		jobs:  make(map[uuid.UUID]*tracking.JobRecord),
		clock: clock,
	}
}

// GetJob returns a copy of the record for id.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*tracking.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, tracking.ErrJobNotFound
	}
	return rec.Clone(), nil
}

// InsertJob stores a new record.
func (s *JobStore) InsertJob(ctx context.Context, rec *tracking.JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[rec.ID]; ok {
		return tracking.ErrDuplicateJob
	}
	s.jobs[rec.ID] = rec.Clone()
	return nil
}

// UpdateJob applies update to the record for id.
func (s *JobStore) UpdateJob(ctx context.Context, id uuid.UUID, update tracking.JobUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return tracking.ErrJobNotFound
	}
	rec.Apply(update, s.clock.Now())
	return nil
}

// FailJob marks the record for id failed unless it already finished.
func (s *JobStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return tracking.ErrJobNotFound
	}
	if rec.Finished() {
		return tracking.ErrJobFinished
	}
	rec.Apply(tracking.FailedUpdate(msg), s.clock.Now())
	return nil
}

// LatestJob returns the most recently created record for ownerID and kind.
func (s *JobStore) LatestJob(ctx context.Context, ownerID string, kind tracking.JobKind) (*tracking.JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *tracking.JobRecord
	for _, rec := range s.jobs {
		if rec.OwnerID != ownerID || rec.Kind != kind {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, tracking.ErrJobNotFound
	}
	return latest.Clone(), nil
}
