package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the wall clock.
type RealTimeProvider struct{}

// Now returns the current time.
func (RealTimeProvider) Now() time.Time { return time.Now() }

// JobRecordStore persists job records. Implementations return ErrJobNotFound
// when a record does not exist and ErrDuplicateJob when inserting an id that
// is already taken.
type JobRecordStore interface {
	// GetJob returns the current record for id.
	GetJob(ctx context.Context, id uuid.UUID) (*JobRecord, error)

	// InsertJob writes a new record.
	InsertJob(ctx context.Context, rec *JobRecord) error

	// UpdateJob applies the non-nil fields of update and stamps UpdatedAt.
	UpdateJob(ctx context.Context, id uuid.UUID, update JobUpdate) error

	// FailJob records a terminal failure with msg, but only while the stored
	// status is not terminal yet. It returns ErrJobFinished, and leaves the
	// record untouched, when the worker already finished the job.
	FailJob(ctx context.Context, id uuid.UUID, msg string) error

	// LatestJob returns the most recently created record for an owner and kind.
	LatestJob(ctx context.Context, ownerID string, kind JobKind) (*JobRecord, error)
}

// TriggerRequest is handed to the remote worker when a job is submitted.
type TriggerRequest struct {
	JobID   uuid.UUID
	Kind    JobKind
	OwnerID string
	Input   Input
}

// WorkerTrigger starts the remote worker for a job. It returns once the worker
// acknowledges the request, not when the job finishes.
type WorkerTrigger interface {
	TriggerJob(ctx context.Context, req TriggerRequest) error
}

// LivenessPinger asks the remote worker whether it is still working on a job.
// Errors are treated as "not alive".
type LivenessPinger interface {
	PingJob(ctx context.Context, kind JobKind, id uuid.UUID) (bool, error)
}

// JobEvent announces that a job reached a terminal state. Reason categorizes
// a failure, as named by FailureReason.
type JobEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	Kind       JobKind   `json:"kind"`
	OwnerID    string    `json:"owner_id"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	FAQCount   int       `json:"faq_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// JobEventPublisher distributes terminal job events to interested consumers.
type JobEventPublisher interface {
	PublishJobEvent(ctx context.Context, evt JobEvent) error
}
