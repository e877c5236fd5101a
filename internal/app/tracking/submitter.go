package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
	"github.com/ahrav/jobtracker/pkg/common/otel"
)

// Submitter creates job records and hands them to the remote worker.
type Submitter struct {
	store        tracking.JobRecordStore
	trigger      tracking.WorkerTrigger
	clock        tracking.TimeProvider
	newID        func() uuid.UUID
	writeTimeout time.Duration

	metrics TrackerMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewSubmitter creates a Submitter from the shared dependencies.
func NewSubmitter(cfg Config, deps Dependencies) *Submitter {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	return &Submitter{
		store:        deps.Store,
		trigger:      deps.Trigger,
		clock:        deps.Clock,
		newID:        deps.NewID,
		writeTimeout: cfg.WriteTimeout,
		metrics:      deps.Metrics,
		logger:       deps.Logger.With("component", "submitter"),
		tracer:       deps.Tracer,
	}
}

// Submit validates the input, writes the initial processing record and
// triggers the worker. It returns once the worker acknowledged the trigger.
// Exactly one record is created per successful call and the worker is
// triggered at most once.
func (s *Submitter) Submit(
	ctx context.Context,
	kind tracking.JobKind,
	ownerID string,
	input tracking.Input,
) (uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "submitter.tracking.submit",
		trace.WithAttributes(
			attribute.String("kind", kind.String()),
			attribute.String("owner_id", ownerID),
		))
	defer span.End()

	logr := logger.NewLoggerContext(s.logger.With(
		"operation", "submit",
		"kind", kind.String(),
		"owner_id", ownerID,
	))

	if err := tracking.ValidateSubmission(kind, input); err != nil {
		otel.RecordError(span, err, "invalid submission")
		return uuid.Nil, err
	}
	if strings.TrimSpace(ownerID) == "" {
		otel.RecordError(span, tracking.ErrAuth, "missing owner")
		return uuid.Nil, tracking.ErrAuth
	}

	id, err := s.allocateID(ctx, logr)
	if err != nil {
		otel.RecordError(span, err, "failed to allocate job id")
		return uuid.Nil, err
	}
	span.SetAttributes(attribute.String("job_id", id.String()))
	logr.Add("job_id", id.String())

	rec := tracking.NewJobRecord(id, ownerID, kind, input, s.clock.Now())
	if err := s.store.InsertJob(ctx, rec); err != nil {
		otel.RecordError(span, err, "failed to insert job record")
		return uuid.Nil, fmt.Errorf("creating job record %s: %w", id, err)
	}
	span.AddEvent("job_record_created")

	err = s.trigger.TriggerJob(ctx, tracking.TriggerRequest{
		JobID:   id,
		Kind:    kind,
		OwnerID: ownerID,
		Input:   input,
	})
	if err != nil {
		otel.RecordError(span, err, "failed to trigger worker")
		s.markFailed(ctx, logr, id, fmt.Sprintf("failed to start job: %v", err))
		return uuid.Nil, fmt.Errorf("triggering worker for job %s: %w", id, err)
	}

	s.metrics.IncSubmissions(ctx, kind)
	logr.Info(ctx, "Job submitted")
	span.AddEvent("worker_triggered")

	return id, nil
}

// allocateID generates a job id and regenerates once if it is already taken.
func (s *Submitter) allocateID(ctx context.Context, logr *logger.LoggerContext) (uuid.UUID, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id := s.newID()

		_, err := s.store.GetJob(ctx, id)
		if errors.Is(err, tracking.ErrJobNotFound) {
			return id, nil
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("checking job id %s: %w", id, err)
		}
		logr.Warn(ctx, "Job id collision, regenerating", "colliding_id", id, "attempt", attempt+1)
	}
	return uuid.Nil, tracking.ErrDuplicateJob
}

// markFailed records a submission-time failure so the record never stays
// processing forever. The caller's cancellation does not abort the write, and
// a record the worker already finished is left alone.
func (s *Submitter) markFailed(ctx context.Context, logr *logger.LoggerContext, id uuid.UUID, msg string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	switch err := s.store.FailJob(writeCtx, id, msg); {
	case err == nil:
	case errors.Is(err, tracking.ErrJobFinished):
		logr.Warn(ctx, "Worker finished the job despite the trigger error")
	default:
		logr.Error(ctx, "Failed to mark job as failed after submission error", "write_error", err)
	}
}
