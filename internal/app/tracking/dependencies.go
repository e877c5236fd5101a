package tracking

import (
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

// Dependencies are the collaborators shared by submitters, pollers and
// trackers. Store and Trigger are required; everything else has a default.
type Dependencies struct {
	Store   tracking.JobRecordStore
	Trigger tracking.WorkerTrigger

	// Pinger confirms liveness of stalled jobs. Without one, stalled jobs fail.
	Pinger tracking.LivenessPinger
	// Publisher receives terminal job events.
	Publisher tracking.JobEventPublisher

	Scheduler Scheduler
	Clock     tracking.TimeProvider
	NewID     func() uuid.UUID
	Jitter    JitterFunc

	Metrics TrackerMetrics
	Logger  *logger.Logger
	Tracer  trace.Tracer
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Scheduler == nil {
		d.Scheduler = TimerScheduler{}
	}
	if d.Clock == nil {
		d.Clock = tracking.RealTimeProvider{}
	}
	if d.NewID == nil {
		d.NewID = uuid.New
	}
	if d.Jitter == nil {
		d.Jitter = randomJitter
	}
	if d.Metrics == nil {
		d.Metrics = NoopTrackerMetrics()
	}
	if d.Logger == nil {
		d.Logger = logger.Noop()
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("jobtracker")
	}
	return d
}
