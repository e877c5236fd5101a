package tracking

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

// ErrTrackerClosed is returned by operations on a closed tracker.
var ErrTrackerClosed = errors.New("tracker closed")

// Snapshot is the view a tracker exposes to its owner.
type Snapshot struct {
	JobID    uuid.UUID          `json:"job_id"`
	Kind     tracking.JobKind   `json:"kind"`
	Status   tracking.JobStatus `json:"status"`
	Progress int                `json:"progress"`
	Stage    string             `json:"stage,omitempty"`
	Result   *tracking.Result   `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`

	// Synthetic is set while Progress is an estimate rather than a value the
	// worker reported.
	Synthetic bool `json:"synthetic"`

	cause error
}

func (s Snapshot) clone() Snapshot {
	s.Result = s.Result.Clone()
	return s
}

// SnapshotFromOutcome builds the view of a job that is not actively tracked.
func SnapshotFromOutcome(id uuid.UUID, kind tracking.JobKind, o tracking.Outcome) Snapshot {
	return Snapshot{
		JobID:    id,
		Kind:     kind,
		Status:   o.Status,
		Progress: o.Progress,
		Stage:    o.Stage,
		Result:   o.Result(),
		Error:    o.Error,
		cause:    o.Cause,
	}
}

// Tracker supervises the jobs one owner runs for one job kind. It combines the
// submitter, a poller and a progress estimator into a four-state machine:
// idle, processing, completed and failed.
//
// Only Submit, Retry and Resume move the tracker into processing. Pollers
// report ground truth; the estimator fills the gap until the worker reports a
// real progress value.
type Tracker struct {
	ownerID   string
	kind      tracking.JobKind
	cfg       Config
	deps      Dependencies
	submitter *Submitter
	logger    *logger.Logger

	mu            sync.Mutex
	snap          Snapshot
	input         tracking.Input
	hasInput      bool
	submitting    bool
	cancelling    bool
	authoritative bool
	poller        *Poller
	stopEstimator func()
	// generation invalidates callbacks from pollers and estimators that
	// belonged to an earlier job.
	generation  uint64
	subscribers map[int]func(Snapshot)
	nextSubID   int
	closed      bool
}

// NewTracker creates an idle tracker for ownerID and kind.
func NewTracker(ownerID string, kind tracking.JobKind, cfg Config, deps Dependencies) *Tracker {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()

	return &Tracker{
		ownerID:     ownerID,
		kind:        kind,
		cfg:         cfg,
		deps:        deps,
		submitter:   NewSubmitter(cfg, deps),
		logger:      deps.Logger.With("component", "tracker", "owner_id", ownerID, "kind", kind.String()),
		snap:        Snapshot{Kind: kind, Status: tracking.JobStatusIdle},
		subscribers: make(map[int]func(Snapshot)),
	}
}

// OwnerID returns the owner this tracker works for.
func (t *Tracker) OwnerID() string { return t.ownerID }

// Kind returns the job kind this tracker supervises.
func (t *Tracker) Kind() tracking.JobKind { return t.kind }

// Snapshot returns a copy of the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.clone()
}

// Subscribe registers fn to receive every new snapshot. The returned function
// removes the subscription.
func (t *Tracker) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}

// idle reports whether the tracker holds no processing job and has no
// submission or cancellation in flight.
func (t *Tracker) idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.submitting && !t.cancelling && t.snap.Status != tracking.JobStatusProcessing
}

// Submit starts a new job. It fails with ErrJobInProgress while a job is still
// processing; validation, auth and trigger errors come straight from the
// submitter.
func (t *Tracker) Submit(ctx context.Context, input tracking.Input) (uuid.UUID, error) {
	ctx, span := t.deps.Tracer.Start(ctx, "tracker.tracking.submit",
		trace.WithAttributes(attribute.String("kind", t.kind.String())))
	defer span.End()

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return uuid.Nil, ErrTrackerClosed
	case t.submitting || t.snap.Status == tracking.JobStatusProcessing:
		t.mu.Unlock()
		return uuid.Nil, tracking.ErrJobInProgress
	}
	t.submitting = true
	t.mu.Unlock()

	id, err := t.submitter.Submit(ctx, t.kind, t.ownerID, input)

	t.mu.Lock()
	t.submitting = false
	t.mu.Unlock()
	if err != nil {
		return uuid.Nil, err
	}

	t.begin(ctx, id, input, nil)
	return id, nil
}

// Retry resubmits the input of the last job as a new job. Only finished jobs
// can be retried.
func (t *Tracker) Retry(ctx context.Context) (uuid.UUID, error) {
	t.mu.Lock()
	if !t.hasInput {
		t.mu.Unlock()
		return uuid.Nil, tracking.ErrNoJob
	}
	input := t.input
	t.mu.Unlock()

	return t.Submit(ctx, input)
}

// Resume attaches the tracker to an existing job, as when a page is reloaded.
// Finished jobs are shown as they are; processing jobs are polled again.
func (t *Tracker) Resume(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrTrackerClosed
	case t.snap.JobID == id:
		t.mu.Unlock()
		return nil
	case t.submitting || t.snap.Status == tracking.JobStatusProcessing:
		t.mu.Unlock()
		return tracking.ErrJobInProgress
	}
	t.mu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, t.cfg.ReadTimeout)
	rec, err := t.deps.Store.GetJob(readCtx, id)
	cancel()
	if err != nil {
		return err
	}
	if rec.OwnerID != t.ownerID || rec.Kind != t.kind {
		return tracking.ErrJobNotFound
	}

	outcome := tracking.Reduce(rec)
	if !outcome.IsTerminal {
		t.begin(ctx, id, rec.Input, &outcome)
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	t.generation++
	t.teardownLocked()
	t.input = rec.Input
	t.hasInput = true
	t.snap = SnapshotFromOutcome(id, t.kind, outcome)
	snap := t.snap.clone()
	t.mu.Unlock()

	t.notify(snap)
	return nil
}

// Cancel stops polling at once and fails the current job with "cancelled by
// user". When the worker already finished the job, its stored outcome is kept
// and shown instead. The worker is not guaranteed to stop. Cancelling a job
// that is not processing does nothing.
//
// The terminal event is published before Cancel returns; the store write and
// the publish are each bounded by Config.WriteTimeout.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.Lock()
	if t.cancelling || t.snap.Status != tracking.JobStatusProcessing {
		t.mu.Unlock()
		return nil
	}
	t.cancelling = true
	t.generation++
	gen := t.generation
	t.teardownLocked()
	id := t.snap.JobID
	t.mu.Unlock()

	logr := logger.NewLoggerContext(t.logger.With("operation", "cancel", "job_id", id.String()))

	outcome := tracking.Outcome{
		Status:     tracking.JobStatusFailed,
		Error:      MsgCancelled,
		IsTerminal: true,
		Cause:      tracking.ErrCancelled,
	}
	stored, finishedRemotely := recordFailure(ctx, logr, t.deps.Store, id, MsgCancelled, t.cfg.WriteTimeout)
	if finishedRemotely {
		outcome = stored
	}

	t.mu.Lock()
	t.cancelling = false
	if gen != t.generation {
		// Closed while the write was in flight.
		t.mu.Unlock()
		return nil
	}
	t.applyTerminalLocked(outcome)
	snap := t.snap.clone()
	t.mu.Unlock()

	t.notify(snap)
	if finishedRemotely {
		logr.Info(ctx, "Cancel arrived after the job finished", "status", snap.Status)
	} else {
		logr.Info(ctx, "Job cancelled by user")
	}
	t.finished(ctx, snap)
	return nil
}

// Close tears down polling and estimation without touching the job record.
// The tracker cannot be used afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.generation++
	t.teardownLocked()
	t.subscribers = make(map[int]func(Snapshot))
}

// begin switches the tracker to a processing job and starts its poller and
// estimator. A non-nil seed is applied as the first known outcome.
func (t *Tracker) begin(ctx context.Context, id uuid.UUID, input tracking.Input, seed *tracking.Outcome) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.teardownLocked()
	t.generation++
	gen := t.generation

	t.input = input
	t.hasInput = true
	t.authoritative = false
	t.snap = Snapshot{
		JobID:     id,
		Kind:      t.kind,
		Status:    tracking.JobStatusProcessing,
		Progress:  0,
		Stage:     tracking.StageFor(0),
		Synthetic: true,
	}
	if seed != nil && seed.Progress > 0 {
		t.authoritative = true
		t.snap.Progress = seed.Progress
		t.snap.Stage = seed.Stage
		t.snap.Synthetic = false
	}

	if !t.authoritative {
		est := NewProgressEstimator(t.deps.Scheduler, t.cfg.EstimatorInterval, func(progress int, stage string) {
			t.applySynthetic(gen, progress, stage)
		})
		t.stopEstimator = est.Start()
	}

	t.poller = NewPoller(context.WithoutCancel(ctx), id, t.kind, t.cfg, t.deps, func(o tracking.Outcome) {
		t.applyOutcome(gen, o)
	})
	t.poller.Start()

	snap := t.snap.clone()
	t.mu.Unlock()

	t.notify(snap)
}

func (t *Tracker) applySynthetic(gen uint64, progress int, stage string) {
	t.mu.Lock()
	if gen != t.generation || t.authoritative || t.snap.Status != tracking.JobStatusProcessing {
		t.mu.Unlock()
		return
	}
	if progress <= t.snap.Progress {
		t.mu.Unlock()
		return
	}
	t.snap.Progress = progress
	t.snap.Stage = stage
	snap := t.snap.clone()
	t.mu.Unlock()

	t.notify(snap)
}

func (t *Tracker) applyOutcome(gen uint64, o tracking.Outcome) {
	t.mu.Lock()
	if gen != t.generation || t.snap.Status != tracking.JobStatusProcessing {
		t.mu.Unlock()
		return
	}
	if err := t.snap.Status.ValidateTransition(o.Status); err != nil {
		t.mu.Unlock()
		t.logger.Warn(context.Background(), "Ignoring outcome", "error", err)
		return
	}

	terminal := o.IsTerminal
	switch {
	case terminal:
		t.applyTerminalLocked(o)

	case t.authoritative || o.Progress > 0:
		// The first real progress value retires the estimate for good.
		if !t.authoritative {
			t.authoritative = true
			if t.stopEstimator != nil {
				t.stopEstimator()
				t.stopEstimator = nil
			}
		}
		t.snap.Progress = o.Progress
		t.snap.Stage = o.Stage
		t.snap.Synthetic = false

	default:
		t.mu.Unlock()
		return
	}
	snap := t.snap.clone()
	t.mu.Unlock()

	t.notify(snap)
	if terminal {
		t.finished(context.Background(), snap)
	}
}

// applyTerminalLocked moves the snapshot to a terminal outcome and tears down
// polling and estimation.
func (t *Tracker) applyTerminalLocked(o tracking.Outcome) {
	t.teardownLocked()
	t.snap.Status = o.Status
	t.snap.Stage = ""
	t.snap.Synthetic = false
	t.snap.cause = o.Cause
	if o.Status == tracking.JobStatusCompleted {
		t.snap.Progress = 100
		t.snap.Result = o.Result()
		t.snap.Error = ""
		return
	}
	t.snap.Error = o.Error
}

// finished records metrics and publishes the terminal event.
func (t *Tracker) finished(ctx context.Context, snap Snapshot) {
	t.deps.Metrics.IncTerminal(ctx, t.kind, snap.Status)

	if t.deps.Publisher == nil {
		return
	}

	evt := tracking.JobEvent{
		JobID:      snap.JobID,
		Kind:       t.kind,
		OwnerID:    t.ownerID,
		Status:     snap.Status,
		Error:      snap.Error,
		Reason:     tracking.FailureReason(snap.cause),
		OccurredAt: t.deps.Clock.Now(),
	}
	if snap.Result != nil {
		evt.FAQCount = len(snap.Result.FAQs)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.WriteTimeout)
	defer cancel()
	if err := t.deps.Publisher.PublishJobEvent(pubCtx, evt); err != nil {
		t.logger.Error(ctx, "Failed to publish job event", "job_id", snap.JobID, "error", err)
	}
}

func (t *Tracker) teardownLocked() {
	if t.poller != nil {
		t.poller.Stop()
		t.poller = nil
	}
	if t.stopEstimator != nil {
		t.stopEstimator()
		t.stopEstimator = nil
	}
}

func (t *Tracker) notify(snap Snapshot) {
	t.mu.Lock()
	subs := make([]func(Snapshot), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snap.clone())
	}
}
