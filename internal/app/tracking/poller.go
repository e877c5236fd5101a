package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
	"github.com/ahrav/jobtracker/pkg/common/otel"
)

// Messages carried by failures the poller decides on locally.
const (
	MsgNotFound  = "job not found or deleted"
	MsgTimedOut  = "job timed out: the worker stopped reporting progress"
	MsgCancelled = "cancelled by user"
)

func networkFailureMessage(attempts int, err error) string {
	return fmt.Sprintf("network error: could not read job status after %d attempts: %v", attempts, err)
}

// Poller reads a job record on a fixed interval until the job reaches a
// terminal state, reporting every derived outcome to its owner.
//
// At most one read is in flight at a time: the next poll is only scheduled
// once the current read has been handled. Read failures back off
// exponentially and fail the job after Config.MaxRetries consecutive errors.
// A job that stays processing past Config.MaxRuntime, or without updates for
// Config.IdleTimeout, gets one liveness ping per job before it is failed as
// stalled.
type Poller struct {
	jobID uuid.UUID
	kind  tracking.JobKind
	cfg   Config

	store  tracking.JobRecordStore
	pinger tracking.LivenessPinger
	sched  Scheduler
	clock  tracking.TimeProvider
	retry  *retryPolicy

	onOutcome func(tracking.Outcome)

	metrics TrackerMetrics
	logger  *logger.Logger
	tracer  trace.Tracer

	ctx       context.Context
	cancelCtx context.CancelFunc

	mu         sync.Mutex
	started    bool
	stopped    bool
	inFlight   bool
	timer      CancelFunc
	retries    int
	misses     int
	pinged     bool
	aliveUntil time.Time
}

// NewPoller creates a poller for jobID. onOutcome receives every outcome,
// including the final one; it is never called while the poller holds its lock.
func NewPoller(
	ctx context.Context,
	jobID uuid.UUID,
	kind tracking.JobKind,
	cfg Config,
	deps Dependencies,
	onOutcome func(tracking.Outcome),
) *Poller {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()

	pctx, cancel := context.WithCancel(ctx)
	return &Poller{
		jobID:     jobID,
		kind:      kind,
		cfg:       cfg,
		store:     deps.Store,
		pinger:    deps.Pinger,
		sched:     deps.Scheduler,
		clock:     deps.Clock,
		retry:     newRetryPolicy(cfg.MaxBackoff, cfg.MaxJitter, deps.Jitter),
		onOutcome: onOutcome,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("component", "poller", "job_id", jobID.String()),
		tracer:    deps.Tracer,
		ctx:       pctx,
		cancelCtx: cancel,
	}
}

// Start schedules the first poll immediately. Calling Start more than once, or
// after Stop, does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true
	p.timer = p.sched.Schedule(0, p.poll)
}

// Stop halts polling: the pending timer is cancelled and the result of any
// read still in flight is discarded. Stop is idempotent.
func (p *Poller) Stop() {
	if p.finish() {
		p.logger.Debug(p.ctx, "Poller stopped")
	}
}

// Stopped reports whether the poller has stopped.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Retries returns the current number of consecutive read failures.
func (p *Poller) Retries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries
}

// finish marks the poller stopped and reports whether this call did it.
func (p *Poller) finish() bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.stopped = true
	if p.timer != nil {
		p.timer()
		p.timer = nil
	}
	p.mu.Unlock()

	p.cancelCtx()
	return true
}

func (p *Poller) scheduleNext(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.timer = p.sched.Schedule(delay, p.poll)
}

func (p *Poller) poll() {
	p.mu.Lock()
	if p.stopped || p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.timer = nil
	p.mu.Unlock()

	ctx, span := p.tracer.Start(p.ctx, "poller.tracking.poll",
		trace.WithAttributes(
			attribute.String("job_id", p.jobID.String()),
			attribute.String("kind", p.kind.String()),
		))
	defer span.End()

	logr := logger.NewLoggerContext(p.logger.With("operation", "poll", "kind", p.kind.String()))

	readCtx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
	rec, err := p.store.GetJob(readCtx, p.jobID)
	cancel()
	p.metrics.IncPolls(ctx, p.kind)

	p.mu.Lock()
	p.inFlight = false
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		span.AddEvent("read_discarded_after_stop")
		return
	}

	switch {
	case errors.Is(err, tracking.ErrJobNotFound) || (err == nil && rec == nil):
		span.AddEvent("job_record_missing")
		p.handleMiss(ctx, logr)
	case err != nil:
		otel.RecordError(span, err, "job read failed")
		p.handleReadError(ctx, logr, err)
	default:
		p.handleRecord(ctx, logr, rec)
	}
}

func (p *Poller) handleReadError(ctx context.Context, logr *logger.LoggerContext, err error) {
	p.metrics.IncPollFailures(ctx, p.kind)

	p.mu.Lock()
	p.retries++
	retries := p.retries
	p.mu.Unlock()

	readErr := fmt.Errorf("%w: %v", tracking.ErrTransientRead, err)
	logr.Add("retries", retries, "error", readErr)
	if retries >= p.cfg.MaxRetries {
		logr.Error(ctx, "Giving up on job after repeated read failures")
		p.fail(ctx, logr, networkFailureMessage(retries, err), readErr, true)
		return
	}

	delay := p.retry.next()
	logr.Warn(ctx, "Job read failed, backing off", "delay", delay.String())
	p.scheduleNext(delay)
}

func (p *Poller) handleMiss(ctx context.Context, logr *logger.LoggerContext) {
	p.mu.Lock()
	p.retries = 0
	p.misses++
	misses := p.misses
	p.mu.Unlock()
	p.retry.reset()

	if misses > p.cfg.NotFoundTolerance {
		logr.Warn(ctx, "Job record missing, giving up", "misses", misses)
		p.fail(ctx, logr, MsgNotFound, tracking.ErrJobNotFound, false)
		return
	}
	p.scheduleNext(p.cfg.Interval)
}

func (p *Poller) handleRecord(ctx context.Context, logr *logger.LoggerContext, rec *tracking.JobRecord) {
	p.mu.Lock()
	p.retries = 0
	p.misses = 0
	p.mu.Unlock()
	p.retry.reset()

	outcome := tracking.Reduce(rec)
	logr.Add("status", outcome.Status, "progress", outcome.Progress)
	if outcome.IsTerminal {
		if p.finish() {
			logr.Info(ctx, "Job reached terminal state")
			p.onOutcome(outcome)
		}
		return
	}

	if p.isStalled(rec) && !p.confirmAlive(ctx, logr) {
		p.metrics.IncStalls(ctx, p.kind)
		logr.Warn(ctx, "Job stalled, failing",
			"created_at", rec.CreatedAt,
			"updated_at", rec.UpdatedAt,
		)
		p.fail(ctx, logr, MsgTimedOut, tracking.ErrStalled, true)
		return
	}

	p.onOutcome(outcome)
	p.scheduleNext(p.cfg.Interval)
}

func (p *Poller) isStalled(rec *tracking.JobRecord) bool {
	now := p.clock.Now()

	p.mu.Lock()
	aliveUntil := p.aliveUntil
	p.mu.Unlock()
	if now.Before(aliveUntil) {
		return false
	}

	return now.Sub(rec.CreatedAt) > p.cfg.MaxRuntime || now.Sub(rec.UpdatedAt) > p.cfg.IdleTimeout
}

// confirmAlive pings the worker, once per job. A confirmation buys a single
// idle window; a job still stalled after it is failed without asking again.
func (p *Poller) confirmAlive(ctx context.Context, logr *logger.LoggerContext) bool {
	p.mu.Lock()
	pinged := p.pinged
	p.pinged = true
	p.mu.Unlock()
	if p.pinger == nil || pinged {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
	defer cancel()

	alive, err := p.pinger.PingJob(pingCtx, p.kind, p.jobID)
	if err != nil {
		logr.Warn(ctx, "Liveness ping failed", "ping_error", err)
		return false
	}
	if !alive {
		return false
	}

	p.mu.Lock()
	p.aliveUntil = p.clock.Now().Add(p.cfg.IdleTimeout)
	p.mu.Unlock()
	logr.Info(ctx, "Stalled job confirmed alive by worker")
	return true
}

// fail ends polling with a local failure. When persist is set the failure is
// written to the record first; if the worker finished the job in the meantime
// the stored outcome is reported instead.
func (p *Poller) fail(ctx context.Context, logr *logger.LoggerContext, msg string, cause error, persist bool) {
	if !p.finish() {
		return
	}

	outcome := tracking.Outcome{
		Status:     tracking.JobStatusFailed,
		Error:      msg,
		IsTerminal: true,
		Cause:      cause,
	}
	if persist {
		if stored, ok := recordFailure(ctx, logr, p.store, p.jobID, msg, p.cfg.WriteTimeout); ok {
			outcome = stored
		}
	}
	p.onOutcome(outcome)
}

// recordFailure writes a local failure to the record unless the worker already
// finished the job. In that case it re-reads the record and returns the stored
// terminal outcome with ok set, so callers report it instead of their own
// failure. Write errors are logged; the caller keeps its local failure.
func recordFailure(
	ctx context.Context,
	logr *logger.LoggerContext,
	store tracking.JobRecordStore,
	id uuid.UUID,
	msg string,
	timeout time.Duration,
) (tracking.Outcome, bool) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := store.FailJob(writeCtx, id, msg)
	switch {
	case err == nil:
		return tracking.Outcome{}, false
	case !errors.Is(err, tracking.ErrJobFinished):
		logr.Warn(ctx, "Failed to persist local job failure", "write_error", err)
		return tracking.Outcome{}, false
	}

	rec, err := store.GetJob(writeCtx, id)
	if err != nil {
		logr.Warn(ctx, "Job finished remotely but could not be re-read", "read_error", err)
		return tracking.Outcome{}, false
	}
	stored := tracking.Reduce(rec)
	if !stored.IsTerminal {
		return tracking.Outcome{}, false
	}
	logr.Info(ctx, "Worker finished the job first, keeping its outcome", "stored_status", stored.Status)
	return stored, true
}
