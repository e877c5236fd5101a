package tracking

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
)

// TrackerMetrics records what the submitter, pollers and trackers observe.
type TrackerMetrics interface {
	IncSubmissions(ctx context.Context, kind tracking.JobKind)
	IncPolls(ctx context.Context, kind tracking.JobKind)
	IncPollFailures(ctx context.Context, kind tracking.JobKind)
	IncStalls(ctx context.Context, kind tracking.JobKind)
	IncTerminal(ctx context.Context, kind tracking.JobKind, status tracking.JobStatus)
}

type trackerMetrics struct {
	submissions  metric.Int64Counter
	polls        metric.Int64Counter
	pollFailures metric.Int64Counter
	stalls       metric.Int64Counter
	terminal     metric.Int64Counter
}

const namespace = "jobtracker"

// NewTrackerMetrics creates the tracker instruments on the given provider.
func NewTrackerMetrics(mp metric.MeterProvider) (TrackerMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(trackerMetrics)
	var err error

	if m.submissions, err = meter.Int64Counter(
		"job_submissions_total",
		metric.WithDescription("Total number of jobs submitted to a worker"),
	); err != nil {
		return nil, err
	}

	if m.polls, err = meter.Int64Counter(
		"job_polls_total",
		metric.WithDescription("Total number of job record reads issued by pollers"),
	); err != nil {
		return nil, err
	}

	if m.pollFailures, err = meter.Int64Counter(
		"job_poll_failures_total",
		metric.WithDescription("Total number of job record reads that failed or timed out"),
	); err != nil {
		return nil, err
	}

	if m.stalls, err = meter.Int64Counter(
		"job_stalls_total",
		metric.WithDescription("Total number of jobs failed by stall detection"),
	); err != nil {
		return nil, err
	}

	if m.terminal, err = meter.Int64Counter(
		"job_terminal_total",
		metric.WithDescription("Total number of jobs that reached a terminal state"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NoopTrackerMetrics returns metrics backed by a noop meter.
func NoopTrackerMetrics() TrackerMetrics {
	m, _ := NewTrackerMetrics(noop.NewMeterProvider())
	return m
}

func kindAttr(kind tracking.JobKind) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind.String()))
}

func (m *trackerMetrics) IncSubmissions(ctx context.Context, kind tracking.JobKind) {
	m.submissions.Add(ctx, 1, kindAttr(kind))
}

func (m *trackerMetrics) IncPolls(ctx context.Context, kind tracking.JobKind) {
	m.polls.Add(ctx, 1, kindAttr(kind))
}

func (m *trackerMetrics) IncPollFailures(ctx context.Context, kind tracking.JobKind) {
	m.pollFailures.Add(ctx, 1, kindAttr(kind))
}

func (m *trackerMetrics) IncStalls(ctx context.Context, kind tracking.JobKind) {
	m.stalls.Add(ctx, 1, kindAttr(kind))
}

func (m *trackerMetrics) IncTerminal(ctx context.Context, kind tracking.JobKind, status tracking.JobStatus) {
	m.terminal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind.String()),
		attribute.String("status", status.String()),
	))
}
