package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type publisherMetrics struct {
	published     metric.Int64Counter
	publishErrors metric.Int64Counter
}

// NewPublisherMetrics creates the publish counters on the given provider.
func NewPublisherMetrics(mp metric.MeterProvider) (PublisherMetrics, error) {
	meter := mp.Meter("jobtracker.kafka", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(publisherMetrics)
	var err error
	if m.published, err = meter.Int64Counter(
		"kafka_messages_published_total",
		metric.WithDescription("Total number of messages published to Kafka"),
	); err != nil {
		return nil, err
	}
	if m.publishErrors, err = meter.Int64Counter(
		"kafka_publish_errors_total",
		metric.WithDescription("Total number of Kafka publish errors"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NoopPublisherMetrics returns counters backed by a noop meter.
func NoopPublisherMetrics() PublisherMetrics {
	m, _ := NewPublisherMetrics(noop.NewMeterProvider())
	return m
}

func (m *publisherMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *publisherMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
