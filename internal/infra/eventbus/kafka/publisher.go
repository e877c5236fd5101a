// Package kafka publishes terminal job events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

var _ tracking.JobEventPublisher = (*Publisher)(nil)

// PublisherMetrics tracks publish outcomes per topic.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

// Config contains the settings the job event publisher needs.
type Config struct {
	Brokers []string
	// JobEventsTopic receives one message per job that reached a terminal state.
	JobEventsTopic string
	ClientID       string
}

// Publisher writes job events to Kafka keyed by job ID so every event for a
// job lands on the same partition.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PublisherMetrics
}

// NewPublisher creates a publisher that owns producer and closes it on Close.
func NewPublisher(
	producer sarama.SyncProducer,
	topic string,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics PublisherMetrics,
) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   log.With("component", "kafka_job_event_publisher", "topic", topic),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// ConnectPublisher dials the brokers in cfg and returns a ready publisher.
func ConnectPublisher(cfg *Config, log *logger.Logger, tracer trace.Tracer, metrics PublisherMetrics) (*Publisher, error) {
	producer, err := NewSyncProducer(&ClientConfig{Brokers: cfg.Brokers, ClientID: cfg.ClientID})
	if err != nil {
		return nil, err
	}
	return NewPublisher(producer, cfg.JobEventsTopic, log, tracer, metrics), nil
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// PublishJobEvent encodes evt as JSON and sends it, waiting for the brokers to
// acknowledge it or for ctx to end. A send abandoned on ctx is still bounded by
// the producer's own network timeouts.
func (p *Publisher) PublishJobEvent(ctx context.Context, evt tracking.JobEvent) error {
	ctx, span := tracing.StartProducerSpan(ctx, p.topic, p.tracer)
	defer span.End()

	span.SetAttributes(
		attribute.String("job_id", evt.JobID.String()),
		attribute.String("kind", evt.Kind.String()),
		attribute.String("status", evt.Status.String()),
	)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal job event")
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.JobID.String()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte("job." + evt.Status.String())},
		},
	}
	if evt.Reason != "" {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte("failure_reason"), Value: []byte(evt.Reason)})
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.send(ctx, msg)
	if err != nil {
		p.metrics.IncPublishError(ctx, p.topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.metrics.IncMessagePublished(ctx, p.topic)
	span.SetAttributes(
		attribute.Int64("partition", int64(partition)),
		attribute.Int64("offset", offset),
	)
	p.logger.Debug(ctx, "Published job event to Kafka",
		"job_id", evt.JobID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *Publisher) send(ctx context.Context, msg *sarama.ProducerMessage) (int32, int64, error) {
	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(msg)
		done <- sendResult{partition: partition, offset: offset, err: err}
	}()

	select {
	case res := <-done:
		return res.partition, res.offset, res.err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Close flushes and closes the underlying producer.
func (p *Publisher) Close() error { return p.producer.Close() }
