// Package worker calls the remote serverless functions that run jobs.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

var (
	_ tracking.WorkerTrigger  = (*Client)(nil)
	_ tracking.LivenessPinger = (*Client)(nil)
)

// ErrWorkerRejected is returned when the worker answers with a non-2xx status.
var ErrWorkerRejected = errors.New("worker rejected request")

// maxErrorBody bounds how much of an error response is kept for the message.
const maxErrorBody = 4 << 10

// Config describes where the worker functions live.
type Config struct {
	BaseURL string
	APIKey  string
	// Functions maps each job kind to the function that runs it.
	Functions map[tracking.JobKind]string
	// PingFunction answers liveness questions. Empty disables pings.
	PingFunction      string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultFunctions returns the function names used by the hosted workers.
func DefaultFunctions() map[tracking.JobKind]string {
	return map[tracking.JobKind]string{
		tracking.JobKindAITraining: "train-chatbot",
		tracking.JobKindJobSearch:  "job-search",
	}
}

// Client triggers and pings worker functions over HTTP with rate limiting and
// tracing.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a worker client. A nil httpClient gets one with an
// instrumented transport and cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, log *logger.Logger, tracer trace.Tracer) *Client {
	if cfg.Functions == nil {
		cfg.Functions = DefaultFunctions()
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		cfg:         cfg,
		httpClient:  httpClient,
		rateLimiter: common.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		logger:      log.With("component", "worker_client"),
		tracer:      tracer,
	}
}

type triggerPayload struct {
	JobID   string         `json:"job_id"`
	OwnerID string         `json:"user_id"`
	Kind    string         `json:"kind"`
	Input   tracking.Input `json:"input"`
}

// TriggerJob asks the worker function for req.Kind to start the job. It
// returns once the worker acknowledged the request.
func (c *Client) TriggerJob(ctx context.Context, req tracking.TriggerRequest) error {
	ctx, span := c.tracer.Start(ctx, "worker_client.trigger_job",
		trace.WithAttributes(
			attribute.String("job_id", req.JobID.String()),
			attribute.String("kind", req.Kind.String()),
		))
	defer span.End()

	fn, ok := c.cfg.Functions[req.Kind]
	if !ok || fn == "" {
		err := fmt.Errorf("no worker function configured for kind %q", req.Kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown kind")
		return err
	}

	payload := triggerPayload{
		JobID:   req.JobID.String(),
		OwnerID: req.OwnerID,
		Kind:    req.Kind.String(),
		Input:   req.Input,
	}
	if err := c.call(ctx, fn, payload, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trigger failed")
		return fmt.Errorf("trigger %s: %w", fn, err)
	}

	span.SetStatus(codes.Ok, "worker acknowledged job")
	c.logger.Debug(ctx, "Worker triggered", "job_id", req.JobID, "function", fn)
	return nil
}

type pingPayload struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}

type pingResponse struct {
	Alive bool `json:"alive"`
}

// PingJob asks the worker whether it is still running the job.
func (c *Client) PingJob(ctx context.Context, kind tracking.JobKind, id uuid.UUID) (bool, error) {
	if c.cfg.PingFunction == "" {
		return false, nil
	}

	ctx, span := c.tracer.Start(ctx, "worker_client.ping_job",
		trace.WithAttributes(
			attribute.String("job_id", id.String()),
			attribute.String("kind", kind.String()),
		))
	defer span.End()

	var resp pingResponse
	if err := c.call(ctx, c.cfg.PingFunction, pingPayload{JobID: id.String(), Kind: kind.String()}, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ping failed")
		return false, fmt.Errorf("ping %s: %w", c.cfg.PingFunction, err)
	}

	span.SetAttributes(attribute.Bool("alive", resp.Alive))
	return resp.Alive, nil
}

// call posts body to the named function and decodes the JSON reply into out
// when out is non-nil.
func (c *Client) call(ctx context.Context, fn string, body, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/functions/v1/" + fn
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status %d: %s", ErrWorkerRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
