package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/jobtracker/pkg/common/logger"
)

func TestInitTelemetry_NoEndpointUsesNoop(t *testing.T) {
	providers, teardown, err := InitTelemetry(logger.Noop(), Config{ServiceName: "jobtracker"})
	require.NoError(t, err)
	defer teardown(context.Background())

	_, isNoop := providers.Tracer.(noop.TracerProvider)
	assert.True(t, isNoop)
	assert.NotNil(t, providers.Meter)
}

func TestEndpointExcluder_DropsExcludedRoutes(t *testing.T) {
	ex := newEndpointExcluder(map[string]struct{}{"GET /healthz": {}}, 1.0)

	dropped := ex.ShouldSample(sdktrace.SamplingParameters{ParentContext: context.Background(), Name: "GET /healthz"})
	assert.Equal(t, sdktrace.Drop, dropped.Decision)

	kept := ex.ShouldSample(sdktrace.SamplingParameters{ParentContext: context.Background(), Name: "POST /v1/jobs"})
	assert.Equal(t, sdktrace.RecordAndSample, kept.Decision)
}

func TestGetTraceID_WithoutSpan(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))
}
