package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesServiceTraceAndMetadata(t *testing.T) {
	var buf bytes.Buffer
	traceFn := func(context.Context) string { return "trace-123" }

	log := NewWithMetadata(&buf, LevelInfo, "jobtracker", traceFn, Events{}, map[string]string{
		"hostname": "host-a",
		"pod":      "",
	})

	log.Debug(context.Background(), "dropped")
	log.With("job_id", "abc").Info(context.Background(), "poll", "attempt", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "poll", lines[0]["msg"])
	assert.Equal(t, "jobtracker", lines[0]["service"])
	assert.Equal(t, "host-a", lines[0]["hostname"])
	assert.Equal(t, "abc", lines[0]["job_id"])
	assert.Equal(t, "trace-123", lines[0]["trace_id"])
	assert.EqualValues(t, 2, lines[0]["attempt"])
	assert.NotContains(t, lines[0], "pod")
	assert.Contains(t, lines[0]["file"], "logger_test.go")
}

func TestLogger_ErrorEventFires(t *testing.T) {
	var buf bytes.Buffer
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	log := NewWithMetadata(&buf, LevelDebug, "svc", nil, events, nil)
	log.Error(context.Background(), "boom", "job_id", "j1")

	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "j1", got.Attributes["job_id"])
}

func TestLoggerContext_AccumulatesFields(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelDebug, "svc", nil))

	lc.Add("job_id", "j1")
	lc.Info(context.Background(), "first")
	lc.Add("status", "failed")
	lc.Warn(context.Background(), "second", "extra", true)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "j1", lines[0]["job_id"])
	assert.NotContains(t, lines[0], "status")
	assert.Equal(t, "failed", lines[1]["status"])
	assert.Equal(t, true, lines[1]["extra"])
}

func TestNoop_DoesNotPanic(t *testing.T) {
	log := Noop()
	log.With("k", "v").Error(context.Background(), "nothing")
	NewLoggerContext(log).Info(context.Background(), "nothing")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
