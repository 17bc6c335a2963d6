package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", ThreadID(ctx))
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", NodeSlug(ctx))

	ctx = WithThreadID(ctx, "thread-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithNodeSlug(ctx, "triage")

	assert.Equal(t, "thread-1", ThreadID(ctx))
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "triage", NodeSlug(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithNodeSlug(WithThreadID(context.Background(), "thread-9"), "picker")
	LogWith(ctx, logger).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "thread_id=thread-9")
	assert.Contains(t, out, "node_slug=picker")
	assert.NotContains(t, out, "run_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))).With("component", "runner")

	ctx := WithRunID(WithThreadID(context.Background(), "thread-1"), "run-7")
	logger.InfoContext(ctx, "step completed")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "thread-1", rec["thread_id"])
	assert.Equal(t, "run-7", rec["run_id"])
	assert.Equal(t, "runner", rec["component"])
	assert.NotContains(t, rec, "node_slug")
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.WarnContext(WithThreadID(context.Background(), "t"), "kept")
	assert.Contains(t, buf.String(), `"thread_id":"t"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
