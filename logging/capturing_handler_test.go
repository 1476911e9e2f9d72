package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturingHandler_CapturesAndPassesThrough(t *testing.T) {
	collector := NewLogCollector(0)
	var buf bytes.Buffer
	logger := slog.New(NewCapturingHandler(slog.NewJSONHandler(&buf, nil), collector, "run-1"))

	logger.Info("swarm_operation_completed", "success", true, "failed_agents", 0)

	logs := collector.GetLogs("run-1")
	require.Len(t, logs, 1)
	assert.Equal(t, "INFO", logs[0].Level)
	assert.Equal(t, "swarm_operation_completed", logs[0].Message)
	assert.Equal(t, true, logs[0].Attributes["success"])
	assert.Equal(t, int64(0), logs[0].Attributes["failed_agents"])
	assert.Contains(t, buf.String(), "swarm_operation_completed")
}

func TestCapturingHandler_CapturesBelowUnderlyingLevel(t *testing.T) {
	collector := NewLogCollector(0)
	var buf bytes.Buffer
	underlying := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewCapturingHandler(underlying, collector, "run-1"))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	logs := collector.GetLogs("run-1")
	require.Len(t, logs, 4)
	assert.Equal(t, "DEBUG", logs[0].Level)
	assert.Equal(t, "ERROR", logs[3].Level)

	assert.NotContains(t, buf.String(), "info message")
	assert.Contains(t, buf.String(), "warn message")
}

func TestCapturingHandler_WithAttrsChain(t *testing.T) {
	collector := NewLogCollector(0)
	handler := NewCapturingHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), collector, "run-1")

	logger := slog.New(handler).
		With("component", "swarm").
		With("orchestrator", "coordinator")
	logger.Warn("worker attempt failed", "error", errors.New("boom"), "attempt", 2)

	_, ok := handler.WithAttrs(nil).(*CapturingHandler)
	assert.True(t, ok, "WithAttrs should keep capturing")

	logs := collector.GetLogs("run-1")
	require.Len(t, logs, 1)
	attrs := logs[0].Attributes
	assert.Equal(t, "swarm", attrs["component"])
	assert.Equal(t, "coordinator", attrs["orchestrator"])
	assert.Equal(t, "boom", attrs["error"])
	assert.Equal(t, int64(2), attrs["attempt"])
}

func TestCapturingHandler_WithGroupPrefixesKeys(t *testing.T) {
	collector := NewLogCollector(0)
	var buf bytes.Buffer
	handler := NewCapturingHandler(slog.NewJSONHandler(&buf, nil), collector, "run-1")

	logger := slog.New(handler).WithGroup("metrics").With("event", "swarm_operation")
	logger.Info("swarm_metrics", "total", 3)

	logs := collector.GetLogs("run-1")
	require.Len(t, logs, 1)
	assert.Equal(t, "swarm_operation", logs[0].Attributes["metrics.event"])
	assert.Equal(t, int64(3), logs[0].Attributes["metrics.total"])
	assert.Contains(t, buf.String(), `"metrics":{`)
}

func TestCapturingHandler_ValueKinds(t *testing.T) {
	collector := NewLogCollector(0)
	logger := slog.New(NewCapturingHandler(slog.NewJSONHandler(&bytes.Buffer{}, nil), collector, "run-1"))

	logger.Info("kinds",
		"float", 0.6667,
		"duration", 1500*time.Millisecond,
		"group", slog.GroupValue(slog.String("inner", "v")),
	)

	attrs := collector.GetLogs("run-1")[0].Attributes
	assert.InDelta(t, 0.6667, attrs["float"], 0.0001)
	assert.Equal(t, "1.5s", attrs["duration"])
	assert.Equal(t, map[string]any{"inner": "v"}, attrs["group"])
}
