package logging

import (
	"log/slog"
)

// LoggerHook derives a scoped logger from a base logger. The server runner
// uses it to give every swarm run its own logger.
type LoggerHook interface {
	// LoggerFor wraps base so that its records are attributed to scope.
	LoggerFor(base *slog.Logger, scope string) *slog.Logger
}

// CapturingLoggerHook creates loggers that capture into a LogCollector.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook returns a hook that captures into collector.
func NewCapturingLoggerHook(collector *LogCollector) *CapturingLoggerHook {
	return &CapturingLoggerHook{
		collector: collector,
	}
}

// LoggerFor returns a logger that records into the collector under scope and
// tags every record with run_id.
func (p *CapturingLoggerHook) LoggerFor(base *slog.Logger, scope string) *slog.Logger {
	return slog.New(NewCapturingHandler(base.Handler(), p.collector, scope)).With("run_id", scope)
}

// Collector returns the collector the hook writes to.
func (p *CapturingLoggerHook) Collector() *LogCollector {
	return p.collector
}
