package swarm

import (
	"context"
	"strings"
	"time"
)

// Worker is a named unit that executes one task.
//
// IMPLEMENTATION CONTRACT:
// - Name() must be stable for the lifetime of the worker; it is the registry key
// - Execute() returns the worker's output, or an error describing the failure
// - Execute() must observe ctx: per-attempt timeouts and fail-fast cancellation
//   are delivered through it, and the orchestrator waits for Execute() to return
// - ec is either a private copy (isolation enabled) or the shared parent context
type Worker interface {
	// Name returns the unique name of the worker within an orchestrator.
	Name() string

	// Execute runs the task and returns its output.
	Execute(ctx context.Context, task string, ec *ExecutionContext) (any, error)
}

// WorkerFunc adapts a plain function into a Worker.
type WorkerFunc struct {
	WorkerName string
	Fn         func(ctx context.Context, task string, ec *ExecutionContext) (any, error)
}

// Name implements Worker.
func (w WorkerFunc) Name() string { return w.WorkerName }

// Execute implements Worker.
func (w WorkerFunc) Execute(ctx context.Context, task string, ec *ExecutionContext) (any, error) {
	return w.Fn(ctx, task, ec)
}

// Strategy selects how the workers of one operation are dispatched.
type Strategy string

const (
	// Parallel dispatches all workers concurrently, bounded by MaxConcurrency.
	Parallel Strategy = "parallel"
	// Sequential runs workers one after another in the requested order.
	Sequential Strategy = "sequential"
)

// ParseStrategy converts a string to a Strategy. Anything that is not
// "sequential" (case-insensitive) resolves to Parallel.
func ParseStrategy(s string) Strategy {
	if strings.EqualFold(strings.TrimSpace(s), string(Sequential)) {
		return Sequential
	}
	return Parallel
}

// String returns the strategy name.
func (s Strategy) String() string {
	return string(s)
}

// SubAgentResult is the terminal outcome of one worker within one operation.
type SubAgentResult struct {
	Agent          string   `json:"agent"`
	Success        bool     `json:"success"`
	Output         any      `json:"output,omitempty"`
	Error          string   `json:"error,omitempty"`
	Attempts       int      `json:"attempts"`
	TimedOut       bool     `json:"timed_out"`
	DurationMS     int64    `json:"duration_ms"`
	OperationID    string   `json:"operation_id"`
	CorrelationID  string   `json:"correlation_id"`
	SubOperationID string   `json:"sub_operation_id"`
	AttemptErrors  []string `json:"attempt_errors"`
}

// Report is the outcome of one ExecuteSwarm call.
//
// Results are ordered by the requested worker order, never by completion order.
// Success is derived from the counts: Success == (FailedAgents == 0).
type Report struct {
	Success          bool             `json:"success"`
	Orchestrator     string           `json:"agent"`
	OperationID      string           `json:"operation_id"`
	CorrelationID    string           `json:"correlation_id"`
	Task             string           `json:"task"`
	Strategy         Strategy         `json:"strategy"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	DurationMS       int64            `json:"duration_ms"`
	TotalAgents      int              `json:"total_agents"`
	SuccessfulAgents int              `json:"successful_agents"`
	FailedAgents     int              `json:"failed_agents"`
	Results          []SubAgentResult `json:"results"`
	Summary          string           `json:"summary"`
	Note             string           `json:"note,omitempty"`
	Metrics          MetricsRecord    `json:"metrics"`
}

// MassModeName is the Mode value of every MassReport.
const MassModeName = "mass_swarm"

// MassReport is the outcome of one ExecuteMassSwarm call.
//
// Operations are ordered by task submission index.
type MassReport struct {
	Success         bool          `json:"success"`
	Orchestrator    string        `json:"agent"`
	Mode            string        `json:"mode"`
	OperationID     string        `json:"operation_id"`
	CorrelationID   string        `json:"correlation_id"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	DurationMS      int64         `json:"duration_ms"`
	TotalTasks      int           `json:"total_tasks"`
	SuccessfulTasks int           `json:"successful_tasks"`
	FailedTasks     int           `json:"failed_tasks"`
	Operations      []*Report     `json:"operations"`
	Metrics         MetricsRecord `json:"metrics"`
}

// HistoryEntry is the compact run summary appended to the context state under
// HistoryStateKey after each swarm operation.
type HistoryEntry struct {
	OperationID      string    `json:"operation_id"`
	CorrelationID    string    `json:"correlation_id"`
	Orchestrator     string    `json:"orchestrator"`
	Task             string    `json:"task"`
	Success          bool      `json:"success"`
	SuccessfulAgents int       `json:"successful_agents"`
	FailedAgents     int       `json:"failed_agents"`
	DurationMS       int64     `json:"duration_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// Reserved context keys.
const (
	HistoryStateKey = "swarm_history"
	MetricsStateKey = "swarm_metrics"

	MetaCorrelationID  = "correlation_id"
	MetaSwarmParent    = "swarm_parent"
	MetaSubAgent       = "sub_agent"
	MetaOperationID    = "operation_id"
	MetaSubOperationID = "sub_operation_id"
)
