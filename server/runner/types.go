package runner

import (
	"time"

	"github.com/nomis52/goswarm/job"
	"github.com/nomis52/goswarm/logging"
)

// RunState represents the current state of a run.
type RunState int

const (
	// RunStateIdle indicates no run is in progress.
	RunStateIdle RunState = iota
	// RunStateRunning indicates a run is in progress.
	RunStateRunning
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "idle"
	case RunStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s RunState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RunState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"running"`:
		*s = RunStateRunning
	default:
		*s = RunStateIdle
	}
	return nil
}

// RunSummary is the history view of a run.
type RunSummary struct {
	// ID identifies the run, run_ followed by 12 hex characters.
	ID string `json:"id"`
	// Jobs are the names of the jobs the run executes, in order.
	Jobs []string `json:"jobs"`
	// StartedAt is when the run started. Nil if no run has occurred.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is when the run ended. Nil if run is in progress or no run has occurred.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// Success is true when every job completed and succeeded.
	Success bool `json:"success"`
	// Error contains the error message if the run failed. Empty on success.
	Error string `json:"error,omitempty"`
}

// RunStatus contains information about the current or last run.
type RunStatus struct {
	RunSummary
	// State is the current state of the run.
	State RunState `json:"state"`
	// JobRuns holds one entry per started job.
	JobRuns []JobRun `json:"job_runs,omitempty"`
}

// JobRun records the execution of one job within a run.
type JobRun struct {
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Success   bool       `json:"success"`
	// Error is set when the job could not produce a report.
	Error  string      `json:"error,omitempty"`
	Result *job.Result `json:"result,omitempty"`
	// Logs are the records the orchestrator and workers emitted for this job.
	Logs []logging.LogEntry `json:"logs,omitempty"`
}
