// Package job turns a swarm payload into an executed swarm operation.
//
// A job builds the workers the payload declares, registers them with a fresh
// orchestrator and runs the resolved tasks: a single task becomes one swarm
// operation, several tasks become a mass operation. Workers are closed when
// the job ends.
package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nomis52/goswarm/config"
	"github.com/nomis52/goswarm/swarm"
	"github.com/nomis52/goswarm/workers"
)

// Options tune a single job execution.
type Options struct {
	// Logger is handed to the orchestrator and the workers.
	Logger *slog.Logger
	// Tasks overrides the tasks of the payload when non-empty.
	Tasks []string
	// CorrelationID overrides the correlation id of the payload context.
	CorrelationID string
	// Observers are registered on the orchestrator before the run.
	Observers []swarm.MetricsObserver
	// Overrides are appended after the options derived from the payload.
	Overrides []swarm.RunOption
}

// Result holds the report of a job. Exactly one of Report and MassReport is set.
type Result struct {
	Report     *swarm.Report     `json:"report,omitempty"`
	MassReport *swarm.MassReport `json:"mass_report,omitempty"`
}

// Success reports whether every worker (or task) succeeded.
func (r *Result) Success() bool {
	if r.MassReport != nil {
		return r.MassReport.Success
	}
	return r.Report != nil && r.Report.Success
}

// Metrics returns the metrics record of the operation.
func (r *Result) Metrics() swarm.MetricsRecord {
	if r.MassReport != nil {
		return r.MassReport.Metrics
	}
	if r.Report != nil {
		return r.Report.Metrics
	}
	return swarm.MetricsRecord{}
}

// OperationID returns the id of the top-level operation.
func (r *Result) OperationID() string {
	if r.MassReport != nil {
		return r.MassReport.OperationID
	}
	if r.Report != nil {
		return r.Report.OperationID
	}
	return ""
}

// Run executes payload p.
func Run(ctx context.Context, p *config.Payload, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tasks := opts.Tasks
	if len(tasks) == 0 {
		var err error
		tasks, err = p.ResolveTasks(nil, "")
		if err != nil {
			return nil, err
		}
	}

	ws, err := workers.Build(p.Agents, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := workers.CloseAll(ws); err != nil {
			logger.Warn("failed to close workers", "error", err)
		}
	}()

	o := swarm.New(p.OrchestratorName(),
		swarm.WithLogger(logger),
		swarm.WithPolicy(p.Policy()),
	)
	if err := o.AddWorkers(ws...); err != nil {
		return nil, fmt.Errorf("failed to register workers: %w", err)
	}
	for _, obs := range opts.Observers {
		o.RegisterMetricsObserver(obs)
	}

	ec := p.ExecutionContext(opts.CorrelationID)
	runOpts := RunOptions(p, len(tasks))
	runOpts = append(runOpts, opts.Overrides...)

	if len(tasks) == 1 {
		report, err := o.ExecuteSwarm(ctx, tasks[0], ec, runOpts...)
		if err != nil {
			return nil, err
		}
		return &Result{Report: report}, nil
	}

	report, err := o.ExecuteMassSwarm(ctx, tasks, ec, runOpts...)
	if err != nil {
		return nil, err
	}
	return &Result{MassReport: report}, nil
}

// RunOptions derives per-call options from the payload. Sub-tasks only apply
// when a single task is run.
func RunOptions(p *config.Payload, taskCount int) []swarm.RunOption {
	var opts []swarm.RunOption
	if len(p.TargetAgents) > 0 {
		opts = append(opts, swarm.WithTargets(p.TargetAgents...))
	}
	if taskCount == 1 && len(p.SubTasks) > 0 {
		opts = append(opts, swarm.WithSubTasks(p.SubTasks))
	}
	opts = append(opts, swarm.WithParallelTasks(p.ParallelTaskMode()))
	return opts
}
