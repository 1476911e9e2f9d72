package swarm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExecuteMassSwarm runs one swarm operation per task and aggregates the
// reports. Operation i gets the id "<mass id>_task_<i+1>" and all operations
// share one correlation id.
//
// Tasks run concurrently, at most Policy.MaxTaskConcurrency at a time, unless
// WithParallelTasks(false) is given. Target names are validated once before
// any task starts.
func (o *Orchestrator) ExecuteMassSwarm(ctx context.Context, tasks []string, ec *ExecutionContext, opts ...RunOption) (*MassReport, error) {
	if ec == nil {
		ec = NewExecutionContext(newID("session"))
	}
	startedAt := time.Now()
	s := o.policy.settings(opts)

	operationID := s.operationID
	if operationID == "" {
		operationID = newID("mass_swarm")
	}
	correlationID := resolveCorrelationID(s.correlationID, ec)
	s.correlationID = correlationID

	if s.targetsSet {
		if _, _, err := o.resolve(s); err != nil {
			return nil, err
		}
	}

	o.logger.Info("mass_swarm_started",
		"event", "mass_swarm_started",
		"operation_id", operationID,
		"correlation_id", correlationID,
		"task_count", len(tasks),
		"parallel_tasks", s.parallelTasks,
	)

	ctx, span := o.tracer.Start(ctx, "swarm.execute_mass",
		trace.WithAttributes(
			attribute.String("swarm.orchestrator", o.name),
			attribute.String("swarm.operation_id", operationID),
			attribute.String("swarm.correlation_id", correlationID),
			attribute.Int("swarm.task_count", len(tasks)),
		))
	defer span.End()

	operations := make([]*Report, len(tasks))
	errs := make([]error, len(tasks))
	runTask := func(i int) {
		operations[i], errs[i] = o.ExecuteSwarm(ctx, tasks[i], ec, s.forward(fmt.Sprintf("%s_task_%d", operationID, i+1))...)
	}

	if s.parallelTasks && len(tasks) > 0 {
		limit := min(o.policy.MaxTaskConcurrency, len(tasks))
		// Every task is admitted even after ctx is done; each operation then
		// records its workers as cancelled.
		gate := make(chan struct{}, limit)
		done := make(chan struct{}, len(tasks))
		for i := range tasks {
			gate <- struct{}{}
			go func(i int) {
				defer func() {
					<-gate
					done <- struct{}{}
				}()
				runTask(i)
			}(i)
		}
		for range tasks {
			<-done
		}
	} else {
		for i := range tasks {
			runTask(i)
		}
	}

	for _, err := range errs {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	successful := 0
	for _, r := range operations {
		if r.Success {
			successful++
		}
	}
	failed := len(operations) - successful

	finishedAt := time.Now()
	report := &MassReport{
		Success:         failed == 0,
		Orchestrator:    o.name,
		Mode:            MassModeName,
		OperationID:     operationID,
		CorrelationID:   correlationID,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		DurationMS:      finishedAt.Sub(startedAt).Milliseconds(),
		TotalTasks:      len(tasks),
		SuccessfulTasks: successful,
		FailedTasks:     failed,
		Operations:      operations,
	}
	if len(tasks) == 0 {
		report.DurationMS = 0
	}
	report.Metrics = o.buildMassMetrics(report)
	o.publishMetrics(report.Metrics)

	if !report.Success {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d tasks failed", failed, len(tasks)))
	}

	o.logger.Info("mass_swarm_completed",
		"event", "mass_swarm_completed",
		"operation_id", operationID,
		"correlation_id", correlationID,
		"success", report.Success,
		"task_count", report.TotalTasks,
		"duration_ms", report.DurationMS,
		"failed_tasks", report.FailedTasks,
	)
	return report, nil
}
