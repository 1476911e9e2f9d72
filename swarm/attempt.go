package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// operation is the resolved state of one ExecuteSwarm call. names and
// workers are parallel slices in requested order.
type operation struct {
	orchestrator  *Orchestrator
	names         []string
	workers       []Worker
	tasks         map[string]string
	ec            *ExecutionContext
	settings      runSettings
	operationID   string
	correlationID string
}

func (op *operation) trace(i int) traceFields {
	return traceFields{
		parent:         op.orchestrator.name,
		worker:         op.names[i],
		operationID:    op.operationID,
		subOperationID: subOperationID(op.operationID, op.names[i]),
		correlationID:  op.correlationID,
	}
}

// baseResult returns a result for worker i with the identifiers filled in.
func (op *operation) baseResult(i int) SubAgentResult {
	return SubAgentResult{
		Agent:          op.names[i],
		OperationID:    op.operationID,
		CorrelationID:  op.correlationID,
		SubOperationID: subOperationID(op.operationID, op.names[i]),
		AttemptErrors:  []string{},
	}
}

// syntheticResult is the failed result of a worker that never reached a
// terminal state of its own.
func (op *operation) syntheticResult(i int, reason string) SubAgentResult {
	r := op.baseResult(i)
	r.Error = reason
	return r
}

// interruptedResult resolves the result of a worker whose run was cut short
// by cancellation of ctx.
func (op *operation) interruptedResult(ctx context.Context, i int, r SubAgentResult) SubAgentResult {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrFailFastCancelled) {
		return op.syntheticResult(i, ErrFailFastCancelled.Error())
	}
	if r.Attempts == 0 {
		return op.syntheticResult(i, "cancelled: "+cause.Error())
	}
	return r
}

// runWorker executes worker i with retries. interrupted reports that the run
// stopped early because ctx was cancelled.
func (op *operation) runWorker(ctx context.Context, i int) (result SubAgentResult, interrupted bool) {
	name := op.names[i]
	logger := op.orchestrator.logger.With("sub_agent", name, "operation_id", op.operationID)

	ctx, span := op.orchestrator.tracer.Start(ctx, "swarm.worker",
		trace.WithAttributes(
			attribute.String("swarm.sub_agent", name),
			attribute.String("swarm.sub_operation_id", subOperationID(op.operationID, name)),
		))
	defer span.End()

	result = op.baseResult(i)
	start := time.Now()
	defer func() {
		result.DurationMS = time.Since(start).Milliseconds()
		span.SetAttributes(attribute.Int("swarm.attempts", result.Attempts))
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
	}()

	task := op.tasks[name]
	isolate := op.orchestrator.policy.IsolateContext
	timeout := op.settings.timeout

	for result.Attempts <= op.settings.retries {
		if ctx.Err() != nil {
			return result, true
		}
		result.Attempts++

		sub := subContext(op.ec, isolate, op.trace(i))
		output, timedOut, err := runAttempt(ctx, op.workers[i], task, sub, timeout)
		if err == nil {
			result.Success = true
			result.Output = output
			result.TimedOut = false
			result.Error = ""
			return result, false
		}

		if timedOut {
			result.TimedOut = true
			logger.Warn("worker attempt timed out", "attempt", result.Attempts, "timeout", timeout)
		} else {
			logger.Warn("worker attempt failed", "attempt", result.Attempts, "error", err)
		}
		result.Error = err.Error()
		result.AttemptErrors = append(result.AttemptErrors, result.Error)
		span.AddEvent("attempt_failed", trace.WithAttributes(
			attribute.Int("swarm.attempt", result.Attempts),
			attribute.String("swarm.error", result.Error),
		))

		if ctx.Err() != nil {
			return result, true
		}
	}
	return result, false
}

// runAttempt invokes the worker once. An attempt whose deadline passed before
// the worker returned counts as timed out, whatever the worker returned.
func runAttempt(ctx context.Context, w Worker, task string, ec *ExecutionContext, timeout time.Duration) (output any, timedOut bool, err error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output, err = callWorker(attemptCtx, w, task, ec)
	if timeout > 0 && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, true, &WorkerTimeoutError{Timeout: timeout}
	}
	return output, false, err
}

func callWorker(ctx context.Context, w Worker, task string, ec *ExecutionContext) (output any, err error) {
	defer func() {
		if p := recover(); p != nil {
			output = nil
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return w.Execute(ctx, task, ec)
}
