package swarm

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// runSequential runs the workers one after another in requested order.
// With fail-fast, the first failure marks every remaining worker as skipped.
func (op *operation) runSequential(ctx context.Context) []SubAgentResult {
	results := make([]SubAgentResult, len(op.names))
	skip := false

	for i := range op.names {
		if skip {
			results[i] = op.syntheticResult(i, ErrFailFastSkipped.Error())
			continue
		}

		r, interrupted := op.runWorker(ctx, i)
		if interrupted {
			r = op.interruptedResult(ctx, i, r)
		}
		results[i] = r

		if op.settings.failFast && !r.Success {
			skip = true
		}
	}
	return results
}

// outcome is the terminal state of one worker goroutine.
type outcome struct {
	index       int
	result      SubAgentResult
	interrupted bool
	admitted    bool
}

// runParallel runs the workers concurrently within a window of
// maxConcurrency. Workers are admitted in requested order.
//
// With fail-fast, the first failure cancels the operation context; workers
// that had not finished by then are recorded as cancelled, even those that
// ignore the cancellation and later succeed. The call returns only after
// every worker goroutine has reported.
func (op *operation) runParallel(ctx context.Context) []SubAgentResult {
	n := len(op.names)
	results := make([]SubAgentResult, n)
	if n == 0 {
		return results
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sem := semaphore.NewWeighted(int64(op.settings.maxConcurrency))
	outcomes := make(chan outcome, n)

	go func() {
		for i := range op.names {
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes <- outcome{index: i, interrupted: true}
				continue
			}
			go func(i int) {
				r, interrupted := op.runWorker(ctx, i)
				outcomes <- outcome{index: i, result: r, interrupted: interrupted, admitted: true}
			}(i)
		}
	}()

	for range n {
		out := <-outcomes
		switch {
		case out.interrupted:
			results[out.index] = op.interruptedResult(ctx, out.index, out.result)
		case errors.Is(context.Cause(ctx), ErrFailFastCancelled):
			// Finished after fail-fast resolved, whatever it returned.
			results[out.index] = op.syntheticResult(out.index, ErrFailFastCancelled.Error())
		default:
			results[out.index] = out.result
			if op.settings.failFast && !out.result.Success && ctx.Err() == nil {
				op.orchestrator.logger.Info("fail-fast triggered, cancelling remaining sub-agents",
					"operation_id", op.operationID,
					"sub_agent", out.result.Agent,
				)
				cancel(ErrFailFastCancelled)
			}
		}
		// The slot is freed only after the outcome is handled, so nothing is
		// admitted between a failure and the cancellation it triggers.
		if out.admitted {
			sem.Release(1)
		}
	}
	return results
}
