// Package swarm dispatches one logical task to a named set of independent
// workers and assembles a structured report and metrics record.
//
// # Core Concepts
//
// A Worker is a named unit that executes one task against an
// ExecutionContext. Workers are registered into exactly one Orchestrator,
// keyed by name:
//
//	o := swarm.New("coordinator")
//	err := o.AddWorkers(researcher, reviewer)
//
// ExecuteSwarm runs a task across the registered workers (or an explicit
// subset) and returns a Report whose Results follow the requested worker
// order, never the completion order:
//
//	report, err := o.ExecuteSwarm(ctx, "summarise", ec,
//		swarm.WithTargets("researcher", "reviewer"),
//		swarm.WithRetries(1),
//	)
//
// Worker failures never surface as errors. They are recorded as failed
// results and Report.Success is derived from the counts. ExecuteSwarm returns
// an error only for invalid requests, such as unknown target names, and then
// no worker has been started.
//
// # Strategies
//
// Parallel (the default) runs workers concurrently in a window of
// MaxConcurrency, admitting them in requested order. Sequential runs them one
// after another.
//
// With fail-fast enabled, the first failure stops the operation. Sequential
// runs record the remaining workers as skipped. Parallel runs cancel the
// context of every unfinished worker and wait for each of them to return
// before the report is built, so no worker outlives its operation.
//
// # Attempts
//
// Each worker gets Retries+1 attempts. Every attempt is bounded by Timeout
// (zero disables it) and receives a freshly isolated context, so a retried
// attempt never sees the partial writes of a failed one. Panics are
// recovered and recorded as attempt errors.
//
// The timeout reaches a worker only through its ctx. An attempt ends at the
// deadline only if the worker returns once ctx is done; a worker that ignores
// ctx runs to completion and holds its concurrency slot until then.
//
// # Context Isolation
//
// With Policy.IsolateContext (the default), each attempt receives a new
// ExecutionContext with a metadata copy carrying the trace fields
// (swarm_parent, sub_agent, operation_id, sub_operation_id, correlation_id)
// and a deep copy of State. With isolation disabled every worker shares the
// caller's context and concurrent writes to State are the caller's concern.
//
// # Metrics
//
// Every operation yields a MetricsRecord with success and failure rates,
// timeout and retry counts and a nearest-rank p95 latency. Records are
// retained in a bounded history, appended to the context State under
// "swarm_metrics" together with a compact "swarm_history" entry, and handed
// to every registered MetricsObserver.
//
// # Mass Operations
//
// ExecuteMassSwarm runs one swarm operation per task, concurrently up to
// MaxTaskConcurrency or sequentially, and returns a MassReport whose
// Operations follow the task order.
package swarm
