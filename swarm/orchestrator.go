package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nomis52/goswarm/swarm"

// ErrDuplicateTarget is returned when the same worker is targeted twice in one operation.
var ErrDuplicateTarget = errors.New("duplicate target sub-agent")

// Orchestrator owns a set of named workers and dispatches tasks to them.
type Orchestrator struct {
	name   string
	policy Policy
	logger *slog.Logger
	tracer trace.Tracer

	// Registry; names keeps insertion order.
	mu      sync.RWMutex
	workers map[string]Worker
	names   []string

	metricsMu      sync.Mutex
	observers      []registeredObserver
	nextObserverID uint64
	metricsHistory []MetricsRecord
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger for the orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger.With("component", "swarm", "orchestrator", o.name)
	}
}

// WithPolicy replaces the default dispatch policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p.normalized()
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// New creates an orchestrator identified by name.
func New(name string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		name:    name,
		policy:  DefaultPolicy(),
		workers: make(map[string]Worker),
	}
	o.logger = slog.Default().With("component", "swarm", "orchestrator", name)

	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	if o.policy.MetricsLogging {
		o.RegisterMetricsObserver(ObserverFunc(o.logMetrics))
	}
	return o
}

// Name returns the orchestrator's identity.
func (o *Orchestrator) Name() string {
	return o.name
}

// Policy returns the orchestrator's defaults.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// AddWorker registers a worker. A worker with the same name replaces the
// previous one and keeps its position in the registration order.
func (o *Orchestrator) AddWorker(w Worker) error {
	if w == nil {
		return ErrNilWorker
	}
	name := w.Name()
	if name == o.name {
		return &SelfRegistrationError{Name: name}
	}

	o.mu.Lock()
	if _, exists := o.workers[name]; !exists {
		o.names = append(o.names, name)
	}
	o.workers[name] = w
	o.mu.Unlock()

	o.logger.Info("added sub-agent", "sub_agent", name)
	return nil
}

// AddWorkers registers several workers, stopping at the first error.
func (o *Orchestrator) AddWorkers(ws ...Worker) error {
	for _, w := range ws {
		if err := o.AddWorker(w); err != nil {
			return err
		}
	}
	return nil
}

// RemoveWorker unregisters a worker and reports whether it existed.
func (o *Orchestrator) RemoveWorker(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.workers[name]; !exists {
		return false
	}
	delete(o.workers, name)
	for i, n := range o.names {
		if n == name {
			o.names = append(o.names[:i:i], o.names[i+1:]...)
			break
		}
	}
	return true
}

// ListWorkers returns the registered worker names in registration order.
func (o *Orchestrator) ListWorkers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string{}, o.names...)
}

// Execute broadcasts task to all registered workers and returns the report.
// It lets an orchestrator act as a worker of another orchestrator.
func (o *Orchestrator) Execute(ctx context.Context, task string, ec *ExecutionContext) (any, error) {
	return o.ExecuteSwarm(ctx, task, ec)
}

// resolve snapshots the workers for one operation. Every name must be
// registered and appear only once.
func (o *Orchestrator) resolve(s runSettings) ([]string, []Worker, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	names := s.targets
	if !s.targetsSet {
		names = append([]string{}, o.names...)
	}

	var unknown []string
	seen := make(map[string]bool, len(names))
	workers := make([]Worker, len(names))
	for i, name := range names {
		if seen[name] {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateTarget, name)
		}
		seen[name] = true
		w, ok := o.workers[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		workers[i] = w
	}
	if len(unknown) > 0 {
		return nil, nil, &UnknownWorkerError{Names: unknown}
	}
	return names, workers, nil
}

func (o *Orchestrator) hasWorkers() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.workers) > 0
}

// resolveCorrelationID prefers the explicit id, then the context metadata,
// and finally generates one. The result is recorded in the context metadata
// if it carries none yet.
func resolveCorrelationID(explicit string, ec *ExecutionContext) string {
	id := explicit
	if id == "" {
		id = ec.MetadataString(MetaCorrelationID)
	}
	if id == "" {
		id = newID("corr")
	}
	ec.setMetadataDefault(MetaCorrelationID, id)
	return id
}

// ExecuteSwarm runs one task across the target workers and returns the report.
//
// Worker failures never produce an error; they are recorded in the report.
// An error is returned only for invalid requests (unknown or duplicate target
// names), and in that case no worker has been started.
func (o *Orchestrator) ExecuteSwarm(ctx context.Context, task string, ec *ExecutionContext, opts ...RunOption) (*Report, error) {
	if ec == nil {
		ec = NewExecutionContext(newID("session"))
	}
	startedAt := time.Now()
	s := o.policy.settings(opts)

	operationID := s.operationID
	if operationID == "" {
		operationID = newID("swarm")
	}
	correlationID := resolveCorrelationID(s.correlationID, ec)
	s.correlationID = correlationID

	requested := s.targets
	if !s.targetsSet {
		requested = o.ListWorkers()
	}
	o.logger.Info("swarm_operation_started",
		"event", "swarm_operation_started",
		"operation_id", operationID,
		"correlation_id", correlationID,
		"strategy", s.strategy.String(),
		"task", task,
		"requested_agents", requested,
	)

	ctx, span := o.tracer.Start(ctx, "swarm.execute",
		trace.WithAttributes(
			attribute.String("swarm.orchestrator", o.name),
			attribute.String("swarm.operation_id", operationID),
			attribute.String("swarm.correlation_id", correlationID),
			attribute.String("swarm.strategy", s.strategy.String()),
		))
	defer span.End()

	var (
		results []SubAgentResult
		note    string
	)
	if len(requested) == 0 && !o.hasWorkers() {
		note = "No sub-agents registered"
	} else {
		names, workers, err := o.resolve(s)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		op := &operation{
			orchestrator:  o,
			names:         names,
			workers:       workers,
			tasks:         taskMap(task, names, s.subTasks),
			ec:            ec,
			settings:      s,
			operationID:   operationID,
			correlationID: correlationID,
		}
		if s.strategy == Sequential {
			results = op.runSequential(ctx)
		} else {
			results = op.runParallel(ctx)
		}
	}

	report := o.buildReport(task, s.strategy, operationID, correlationID, startedAt, results, note)
	if note != "" {
		report.DurationMS = 0
	}
	report.Metrics = o.buildMetrics(report)
	o.publishMetrics(report.Metrics)

	ec.recordRun(HistoryEntry{
		OperationID:      operationID,
		CorrelationID:    correlationID,
		Orchestrator:     o.name,
		Task:             task,
		Success:          report.Success,
		SuccessfulAgents: report.SuccessfulAgents,
		FailedAgents:     report.FailedAgents,
		DurationMS:       report.DurationMS,
		Timestamp:        report.FinishedAt,
	}, report.Metrics, o.policy.MetricsHistoryLimit)

	span.SetAttributes(
		attribute.Int("swarm.total_agents", report.TotalAgents),
		attribute.Int("swarm.failed_agents", report.FailedAgents),
	)
	if !report.Success {
		span.SetStatus(codes.Error, report.Summary)
	}

	o.logger.Info("swarm_operation_completed",
		"event", "swarm_operation_completed",
		"operation_id", operationID,
		"correlation_id", correlationID,
		"success", report.Success,
		"duration_ms", report.DurationMS,
		"successful_agents", report.SuccessfulAgents,
		"failed_agents", report.FailedAgents,
	)
	return report, nil
}

// taskMap gives every target worker the shared task unless overridden.
func taskMap(task string, names []string, overrides map[string]string) map[string]string {
	tasks := make(map[string]string, len(names))
	for _, name := range names {
		tasks[name] = task
		if t, ok := overrides[name]; ok {
			tasks[name] = t
		}
	}
	return tasks
}
