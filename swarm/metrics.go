package swarm

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Metrics event names.
const (
	EventSwarmOperation     = "swarm_operation"
	EventMassSwarmOperation = "mass_swarm_operation"
)

// MetricsRecord summarises one swarm or mass-swarm operation.
//
// For swarm operations the totals count workers and P95LatencyMS is taken over
// the per-worker durations. For mass operations the totals count tasks and
// P95LatencyMS is taken over the per-operation durations.
type MetricsRecord struct {
	Event         string    `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
	Orchestrator  string    `json:"orchestrator"`
	OperationID   string    `json:"operation_id"`
	CorrelationID string    `json:"correlation_id"`
	Strategy      Strategy  `json:"strategy,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	Total         int       `json:"total"`
	Successful    int       `json:"successful"`
	Failed        int       `json:"failed"`
	SuccessRate   float64   `json:"success_rate"`
	FailureRate   float64   `json:"failure_rate"`
	TimeoutCount  int       `json:"timeout_count"`
	RetriesUsed   int       `json:"retries_used"`
	AttemptsTotal int       `json:"attempts_total"`
	P95LatencyMS  int64     `json:"p95_latency_ms"`
}

// MetricsObserver receives every MetricsRecord an orchestrator publishes.
// A returned error is logged and otherwise ignored.
type MetricsObserver interface {
	ObserveMetrics(rec MetricsRecord) error
}

// ObserverFunc adapts a function into a MetricsObserver.
type ObserverFunc func(rec MetricsRecord) error

// ObserveMetrics implements MetricsObserver.
func (f ObserverFunc) ObserveMetrics(rec MetricsRecord) error {
	return f(rec)
}

// ObserverHandle identifies a registered observer for later removal.
type ObserverHandle uint64

type registeredObserver struct {
	handle   ObserverHandle
	observer MetricsObserver
}

// RegisterMetricsObserver adds an observer and returns its handle.
func (o *Orchestrator) RegisterMetricsObserver(obs MetricsObserver) ObserverHandle {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	o.nextObserverID++
	h := ObserverHandle(o.nextObserverID)
	o.observers = append(o.observers, registeredObserver{handle: h, observer: obs})
	return h
}

// RemoveMetricsObserver unregisters the observer and reports whether it was found.
func (o *Orchestrator) RemoveMetricsObserver(h ObserverHandle) bool {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	for i, r := range o.observers {
		if r.handle == h {
			o.observers = slices.Delete(o.observers, i, i+1)
			return true
		}
	}
	return false
}

// MetricsHistory returns up to the last limit retained records, oldest first.
// A limit of zero or less returns the whole retained history.
func (o *Orchestrator) MetricsHistory(limit int) []MetricsRecord {
	o.metricsMu.Lock()
	defer o.metricsMu.Unlock()
	start := 0
	if limit > 0 && limit < len(o.metricsHistory) {
		start = len(o.metricsHistory) - limit
	}
	return append([]MetricsRecord(nil), o.metricsHistory[start:]...)
}

// publishMetrics retains rec and hands a copy to every observer.
// Observers run outside the lock so they may call back into the orchestrator.
func (o *Orchestrator) publishMetrics(rec MetricsRecord) {
	o.metricsMu.Lock()
	o.metricsHistory = appendLimited(o.metricsHistory, rec, o.policy.MetricsHistoryLimit)
	observers := append([]registeredObserver(nil), o.observers...)
	o.metricsMu.Unlock()

	for _, r := range observers {
		o.notify(r, rec)
	}
}

func (o *Orchestrator) notify(r registeredObserver, rec MetricsRecord) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("metrics observer panicked", "handle", r.handle, "panic", fmt.Sprint(p))
		}
	}()
	if err := r.observer.ObserveMetrics(rec); err != nil {
		o.logger.Error("metrics observer failed", "handle", r.handle, "error", err)
	}
}

// logMetrics is the built-in observer enabled by Policy.MetricsLogging.
func (o *Orchestrator) logMetrics(rec MetricsRecord) error {
	o.logger.Info("swarm_metrics",
		"event", "swarm_metrics",
		"metrics_event", rec.Event,
		"operation_id", rec.OperationID,
		"correlation_id", rec.CorrelationID,
		"strategy", rec.Strategy.String(),
		"duration_ms", rec.DurationMS,
		"total", rec.Total,
		"successful", rec.Successful,
		"failed", rec.Failed,
		"success_rate", rec.SuccessRate,
		"failure_rate", rec.FailureRate,
		"timeout_count", rec.TimeoutCount,
		"retries_used", rec.RetriesUsed,
		"attempts_total", rec.AttemptsTotal,
		"p95_latency_ms", rec.P95LatencyMS,
	)
	return nil
}

func (o *Orchestrator) buildReport(task string, strategy Strategy, operationID, correlationID string, startedAt time.Time, results []SubAgentResult, note string) *Report {
	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	failed := len(results) - successful
	if results == nil {
		results = []SubAgentResult{}
	}

	finishedAt := time.Now()
	return &Report{
		Success:          failed == 0,
		Orchestrator:     o.name,
		OperationID:      operationID,
		CorrelationID:    correlationID,
		Task:             task,
		Strategy:         strategy,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		DurationMS:       finishedAt.Sub(startedAt).Milliseconds(),
		TotalAgents:      len(results),
		SuccessfulAgents: successful,
		FailedAgents:     failed,
		Results:          results,
		Summary:          fmt.Sprintf("Swarm executed %d agents: %d succeeded, %d failed", len(results), successful, failed),
		Note:             note,
	}
}

func (o *Orchestrator) buildMetrics(r *Report) MetricsRecord {
	rec := MetricsRecord{
		Event:         EventSwarmOperation,
		Timestamp:     time.Now(),
		Orchestrator:  o.name,
		OperationID:   r.OperationID,
		CorrelationID: r.CorrelationID,
		Strategy:      r.Strategy,
		DurationMS:    r.DurationMS,
	}
	rec.setTotals(r.TotalAgents, r.SuccessfulAgents, r.FailedAgents)

	durations := make([]int64, 0, len(r.Results))
	for _, res := range r.Results {
		durations = append(durations, res.DurationMS)
		rec.AttemptsTotal += res.Attempts
		rec.RetriesUsed += max(0, res.Attempts-1)
		if res.TimedOut {
			rec.TimeoutCount++
		}
	}
	rec.P95LatencyMS = Percentile(durations, 95)
	return rec
}

func (o *Orchestrator) buildMassMetrics(r *MassReport) MetricsRecord {
	rec := MetricsRecord{
		Event:         EventMassSwarmOperation,
		Timestamp:     time.Now(),
		Orchestrator:  o.name,
		OperationID:   r.OperationID,
		CorrelationID: r.CorrelationID,
		DurationMS:    r.DurationMS,
	}
	rec.setTotals(r.TotalTasks, r.SuccessfulTasks, r.FailedTasks)

	durations := make([]int64, 0, len(r.Operations))
	for _, op := range r.Operations {
		durations = append(durations, op.DurationMS)
		rec.AttemptsTotal += op.Metrics.AttemptsTotal
		rec.RetriesUsed += op.Metrics.RetriesUsed
		rec.TimeoutCount += op.Metrics.TimeoutCount
	}
	rec.P95LatencyMS = Percentile(durations, 95)
	return rec
}

func (rec *MetricsRecord) setTotals(total, successful, failed int) {
	rec.Total = total
	rec.Successful = successful
	rec.Failed = failed
	rec.SuccessRate = 1.0
	rec.FailureRate = 0.0
	if total > 0 {
		rec.SuccessRate = roundRate(float64(successful) / float64(total))
		rec.FailureRate = roundRate(float64(failed) / float64(total))
	}
}

func roundRate(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Percentile returns the nearest-rank percentile of samples, or 0 when there
// are none. samples is not modified.
func Percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	rank := max(1, int(math.Ceil(p/100*float64(len(sorted)))))
	return sorted[min(len(sorted)-1, rank-1)]
}
