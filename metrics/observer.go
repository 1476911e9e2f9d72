package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/goswarm/swarm"
)

// Label names used by SwarmObserver.
const (
	LabelOrchestrator = "orchestrator"
	LabelEvent        = "event"
	LabelStrategy     = "strategy"
	LabelOutcome      = "outcome"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// SwarmObserver records every swarm.MetricsRecord into a Registry.
// It satisfies swarm.MetricsObserver.
type SwarmObserver struct {
	operations    CounterVec
	units         CounterVec
	timeouts      CounterVec
	retries       CounterVec
	attempts      CounterVec
	duration      GaugeVec
	p95           GaugeVec
	successRate   GaugeVec
	lastTimestamp GaugeVec
}

// NewSwarmObserver creates and registers the swarm metrics in reg.
func NewSwarmObserver(reg Registry) (*SwarmObserver, error) {
	base := []string{LabelOrchestrator, LabelEvent}
	withOutcome := []string{LabelOrchestrator, LabelEvent, LabelStrategy, LabelOutcome}

	o := &SwarmObserver{}
	var err error

	counters := []struct {
		dst    *CounterVec
		name   string
		help   string
		labels []string
	}{
		{&o.operations, "operations_total", "Swarm and mass swarm operations by outcome.", withOutcome},
		{&o.units, "units_total", "Sub-agent results (or tasks, for mass operations) by outcome.", withOutcome},
		{&o.timeouts, "timeouts_total", "Sub-agent results that timed out.", base},
		{&o.retries, "retries_total", "Retries consumed beyond the first attempt.", base},
		{&o.attempts, "attempts_total", "Attempts made across all sub-agents.", base},
	}
	for _, c := range counters {
		*c.dst, err = reg.NewCounterVec(prometheus.CounterOpts{Name: c.name, Help: c.help}, c.labels)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", c.name, err)
		}
	}

	gauges := []struct {
		dst  *GaugeVec
		name string
		help string
	}{
		{&o.duration, "last_duration_ms", "Duration of the most recent operation in milliseconds."},
		{&o.p95, "last_p95_latency_ms", "Nearest-rank p95 latency of the most recent operation."},
		{&o.successRate, "last_success_rate", "Success rate of the most recent operation."},
		{&o.lastTimestamp, "last_timestamp_seconds", "Unix time the most recent operation finished."},
	}
	for _, g := range gauges {
		*g.dst, err = reg.NewGaugeVec(prometheus.GaugeOpts{Name: g.name, Help: g.help}, base)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", g.name, err)
		}
	}

	return o, nil
}

// ObserveMetrics implements swarm.MetricsObserver.
func (o *SwarmObserver) ObserveMetrics(rec swarm.MetricsRecord) error {
	base := prometheus.Labels{
		LabelOrchestrator: rec.Orchestrator,
		LabelEvent:        rec.Event,
	}
	outcome := func(v string) prometheus.Labels {
		return prometheus.Labels{
			LabelOrchestrator: rec.Orchestrator,
			LabelEvent:        rec.Event,
			LabelStrategy:     rec.Strategy.String(),
			LabelOutcome:      v,
		}
	}

	if rec.Failed == 0 {
		o.operations.With(outcome(outcomeSuccess)).Inc()
	} else {
		o.operations.With(outcome(outcomeFailure)).Inc()
	}
	o.units.With(outcome(outcomeSuccess)).Add(float64(rec.Successful))
	o.units.With(outcome(outcomeFailure)).Add(float64(rec.Failed))
	o.timeouts.With(base).Add(float64(rec.TimeoutCount))
	o.retries.With(base).Add(float64(rec.RetriesUsed))
	o.attempts.With(base).Add(float64(rec.AttemptsTotal))

	o.duration.With(base).Set(float64(rec.DurationMS))
	o.p95.With(base).Set(float64(rec.P95LatencyMS))
	o.successRate.With(base).Set(rec.SuccessRate)
	o.lastTimestamp.With(base).Set(float64(rec.Timestamp.Unix()))
	return nil
}
