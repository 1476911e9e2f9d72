package swarm

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteMassSwarm_ParallelTasks(t *testing.T) {
	o, logs := newTestOrchestrator(t)
	workers := []*fakeWorker{newFakeWorker("a"), newFakeWorker("b"), newFakeWorker("c")}
	for _, w := range workers {
		w.delay = 10 * time.Millisecond
	}
	mustAdd(t, o, workers...)
	ec := NewExecutionContext("session")

	tasks := []string{"t1", "t2", "t3", "t4"}
	report, err := o.ExecuteMassSwarm(context.Background(), tasks, ec, WithParallelTasks(true))
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, MassModeName, report.Mode)
	assert.Equal(t, "coordinator", report.Orchestrator)
	assert.Equal(t, 4, report.TotalTasks)
	assert.Equal(t, 4, report.SuccessfulTasks)
	assert.Equal(t, 0, report.FailedTasks)
	assert.Regexp(t, regexp.MustCompile(`^mass_swarm_[0-9a-f]{12}$`), report.OperationID)

	require.Len(t, report.Operations, 4)
	for i, op := range report.Operations {
		assert.Equal(t, tasks[i], op.Task, "operations follow task order")
		assert.Equal(t, 3, op.TotalAgents)
		assert.Equal(t, fmt.Sprintf("%s_task_%d", report.OperationID, i+1), op.OperationID)
		assert.Equal(t, report.CorrelationID, op.CorrelationID)
	}
	assert.Len(t, ec.History(), 4)
	for _, w := range workers {
		assert.ElementsMatch(t, tasks, w.receivedTasks())
	}

	assert.Len(t, logs.Events(testScope, "mass_swarm_started"), 1)
	assert.Len(t, logs.Events(testScope, "mass_swarm_completed"), 1)
	assert.Len(t, logs.Events(testScope, "swarm_operation_completed"), 4)
}

func TestExecuteMassSwarm_SequentialTasks(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	w := newFakeWorker("a")
	gauge := &concurrencyGauge{}
	w.gauge = gauge
	w.delay = 5 * time.Millisecond
	mustAdd(t, o, w)

	tasks := []string{"t1", "t2", "t3"}
	report, err := o.ExecuteMassSwarm(context.Background(), tasks, nil, WithParallelTasks(false))
	require.NoError(t, err)

	assert.Equal(t, tasks, w.receivedTasks(), "tasks run in submission order")
	_, peak := gauge.snapshot()
	assert.Equal(t, 1, peak)
	assert.Equal(t, 3, report.TotalTasks)
}

func TestExecuteMassSwarm_TaskConcurrencyLimit(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithPolicy(policyWith(func(p *Policy) {
		p.MaxTaskConcurrency = 2
	})))
	w := newFakeWorker("a")
	gauge := &concurrencyGauge{}
	w.gauge = gauge
	w.delay = 20 * time.Millisecond
	mustAdd(t, o, w)

	report, err := o.ExecuteMassSwarm(context.Background(), []string{"t1", "t2", "t3", "t4", "t5"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, report.SuccessfulTasks)

	_, peak := gauge.snapshot()
	assert.LessOrEqual(t, peak, 2)
}

func TestExecuteMassSwarm_CancelledContextReportsEveryTask(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithPolicy(policyWith(func(p *Policy) {
		p.MaxTaskConcurrency = 1
	})))
	w := newFakeWorker("a")
	mustAdd(t, o, w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.ExecuteMassSwarm(ctx, []string{"t1", "t2", "t3"}, nil)
	require.NoError(t, err)

	require.Len(t, report.Operations, 3, "every task is admitted and reported")
	for _, op := range report.Operations {
		require.Len(t, op.Results, 1)
		assert.False(t, op.Results[0].Success)
		assert.Equal(t, "cancelled: context canceled", op.Results[0].Error)
	}
	assert.Equal(t, 0, report.SuccessfulTasks)
	assert.Equal(t, 0, w.callCount())
}

func TestExecuteMassSwarm_EmptyTasks(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	w := newFakeWorker("a")
	mustAdd(t, o, w)

	report, err := o.ExecuteMassSwarm(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 0, report.TotalTasks)
	assert.Equal(t, int64(0), report.DurationMS)
	assert.NotNil(t, report.Operations)
	assert.Empty(t, report.Operations)
	assert.Equal(t, 1.0, report.Metrics.SuccessRate)
	assert.Equal(t, 0, w.callCount())
}

func TestExecuteMassSwarm_FailedTasks(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	w := newFakeWorker("a")
	w.failFirst = 1
	mustAdd(t, o, w)

	report, err := o.ExecuteMassSwarm(context.Background(), []string{"t1", "t2", "t3"}, nil, WithParallelTasks(false))
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, 2, report.SuccessfulTasks)
	assert.Equal(t, 1, report.FailedTasks)
	assert.False(t, report.Operations[0].Success)
	assert.Equal(t, 0.6667, report.Metrics.SuccessRate)
}

func TestExecuteMassSwarm_UnknownTargetRejectedUpFront(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	w := newFakeWorker("a")
	mustAdd(t, o, w)

	report, err := o.ExecuteMassSwarm(context.Background(), []string{"t1", "t2"}, nil, WithTargets("a", "ghost"))
	assert.ErrorIs(t, err, ErrUnknownWorker)
	assert.Nil(t, report)
	assert.Equal(t, 0, w.callCount())
}

func TestExecuteMassSwarm_ForwardsOverrides(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	a := newFakeWorker("a")
	b := newFakeWorker("b")
	b.failFirst = 1
	mustAdd(t, o, a, b, newFakeWorker("unused"))

	report, err := o.ExecuteMassSwarm(context.Background(), []string{"t1", "t2"}, nil,
		WithTargets("b", "a"),
		WithStrategy(Sequential),
		WithRetries(1),
		WithSubTasks(map[string]string{"a": "fixed"}),
		WithCorrelationID("corr-batch"),
		WithParallelTasks(false),
	)
	require.NoError(t, err)

	assert.Equal(t, "corr-batch", report.CorrelationID)
	for _, op := range report.Operations {
		assert.Equal(t, Sequential, op.Strategy)
		assert.Equal(t, []string{"b", "a"}, agentNames(op.Results))
		assert.Equal(t, "corr-batch", op.CorrelationID)
	}
	assert.Equal(t, 2, report.Operations[0].Results[0].Attempts, "retries forwarded")
	assert.Equal(t, []string{"fixed", "fixed"}, a.receivedTasks())
}

func TestExecuteMassSwarm_Metrics(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	flaky := newFakeWorker("flaky")
	flaky.failFirst = 1
	mustAdd(t, o, flaky)

	report, err := o.ExecuteMassSwarm(context.Background(), []string{"t1", "t2"}, nil,
		WithParallelTasks(false), WithRetries(1))
	require.NoError(t, err)

	rec := report.Metrics
	assert.Equal(t, EventMassSwarmOperation, rec.Event)
	assert.Equal(t, report.OperationID, rec.OperationID)
	assert.Equal(t, 2, rec.Total)
	assert.Equal(t, 1, rec.RetriesUsed)
	assert.Equal(t, 3, rec.AttemptsTotal)

	history := o.MetricsHistory(0)
	require.Len(t, history, 3, "two swarm records and one mass record")
	assert.Equal(t, EventMassSwarmOperation, history[2].Event)
}
