package job

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/goswarm/config"
	"github.com/nomis52/goswarm/swarm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, raw map[string]any) *config.Payload {
	t.Helper()
	p, err := config.Decode(raw)
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	return p
}

func agents(names ...string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = map[string]any{"name": n}
	}
	return out
}

type recorder struct {
	mu      sync.Mutex
	records []swarm.MetricsRecord
}

func (r *recorder) ObserveMetrics(rec swarm.MetricsRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func TestRun_SingleTask(t *testing.T) {
	p := decode(t, map[string]any{
		"orchestrator": map[string]any{"name": "single"},
		"agents":       agents("a", "b"),
		"task":         "ping",
		"sub_tasks":    map[string]any{"b": "pong"},
	})

	res, err := Run(context.Background(), p, Options{Logger: testLogger(), CorrelationID: "corr_job"})
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.Nil(t, res.MassReport)

	assert.True(t, res.Success())
	assert.Equal(t, "single", res.Report.Orchestrator)
	assert.Equal(t, "corr_job", res.Report.CorrelationID)
	assert.Equal(t, res.Report.OperationID, res.OperationID())
	assert.Equal(t, swarm.EventSwarmOperation, res.Metrics().Event)

	require.Len(t, res.Report.Results, 2)
	out := res.Report.Results[1].Output.(map[string]any)
	assert.Equal(t, "pong", out["task"], "sub task replaces the task for b")
}

func TestRun_MassIgnoresSubTasks(t *testing.T) {
	p := decode(t, map[string]any{
		"agents":         agents("a", "b"),
		"tasks":          []any{"one", "two", "three"},
		"sub_tasks":      map[string]any{"b": "other"},
		"parallel_tasks": false,
	})

	res, err := Run(context.Background(), p, Options{Logger: testLogger()})
	require.NoError(t, err)
	require.NotNil(t, res.MassReport)
	assert.Nil(t, res.Report)

	assert.True(t, res.Success())
	assert.Equal(t, 3, res.MassReport.TotalTasks)
	assert.Equal(t, res.MassReport.OperationID, res.OperationID())
	assert.Equal(t, swarm.EventMassSwarmOperation, res.Metrics().Event)
	assert.Equal(t, config.DefaultOrchestratorName, res.MassReport.Orchestrator)

	for i, op := range res.MassReport.Operations {
		for _, r := range op.Results {
			out := r.Output.(map[string]any)
			assert.Equal(t, []string{"one", "two", "three"}[i], out["task"])
		}
	}
}

func TestRun_TaskOverrideAndTargets(t *testing.T) {
	p := decode(t, map[string]any{
		"agents":        agents("a", "b", "c"),
		"task":          "from payload",
		"target_agents": []any{"c", "a"},
	})

	res, err := Run(context.Background(), p, Options{Logger: testLogger(), Tasks: []string{"from flags"}})
	require.NoError(t, err)
	require.NotNil(t, res.Report)

	require.Len(t, res.Report.Results, 2)
	assert.Equal(t, "c", res.Report.Results[0].Agent)
	assert.Equal(t, "a", res.Report.Results[1].Agent)
	assert.Equal(t, "from flags", res.Report.Task)
}

func TestRun_ObserversAndOverrides(t *testing.T) {
	p := decode(t, map[string]any{
		"agents": []any{
			map[string]any{"name": "flaky", "failure_mode": "first_attempt"},
		},
		"task": "ping",
	})
	rec := &recorder{}

	res, err := Run(context.Background(), p, Options{
		Logger:    testLogger(),
		Observers: []swarm.MetricsObserver{rec},
		Overrides: []swarm.RunOption{swarm.WithRetries(1)},
	})
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, 2, res.Report.Results[0].Attempts)
	require.Len(t, rec.records, 1)
	assert.Equal(t, 1, rec.records[0].RetriesUsed)
}

func TestRun_Failure(t *testing.T) {
	p := decode(t, map[string]any{
		"agents": []any{
			map[string]any{"name": "ok"},
			map[string]any{"name": "bad", "failure_mode": "always"},
		},
		"task": "ping",
	})

	res, err := Run(context.Background(), p, Options{Logger: testLogger()})
	require.NoError(t, err, "worker failures are reported, not returned")
	assert.False(t, res.Success())
	assert.Equal(t, 1, res.Report.FailedAgents)
}

func TestRun_Errors(t *testing.T) {
	t.Run("no tasks", func(t *testing.T) {
		p := decode(t, map[string]any{"agents": agents("a")})
		_, err := Run(context.Background(), p, Options{Logger: testLogger()})
		assert.ErrorIs(t, err, config.ErrNoTasks)
	})

	t.Run("unknown target", func(t *testing.T) {
		p := decode(t, map[string]any{
			"agents":        agents("a"),
			"task":          "ping",
			"target_agents": []any{"ghost"},
		})
		_, err := Run(context.Background(), p, Options{Logger: testLogger()})
		assert.ErrorIs(t, err, swarm.ErrUnknownWorker)
	})

	t.Run("unknown kind", func(t *testing.T) {
		p := &config.Payload{
			Agents: []config.AgentConfig{{Name: "x", Kind: "carrier-pigeon"}},
			Task:   "ping",
		}
		_, err := Run(context.Background(), p, Options{Logger: testLogger()})
		assert.ErrorContains(t, err, `unknown kind "carrier-pigeon"`)
	})

	t.Run("agent named after orchestrator", func(t *testing.T) {
		p := decode(t, map[string]any{
			"orchestrator": map[string]any{"name": "hive"},
			"agents":       agents("hive"),
			"task":         "ping",
		})
		_, err := Run(context.Background(), p, Options{Logger: testLogger()})
		assert.ErrorIs(t, err, swarm.ErrSelfRegistration)
	})
}

func TestResult_Empty(t *testing.T) {
	var r Result
	assert.False(t, r.Success())
	assert.Empty(t, r.OperationID())
	assert.Equal(t, swarm.MetricsRecord{}, r.Metrics())
}

func TestRunOptions(t *testing.T) {
	p := decode(t, map[string]any{
		"agents":    agents("a"),
		"sub_tasks": map[string]any{"a": "x"},
	})

	assert.Len(t, RunOptions(p, 1), 2, "sub tasks and task mode")
	assert.Len(t, RunOptions(p, 2), 1, "task mode only")
}
