package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/goswarm/swarm"
)

const examplePayload = `
orchestrator:
  name: load_test
  strategy: sequential
  max_concurrency: 3
  sub_agent_timeout: 1.5
  sub_agent_retries: 2
  fail_fast: "yes"
agents:
  - name: alpha
    delay_ms: 10
  - name: beta
    failure_mode: first_attempt
    fail_on_calls: [3]
    result_payload:
      region: eu
  - name: remote
    kind: ssh
    host: 10.0.0.5
    user: ops
context:
  session_id: s-1
  metadata:
    tenant: acme
    nested:
      keep: true
tasks: [one, two]
target_agents: [beta, alpha]
`

func writePayload(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	p, err := Load(writePayload(t, examplePayload))
	require.NoError(t, err)

	assert.Equal(t, "load_test", p.OrchestratorName())
	require.Len(t, p.Agents, 3)
	assert.Equal(t, KindSynthetic, p.Agents[0].Kind)
	assert.Equal(t, 10, p.Agents[0].DelayMS)
	assert.Equal(t, []int{3}, p.Agents[1].FailOnCalls)
	assert.Equal(t, "eu", p.Agents[1].ResultPayload["region"])
	assert.Equal(t, KindSSH, p.Agents[2].Kind)
	assert.Equal(t, []string{"beta", "alpha"}, p.TargetAgents)

	pol := p.Policy()
	assert.Equal(t, swarm.Sequential, pol.Strategy)
	assert.Equal(t, 3, pol.MaxConcurrency)
	assert.Equal(t, 1500*time.Millisecond, pol.Timeout)
	assert.Equal(t, 2, pol.Retries)
	assert.True(t, pol.FailFast)
	assert.True(t, pol.IsolateContext)
	assert.Equal(t, swarm.DefaultMaxTaskConcurrency, pol.MaxTaskConcurrency)

	assert.Equal(t, "goswarm", p.Monitoring.MetricsPrefix)
	assert.Equal(t, "info", p.Logging.Level)
	assert.Equal(t, "none", p.Tracing.Exporter)
}

func TestLoadPayload_InlineJSONDeepMerges(t *testing.T) {
	path := writePayload(t, examplePayload)

	p, err := LoadPayload(path, `{"orchestrator": {"max_concurrency": 7}, "context": {"metadata": {"tenant": "globex"}}}`)
	require.NoError(t, err)

	pol := p.Policy()
	assert.Equal(t, 7, pol.MaxConcurrency)
	assert.Equal(t, swarm.Sequential, pol.Strategy, "sibling keys survive the merge")
	assert.Equal(t, "globex", p.Context.Metadata["tenant"])
	assert.Equal(t, map[string]any{"keep": true}, p.Context.Metadata["nested"])
	assert.Equal(t, "s-1", p.Context.SessionID)
}

func TestLoadPayload_InlineOnly(t *testing.T) {
	p, err := LoadPayload("", `{"agents": [{"name": "solo"}], "task": 42}`)
	require.NoError(t, err)

	tasks, err := p.ResolveTasks(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, tasks)
	assert.Equal(t, DefaultOrchestratorName, p.OrchestratorName())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		inline  string
		wantErr error
		wantMsg string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.yaml") },
			wantMsg: "failed to read swarm config",
		},
		{
			name:    "file is not an object",
			path:    func(t *testing.T) string { return writePayload(t, "[1, 2]") },
			wantMsg: "must contain an object",
		},
		{
			name:    "inline is not an object",
			path:    func(*testing.T) string { return "" },
			inline:  `["a"]`,
			wantMsg: "must be a JSON object",
		},
		{
			name:    "no agents",
			path:    func(*testing.T) string { return "" },
			inline:  `{"task": "x"}`,
			wantErr: ErrNoWorkers,
		},
		{
			name:    "agent without name",
			path:    func(*testing.T) string { return "" },
			inline:  `{"agents": [{"delay_ms": 1}]}`,
			wantMsg: "requires a name",
		},
		{
			name:    "ssh agent without host",
			path:    func(*testing.T) string { return "" },
			inline:  `{"agents": [{"name": "r", "kind": "ssh", "user": "u"}]}`,
			wantMsg: "requires a host",
		},
		{
			name:    "unknown kind",
			path:    func(*testing.T) string { return "" },
			inline:  `{"agents": [{"name": "r", "kind": "lambda"}]}`,
			wantMsg: "unknown kind",
		},
		{
			name:    "unknown exporter",
			path:    func(*testing.T) string { return "" },
			inline:  `{"agents": [{"name": "r"}], "tracing": {"exporter": "zipkin"}}`,
			wantMsg: "unknown tracing exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPayload(tt.path(t), tt.inline)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestDeepMerge(t *testing.T) {
	base := map[string]any{
		"a": 1,
		"nested": map[string]any{
			"x": 1,
			"y": map[string]any{"deep": "base"},
		},
		"list": []any{1, 2},
	}
	override := map[string]any{
		"nested": map[string]any{
			"y": map[string]any{"extra": true},
		},
		"list": []any{3},
		"b":    "new",
	}

	merged := DeepMerge(base, override)
	assert.Equal(t, map[string]any{
		"a": 1,
		"nested": map[string]any{
			"x": 1,
			"y": map[string]any{"deep": "base", "extra": true},
		},
		"list": []any{3},
		"b":    "new",
	}, merged)
	assert.NotContains(t, base, "b", "base is not modified")
	assert.NotContains(t, base["nested"].(map[string]any)["y"], "extra")
}

func TestPolicy_Coercion(t *testing.T) {
	tests := []struct {
		name  string
		orch  map[string]any
		check func(t *testing.T, p swarm.Policy)
	}{
		{
			name: "defaults",
			orch: map[string]any{},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, swarm.DefaultPolicy(), p)
			},
		},
		{
			name: "non-positive concurrency clamps to one",
			orch: map[string]any{KeyMaxConcurrency: -4, KeyMaxTaskConcurrency: 0},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, 1, p.MaxConcurrency)
				assert.Equal(t, 1, p.MaxTaskConcurrency)
			},
		},
		{
			name: "malformed integers keep defaults",
			orch: map[string]any{KeyMaxConcurrency: "lots", KeyRetries: []any{1}},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, swarm.DefaultMaxConcurrency, p.MaxConcurrency)
				assert.Equal(t, 0, p.Retries)
			},
		},
		{
			name: "numeric strings",
			orch: map[string]any{KeyMaxConcurrency: " 5 ", KeyRetries: "2", KeyTimeout: "0.25"},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, 5, p.MaxConcurrency)
				assert.Equal(t, 2, p.Retries)
				assert.Equal(t, 250*time.Millisecond, p.Timeout)
			},
		},
		{
			name: "negative retries clamp to zero",
			orch: map[string]any{KeyRetries: -1},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, 0, p.Retries)
			},
		},
		{
			name: "null timeout disables it",
			orch: map[string]any{KeyTimeout: nil},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, time.Duration(0), p.Timeout)
			},
		},
		{
			name: "unknown strategy is parallel",
			orch: map[string]any{KeyStrategy: "round_robin"},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, swarm.Parallel, p.Strategy)
			},
		},
		{
			name: "boolean strings",
			orch: map[string]any{KeyFailFast: "on", KeyIsolateContext: "off", KeyMetricsLogging: 0},
			check: func(t *testing.T, p swarm.Policy) {
				assert.True(t, p.FailFast)
				assert.False(t, p.IsolateContext)
				assert.False(t, p.MetricsLogging)
			},
		},
		{
			name: "history limit",
			orch: map[string]any{KeyMetricsHistoryLimit: 5.0},
			check: func(t *testing.T, p swarm.Policy) {
				assert.Equal(t, 5, p.MetricsHistoryLimit)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payload{Orchestrator: tt.orch}
			tt.check(t, p.Policy())
		})
	}
}

func TestCoerceBool(t *testing.T) {
	for _, v := range []any{true, "true", "TRUE", "1", "yes", "on", " On ", 1, 2.5} {
		assert.True(t, CoerceBool(v), "%#v", v)
	}
	for _, v := range []any{false, "false", "0", "no", "off", "maybe", "", 0, 0.0, nil, []any{}} {
		assert.False(t, CoerceBool(v), "%#v", v)
	}
}

func TestCoerceTimeout(t *testing.T) {
	tests := []struct {
		in   any
		want time.Duration
	}{
		{in: 30, want: 30 * time.Second},
		{in: 0.05, want: 50 * time.Millisecond},
		{in: "2", want: 2 * time.Second},
		{in: 0, want: 0},
		{in: -1, want: 0},
		{in: nil, want: 0},
		{in: "soon", want: 0},
		{in: true, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CoerceTimeout(tt.in), "%#v", tt.in)
	}
}

func TestResolveTasks(t *testing.T) {
	p := &Payload{Task: "single", Tasks: []any{"p1", 2}}

	tasks, err := p.ResolveTasks([]string{"f1", "", "f2"}, `["j1", 3]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2", "j1", "3"}, tasks)

	tasks, err = p.ResolveTasks(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "2"}, tasks)

	p.Tasks = nil
	tasks, err = p.ResolveTasks(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"single"}, tasks)

	p.Task = nil
	_, err = p.ResolveTasks(nil, "")
	assert.ErrorIs(t, err, ErrNoTasks)

	_, err = p.ResolveTasks(nil, `{"not": "a list"}`)
	assert.ErrorContains(t, err, "must be a JSON array")
}

func TestParallelTaskMode(t *testing.T) {
	assert.True(t, (&Payload{}).ParallelTaskMode())
	assert.False(t, (&Payload{ParallelTasks: false}).ParallelTaskMode())
	assert.False(t, (&Payload{ParallelTasks: "no"}).ParallelTaskMode())
	assert.True(t, (&Payload{ParallelTasks: "yes"}).ParallelTaskMode())
}

func TestExecutionContext(t *testing.T) {
	p := &Payload{Context: ContextConfig{
		UserID:   "u-1",
		Metadata: map[string]any{"tenant": "acme", swarm.MetaCorrelationID: "from-payload"},
		State:    map[string]any{"step": 1},
	}}

	ec := p.ExecutionContext("")
	assert.Regexp(t, `^swarm_cli_[0-9a-f]{10}$`, ec.SessionID)
	assert.Equal(t, "u-1", ec.UserID)
	assert.Equal(t, "acme", ec.Metadata["tenant"])
	assert.Equal(t, "from-payload", ec.Metadata[swarm.MetaCorrelationID])
	assert.Equal(t, 1, ec.State["step"])

	ec.Metadata["tenant"] = "changed"
	assert.Equal(t, "acme", p.Context.Metadata["tenant"], "payload metadata is copied")

	ec = p.ExecutionContext("from-flag")
	assert.Equal(t, "from-flag", ec.Metadata[swarm.MetaCorrelationID])

	p.Context.SessionID = "fixed"
	assert.Equal(t, "fixed", p.ExecutionContext("").SessionID)
}
