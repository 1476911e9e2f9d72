package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/goswarm/server/runner"
)

const serverYAML = `
log_level: warn
history_size: 5
jobs:
  - name: probe
    swarm_config: probe.yaml
  - name: batch
    payload:
      agents: [{name: solo}]
      tasks: [one, two]
cron:
  - jobs: [probe]
    schedule: "0 3 * * *"
`

const probeYAML = `
orchestrator:
  name: prober
agents:
  - name: a
  - name: b
    failure_mode: first_attempt
  - name: c
task: ping
`

func writeServerConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "probe.yaml"), []byte(probeYAML), 0o600))
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitIdle(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Runner().Wait(ctx))
}

func TestServer_RunAndInspect(t *testing.T) {
	s, err := New(writeServerConfig(t, serverYAML))
	require.NoError(t, err)
	h := s.Handler()

	assert.Contains(t, do(t, h, http.MethodGet, "/health", "").Body.String(), `"status":"ok"`)

	w := do(t, h, http.MethodGet, "/jobs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"probe"`)
	assert.Contains(t, w.Body.String(), `"name":"batch"`)

	w = do(t, h, http.MethodPost, "/run", `{"jobs":["probe","batch"]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	waitIdle(t, s)

	w = do(t, h, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history []runner.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.False(t, history[0].Success, "b fails on its first call and retries are off")

	w = do(t, h, http.MethodGet, "/history/"+history[0].ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var run runner.RunStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Len(t, run.JobRuns, 2)
	require.NotNil(t, run.JobRuns[0].Result.Report)
	assert.Equal(t, "prober", run.JobRuns[0].Result.Report.Orchestrator)
	assert.Equal(t, 2, run.JobRuns[0].Result.Report.SuccessfulAgents)
	assert.True(t, run.JobRuns[1].Success)
	assert.NotEmpty(t, run.JobRuns[1].Logs)

	w = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `goswarm_operations_total{event="swarm_operation",orchestrator="prober",outcome="failure",strategy="parallel"} 1`)
	assert.Contains(t, body, `goswarm_operations_total{event="mass_swarm_operation",orchestrator="swarm_cli_orchestrator",outcome="success"`)
	assert.Contains(t, body, "goswarm_uptime_seconds")

	w = do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scheduled":true`)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
	assert.Contains(t, w.Body.String(), `"version":`)
}

func TestServer_RunRejectsUnknownJob(t *testing.T) {
	s, err := New(writeServerConfig(t, serverYAML))
	require.NoError(t, err)

	w := do(t, s.Handler(), http.MethodPost, "/run", `{"jobs":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown job: nope")
}

func TestServer_Reload(t *testing.T) {
	path := writeServerConfig(t, serverYAML)
	s, err := New(path)
	require.NoError(t, err)
	require.NotNil(t, s.NextRun())

	updated := strings.Replace(serverYAML, "cron:\n  - jobs: [probe]\n    schedule: \"0 3 * * *\"\n", "", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	w := do(t, s.Handler(), http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, s.NextRun(), "cron triggers follow the reloaded config")

	require.NoError(t, os.WriteFile(path, []byte("jobs: []\n"), 0o600))
	w = do(t, s.Handler(), http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, s.Config().Jobs, 2, "a failed reload keeps the previous config")

	w = do(t, s.Handler(), http.MethodGet, "/config", "")
	assert.Contains(t, w.Body.String(), "name: batch")
}

func TestServer_WithCron(t *testing.T) {
	path := writeServerConfig(t, serverYAML)

	s, err := New(path, WithCron("batch:*/5 * * * *"))
	require.NoError(t, err)
	require.NotNil(t, s.NextRun())
	assert.Equal(t, 0, s.NextRun().Minute()%5)

	_, err = New(path, WithCron("ghost:* * * * *"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job 'ghost'")
}

func TestServer_StateDir(t *testing.T) {
	stateDir := t.TempDir()
	path := writeServerConfig(t, serverYAML+"state_dir: "+stateDir+"\n")

	s, err := New(path)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, do(t, s.Handler(), http.MethodPost, "/run", `{"jobs":["batch"]}`).Code)
	waitIdle(t, s)

	files, err := os.ReadDir(stateDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	reopened, err := New(path)
	require.NoError(t, err)
	assert.Len(t, reopened.Runner().History(), 1)
	assert.Equal(t, http.StatusNoContent, do(t, reopened.Handler(), http.MethodPost, "/history/reload", "").Code)
}

func TestServer_RunShutsDown(t *testing.T) {
	s, err := New(writeServerConfig(t, serverYAML), WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(writeServerConfig(t, "jobs: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one job")

	_, err = New(writeServerConfig(t, serverYAML+"log_level: loud\n"))
	require.Error(t, err)
}
