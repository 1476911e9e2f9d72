// Package runner manages swarm job runs for the goswarm server.
//
// The runner handles:
//   - Starting runs in the background
//   - Preventing concurrent runs
//   - Tracking current run status, including the events of the running job
//   - Maintaining history of completed runs
//
// A run executes one or more configured jobs in order. Each job re-reads its
// payload from the current configuration, so config changes take effect on
// the next run.
//
// # Example
//
//	r := runner.New(logger, configProvider)
//
//	if err := r.Run([]string{"probe"}); err != nil {
//	    if errors.Is(err, runner.ErrRunInProgress) {
//	        // Handle concurrent run attempt
//	    }
//	}
//
//	status := r.Status()
//	if status.State == runner.RunStateRunning {
//	    for _, jr := range status.JobRuns {
//	        fmt.Printf("%s: %d events\n", jr.Name, len(jr.Logs))
//	    }
//	}
//
//	history := r.History() // Most recent first
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/goswarm/job"
	"github.com/nomis52/goswarm/logging"
	srvconfig "github.com/nomis52/goswarm/server/config"
	"github.com/nomis52/goswarm/swarm"
)

const (
	defaultMaxHistorySize = 100
	maxLogsPerRun         = 2000
	runIDPrefix           = "run_"
	jobAttr               = "job"
)

var (
	// ErrRunInProgress is returned when attempting to start a run while one is already running.
	ErrRunInProgress = errors.New("swarm run already in progress")
	// ErrUnknownJob is returned when a run names a job that is not configured.
	ErrUnknownJob = errors.New("unknown job")
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *srvconfig.ServerConfig
}

// Runner manages run execution.
type Runner struct {
	logger         *slog.Logger
	configProvider ConfigProvider
	store          StateStore
	observers      []swarm.MetricsObserver
	logHook        logging.LoggerHook
	collector      *logging.LogCollector
	baseCtx        context.Context

	mu        sync.Mutex
	runStatus RunStatus
	current   string // job in progress
	done      chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithStateStore configures the runner to use the provided store for persistence.
func WithStateStore(store StateStore) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithMetricsObserver registers obs on the orchestrator of every job.
func WithMetricsObserver(obs swarm.MetricsObserver) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, obs)
	}
}

// WithBaseContext sets the context runs derive from. Cancelling it
// cancels the run in progress.
func WithBaseContext(ctx context.Context) Option {
	return func(r *Runner) {
		r.baseCtx = ctx
	}
}

// New creates a new Runner.
func New(logger *slog.Logger, provider ConfigProvider, opts ...Option) *Runner {
	collector := logging.NewLogCollector(maxLogsPerRun)
	r := &Runner{
		logger:         logger.With("component", "runner"),
		configProvider: provider,
		store:          NewMemoryStore(defaultMaxHistorySize),
		collector:      collector,
		logHook:        logging.NewCapturingLoggerHook(collector),
		baseCtx:        context.Background(),
		runStatus:      RunStatus{State: RunStateIdle},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts a run of the named jobs in the background. An empty list runs
// every configured job. Returns ErrRunInProgress if a run is already in
// progress and ErrUnknownJob if a job is not configured.
func (r *Runner) Run(jobs []string) error {
	jobs = append([]string(nil), jobs...)
	cfg := r.configProvider.Config()
	if cfg == nil {
		return errors.New("no configuration available")
	}

	if len(jobs) == 0 {
		for _, j := range cfg.Jobs {
			jobs = append(jobs, j.Name)
		}
	}
	available := cfg.JobNames()
	var unknown []string
	for _, j := range jobs {
		if !available[j] {
			unknown = append(unknown, j)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownJob, strings.Join(unknown, ", "))
	}

	runID, ok := r.tryStart(jobs)
	if !ok {
		return ErrRunInProgress
	}

	r.logger.Info("starting swarm run", "run_id", runID, "jobs", jobs)

	go func() {
		err := r.executeRun(r.baseCtx, runID, jobs)
		r.finish(err)
	}()

	return nil
}

// Status returns the current run status. While a run is in progress the job
// being executed carries the events captured so far. When idle, the last
// completed run is returned.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.runStatus
	status.JobRuns = append([]JobRun(nil), r.runStatus.JobRuns...)

	if status.State == RunStateRunning && r.current != "" && len(status.JobRuns) > 0 {
		last := &status.JobRuns[len(status.JobRuns)-1]
		last.Logs = r.jobLogs(status.ID, r.current)
	}
	return status
}

// IsRunning returns true if a run is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runStatus.State == RunStateRunning
}

// Wait blocks until the run in progress, if any, has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the history of completed runs, most recent first.
func (r *Runner) History() []RunSummary {
	return r.store.History()
}

// Lookup returns a completed run by id.
func (r *Runner) Lookup(id string) (RunStatus, bool) {
	return r.store.Run(id)
}

func (r *Runner) tryStart(jobs []string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runStatus.State == RunStateRunning {
		return "", false
	}

	now := time.Now()
	id := runIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	r.runStatus = RunStatus{
		RunSummary: RunSummary{
			ID:        id,
			Jobs:      append([]string(nil), jobs...),
			StartedAt: &now,
		},
		State: RunStateRunning,
	}
	r.done = make(chan struct{})
	return id, true
}

// finish transitions from running to idle and records the result.
func (r *Runner) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	endTime := time.Now()
	duration := endTime.Sub(*r.runStatus.StartedAt)

	r.runStatus.State = RunStateIdle
	r.runStatus.EndedAt = &endTime
	r.current = ""

	if err != nil {
		r.runStatus.Error = err.Error()
		r.runStatus.Success = false
		r.logger.Error("swarm run failed", "run_id", r.runStatus.ID, "error", err, "duration", duration)
	} else {
		r.runStatus.Success = true
		r.logger.Info("swarm run completed", "run_id", r.runStatus.ID, "duration", duration)
	}

	r.collector.Remove(r.runStatus.ID)

	if err := r.store.Save(r.runStatus); err != nil {
		r.logger.Error("failed to save run to store", "error", err)
	}

	close(r.done)
}

// executeRun runs the jobs in order. A failing job does not stop the ones
// after it; the returned error joins every job failure.
func (r *Runner) executeRun(ctx context.Context, runID string, jobs []string) error {
	var errs []error
	for _, name := range jobs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("run cancelled before job %s: %w", name, err))
			break
		}
		if err := r.executeJob(ctx, runID, name); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) executeJob(ctx context.Context, runID, name string) error {
	r.mu.Lock()
	r.current = name
	r.runStatus.JobRuns = append(r.runStatus.JobRuns, JobRun{Name: name, StartedAt: time.Now()})
	r.mu.Unlock()

	logger := r.logHook.LoggerFor(r.logger, runID).With(jobAttr, name)

	result, err := r.runJob(ctx, name, logger)
	if err != nil {
		logger.Error("job failed", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	end := time.Now()
	jr := &r.runStatus.JobRuns[len(r.runStatus.JobRuns)-1]
	jr.EndedAt = &end
	jr.Result = result
	jr.Logs = r.jobLogs(runID, name)
	r.current = ""

	if err != nil {
		jr.Error = err.Error()
		return err
	}
	jr.Success = result.Success()
	if !jr.Success {
		return errors.New("one or more workers failed")
	}
	return nil
}

func (r *Runner) runJob(ctx context.Context, name string, logger *slog.Logger) (*job.Result, error) {
	cfg := r.configProvider.Config()
	jobCfg, ok := cfg.Job(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	payload, err := jobCfg.LoadPayload()
	if err != nil {
		return nil, err
	}

	return job.Run(ctx, payload, job.Options{
		Logger:    logger,
		Observers: r.observers,
	})
}

// jobLogs returns the captured records of one job of a run.
func (r *Runner) jobLogs(runID, name string) []logging.LogEntry {
	var out []logging.LogEntry
	for _, e := range r.collector.GetLogs(runID) {
		if e.Attributes[jobAttr] == name {
			out = append(out, e)
		}
	}
	return out
}
