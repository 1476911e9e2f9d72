package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nomis52/goswarm/buildinfo"
	"github.com/nomis52/goswarm/config"
	"github.com/nomis52/goswarm/job"
	"github.com/nomis52/goswarm/logging"
	"github.com/nomis52/goswarm/metrics"
	"github.com/nomis52/goswarm/swarm"
	"github.com/nomis52/goswarm/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	if args.ShowVersion {
		showVersion(os.Stdout)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return execute(ctx, args, os.Stdout)
}

// execute runs the swarm described by args and writes the report to out.
func execute(ctx context.Context, args Args, out io.Writer) error {
	payload, err := args.loadPayload()
	if err != nil {
		return fmt.Errorf("failed to load swarm payload: %w", err)
	}

	tasks, err := payload.ResolveTasks(args.Tasks, args.TasksJSON)
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:     payload.Logging.Level,
		Format:    payload.Logging.Format,
		Output:    payload.Logging.Output,
		AddSource: payload.Logging.AddSource,
	}
	// The report owns stdout.
	if logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	props := buildinfo.Get()
	logger.Info("goswarm started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"swarm_config", args.SwarmConfig,
		"tasks", len(tasks),
	)

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:       payload.Tracing.Exporter,
		Endpoint:       payload.Tracing.Endpoint,
		Insecure:       payload.Tracing.Insecure,
		ServiceName:    payload.Tracing.ServiceName,
		ServiceVersion: props.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	recorder := &metricsRecorder{}
	observers := []swarm.MetricsObserver{recorder}

	var registry *metrics.PushRegistry
	if args.MetricsPush {
		registry, err = newPushRegistry(payload)
		if err != nil {
			return err
		}
		observer, err := metrics.NewSwarmObserver(registry)
		if err != nil {
			return fmt.Errorf("failed to create swarm metrics: %w", err)
		}
		observers = append(observers, observer)
	}

	result, err := job.Run(ctx, payload, job.Options{
		Logger:        logger.Logger,
		Tasks:         tasks,
		CorrelationID: args.CorrelationID,
		Observers:     observers,
	})
	if err != nil {
		return fmt.Errorf("swarm run failed: %w", err)
	}

	if args.OutputFormat == outputJSON {
		enc := newJSONEncoder(out)
		if err := enc.Encode(reportValue(result)); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	} else {
		fmt.Fprint(out, formatReport(result))
	}

	if args.ReportOutput != "" {
		if err := writeJSON(args.ReportOutput, reportValue(result)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report written to %s\n", args.ReportOutput)
	}

	if args.MetricsOutput != "" {
		if err := writeJSON(args.MetricsOutput, recorder.Records()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Metrics written to %s\n", args.MetricsOutput)
	}

	if registry != nil {
		if err := registry.Push(ctx); err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
		logger.Info("metrics pushed", "url", payload.Monitoring.VictoriaMetricsURL)
	}

	return nil
}

func newPushRegistry(payload *config.Payload) (*metrics.PushRegistry, error) {
	if payload.Monitoring.VictoriaMetricsURL == "" {
		return nil, errors.New("--metrics-push requires monitoring.victoriametrics_url")
	}
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	return metrics.NewPushRegistry(metrics.PushConfig{
		URL:      payload.Monitoring.VictoriaMetricsURL,
		Prefix:   payload.Monitoring.MetricsPrefix,
		Job:      payload.Monitoring.JobName,
		Instance: hostname,
	}), nil
}

// metricsRecorder keeps every record published during the run.
type metricsRecorder struct {
	mu      sync.Mutex
	records []swarm.MetricsRecord
}

func (m *metricsRecorder) ObserveMetrics(rec swarm.MetricsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *metricsRecorder) Records() []swarm.MetricsRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]swarm.MetricsRecord{}, m.records...)
}

func showVersion(w io.Writer) {
	props := buildinfo.Get()
	fmt.Fprintf(w, "goswarm %s\n", props.Version)
	fmt.Fprintf(w, "Built: %s\n", props.BuildTime)
	fmt.Fprintf(w, "Commit: %s\n", props.GitCommit)
}
