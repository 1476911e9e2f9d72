package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nomis52/goswarm/config"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// Args holds the parsed command line.
type Args struct {
	SwarmConfig    string
	SwarmJSON      string
	Tasks          []string
	TasksJSON      string
	ContextJSON    string
	TargetAgents   []string
	CorrelationID  string
	Strategy       string
	MaxConcurrency *int
	Retries        *int
	Timeout        *float64
	FailFast       *bool
	ParallelTasks  *bool
	OutputFormat   string
	ReportOutput   string
	MetricsOutput  string
	MetricsPush    bool
	ShowVersion    bool
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parseArgs(argv []string, output io.Writer) (Args, error) {
	fs := flag.NewFlagSet("swarm", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		args           Args
		tasks          stringList
		targets        stringList
		maxConcurrency int
		retries        int
		timeout        float64
		failFast       bool
		noFailFast     bool
		parallelTasks  bool
		seqTasks       bool
	)

	fs.StringVar(&args.SwarmConfig, "swarm-config", "", "Path to a swarm payload file (YAML or JSON)")
	fs.StringVar(&args.SwarmJSON, "swarm-json", "", "Inline swarm payload JSON, merged over --swarm-config")
	fs.Var(&tasks, "task", "Task text (repeat for multiple tasks)")
	fs.StringVar(&args.TasksJSON, "tasks-json", "", "JSON array of task strings")
	fs.StringVar(&args.ContextJSON, "context-json", "", "JSON object merged over the payload context")
	fs.Var(&targets, "target-agent", "Run only the named agent (repeatable)")
	fs.StringVar(&args.CorrelationID, "correlation-id", "", "Trace correlation id")
	fs.StringVar(&args.Strategy, "strategy", "", "Execution strategy override: parallel or sequential")
	fs.IntVar(&maxConcurrency, "max-concurrency", 0, "Override max sub-agent concurrency")
	fs.IntVar(&retries, "retries", 0, "Override sub-agent retries")
	fs.Float64Var(&timeout, "timeout", 0, "Override sub-agent timeout in seconds")
	fs.BoolVar(&failFast, "fail-fast", false, "Enable fail-fast")
	fs.BoolVar(&noFailFast, "no-fail-fast", false, "Disable fail-fast")
	fs.BoolVar(&parallelTasks, "parallel-tasks", false, "Run mass tasks in parallel")
	fs.BoolVar(&seqTasks, "sequential-tasks", false, "Run mass tasks sequentially")
	fs.StringVar(&args.OutputFormat, "output-format", outputTable, "Output display format: table or json")
	fs.StringVar(&args.ReportOutput, "report-output", "", "Write the full report JSON to this file")
	fs.StringVar(&args.MetricsOutput, "metrics-output", "", "Write the emitted metrics records JSON to this file")
	fs.BoolVar(&args.MetricsPush, "metrics-push", false, "Push swarm metrics to monitoring.victoriametrics_url")
	fs.BoolVar(&args.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&args.ShowVersion, "v", false, "Show version information (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(output, "\nRun a swarm of agents over one or more tasks\n\n")
		fmt.Fprintf(output, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(output, "\nExamples:\n")
		fmt.Fprintf(output, "  %s --swarm-config swarm.yaml --task \"check disk\"\n", os.Args[0])
		fmt.Fprintf(output, "  %s --swarm-config swarm.yaml --task a --task b --sequential-tasks\n", os.Args[0])
		fmt.Fprintf(output, "  %s --swarm-json '{\"agents\":[{\"name\":\"w1\"}]}' --task ping --output-format json\n", os.Args[0])
	}

	if err := fs.Parse(argv); err != nil {
		return Args{}, err
	}
	if fs.NArg() > 0 {
		return Args{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	args.Tasks = tasks
	args.TargetAgents = targets
	if set["max-concurrency"] {
		args.MaxConcurrency = &maxConcurrency
	}
	if set["retries"] {
		args.Retries = &retries
	}
	if set["timeout"] {
		args.Timeout = &timeout
	}

	var err error
	if args.FailFast, err = toggle("fail-fast", set, failFast, "no-fail-fast", noFailFast); err != nil {
		return Args{}, err
	}
	if args.ParallelTasks, err = toggle("parallel-tasks", set, parallelTasks, "sequential-tasks", seqTasks); err != nil {
		return Args{}, err
	}

	if err := args.validate(); err != nil {
		return Args{}, err
	}
	return args, nil
}

// toggle resolves an --on/--off flag pair into an optional bool.
func toggle(on string, set map[string]bool, onValue bool, off string, offValue bool) (*bool, error) {
	if set[on] && set[off] {
		return nil, fmt.Errorf("--%s and --%s are mutually exclusive", on, off)
	}
	var v bool
	switch {
	case set[on]:
		v = onValue
	case set[off]:
		v = !offValue
	default:
		return nil, nil
	}
	return &v, nil
}

func (a Args) validate() error {
	if a.ShowVersion {
		return nil
	}
	switch a.Strategy {
	case "", "parallel", "sequential":
	default:
		return fmt.Errorf("invalid strategy %q: must be parallel or sequential", a.Strategy)
	}
	switch a.OutputFormat {
	case outputTable, outputJSON:
	default:
		return fmt.Errorf("invalid output format %q: must be table or json", a.OutputFormat)
	}
	if a.SwarmConfig == "" && strings.TrimSpace(a.SwarmJSON) == "" {
		return errors.New("one of --swarm-config or --swarm-json is required")
	}
	return nil
}

// overrides turns the inline payload, the context override and the policy
// flags into documents merged over the payload file, in that order.
func (a Args) overrides() ([]map[string]any, error) {
	var out []map[string]any

	if strings.TrimSpace(a.SwarmJSON) != "" {
		inline, err := config.ParseObject(a.SwarmJSON, "--swarm-json")
		if err != nil {
			return nil, err
		}
		out = append(out, inline)
	}

	if strings.TrimSpace(a.ContextJSON) != "" {
		ctxOverride, err := config.ParseObject(a.ContextJSON, "--context-json")
		if err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"context": ctxOverride})
	}

	orchestrator := map[string]any{}
	if a.Strategy != "" {
		orchestrator[config.KeyStrategy] = a.Strategy
	}
	if a.MaxConcurrency != nil {
		orchestrator[config.KeyMaxConcurrency] = *a.MaxConcurrency
	}
	if a.Retries != nil {
		orchestrator[config.KeyRetries] = *a.Retries
	}
	if a.Timeout != nil {
		orchestrator[config.KeyTimeout] = *a.Timeout
	}
	if a.FailFast != nil {
		orchestrator[config.KeyFailFast] = *a.FailFast
	}

	flags := map[string]any{}
	if len(orchestrator) > 0 {
		flags["orchestrator"] = orchestrator
	}
	if len(a.TargetAgents) > 0 {
		targets := make([]any, len(a.TargetAgents))
		for i, t := range a.TargetAgents {
			targets[i] = t
		}
		flags["target_agents"] = targets
	}
	if a.ParallelTasks != nil {
		flags["parallel_tasks"] = *a.ParallelTasks
	}
	if len(flags) > 0 {
		out = append(out, flags)
	}
	return out, nil
}

// loadPayload reads the payload file and applies every override.
func (a Args) loadPayload() (*config.Payload, error) {
	overrides, err := a.overrides()
	if err != nil {
		return nil, err
	}
	return config.Load(a.SwarmConfig, overrides...)
}
