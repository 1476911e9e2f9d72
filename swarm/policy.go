package swarm

import "time"

const (
	DefaultMaxConcurrency      = 8
	DefaultTimeout             = 30 * time.Second
	DefaultRetries             = 0
	DefaultMaxTaskConcurrency  = 4
	DefaultMetricsHistoryLimit = 200
)

// Policy holds the dispatch defaults of an orchestrator. Individual calls can
// override the per-operation fields with RunOptions.
type Policy struct {
	Strategy       Strategy
	MaxConcurrency int
	// Timeout bounds each attempt. Zero means no timeout.
	Timeout        time.Duration
	Retries        int
	FailFast       bool
	IsolateContext bool

	// MaxTaskConcurrency bounds concurrent operations in mass mode.
	MaxTaskConcurrency int
	// MetricsLogging registers the built-in observer that logs each record.
	MetricsLogging      bool
	MetricsHistoryLimit int
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:            Parallel,
		MaxConcurrency:      DefaultMaxConcurrency,
		Timeout:             DefaultTimeout,
		Retries:             DefaultRetries,
		FailFast:            false,
		IsolateContext:      true,
		MaxTaskConcurrency:  DefaultMaxTaskConcurrency,
		MetricsLogging:      true,
		MetricsHistoryLimit: DefaultMetricsHistoryLimit,
	}
}

// normalized clamps out-of-range values.
func (p Policy) normalized() Policy {
	if p.Strategy != Sequential {
		p.Strategy = Parallel
	}
	p.MaxConcurrency = max(1, p.MaxConcurrency)
	if p.Timeout < 0 {
		p.Timeout = 0
	}
	p.Retries = max(0, p.Retries)
	p.MaxTaskConcurrency = max(1, p.MaxTaskConcurrency)
	p.MetricsHistoryLimit = max(1, p.MetricsHistoryLimit)
	return p
}

// runSettings is the effective configuration of one swarm operation.
type runSettings struct {
	targets        []string
	targetsSet     bool
	subTasks       map[string]string
	strategy       Strategy
	maxConcurrency int
	timeout        time.Duration
	retries        int
	failFast       bool
	correlationID  string
	operationID    string
	parallelTasks  bool
}

// RunOption overrides an orchestrator default for a single call.
type RunOption func(*runSettings)

// WithTargets restricts the operation to the named workers, in this order.
// Calling it with no names selects no workers; leaving the option out selects
// every registered worker in registration order.
func WithTargets(names ...string) RunOption {
	return func(s *runSettings) {
		s.targets = append([]string{}, names...)
		s.targetsSet = true
	}
}

// WithSubTasks substitutes the task text for individual workers.
func WithSubTasks(tasks map[string]string) RunOption {
	return func(s *runSettings) {
		s.subTasks = tasks
	}
}

// WithStrategy overrides the dispatch strategy.
func WithStrategy(strategy Strategy) RunOption {
	return func(s *runSettings) {
		s.strategy = strategy
	}
}

// WithMaxConcurrency overrides the parallel concurrency window. Values below
// one are clamped to one.
func WithMaxConcurrency(n int) RunOption {
	return func(s *runSettings) {
		s.maxConcurrency = max(1, n)
	}
}

// WithTimeout overrides the per-attempt timeout. Non-positive values disable it.
func WithTimeout(d time.Duration) RunOption {
	return func(s *runSettings) {
		s.timeout = max(0, d)
	}
}

// WithRetries overrides the number of extra attempts. Negative values are
// treated as zero.
func WithRetries(n int) RunOption {
	return func(s *runSettings) {
		s.retries = max(0, n)
	}
}

// WithFailFast overrides the fail-fast policy.
func WithFailFast(enabled bool) RunOption {
	return func(s *runSettings) {
		s.failFast = enabled
	}
}

// WithCorrelationID sets the correlation id instead of deriving it from the
// context metadata.
func WithCorrelationID(id string) RunOption {
	return func(s *runSettings) {
		s.correlationID = id
	}
}

// WithOperationID sets the operation id instead of generating one.
func WithOperationID(id string) RunOption {
	return func(s *runSettings) {
		s.operationID = id
	}
}

// WithParallelTasks selects concurrent (default) or sequential task execution
// in mass mode. It has no effect on ExecuteSwarm.
func WithParallelTasks(enabled bool) RunOption {
	return func(s *runSettings) {
		s.parallelTasks = enabled
	}
}

func (p Policy) settings(opts []RunOption) runSettings {
	s := runSettings{
		strategy:       p.Strategy,
		maxConcurrency: p.MaxConcurrency,
		timeout:        p.Timeout,
		retries:        p.Retries,
		failFast:       p.FailFast,
		parallelTasks:  true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.strategy != Sequential {
		s.strategy = Parallel
	}
	return s
}

// forward rebuilds the options that a mass operation passes to each of its
// swarm operations.
func (s runSettings) forward(operationID string) []RunOption {
	opts := []RunOption{
		WithStrategy(s.strategy),
		WithMaxConcurrency(s.maxConcurrency),
		WithTimeout(s.timeout),
		WithRetries(s.retries),
		WithFailFast(s.failFast),
		WithCorrelationID(s.correlationID),
		WithOperationID(operationID),
	}
	if s.targetsSet {
		opts = append(opts, WithTargets(s.targets...))
	}
	if s.subTasks != nil {
		opts = append(opts, WithSubTasks(s.subTasks))
	}
	return opts
}
