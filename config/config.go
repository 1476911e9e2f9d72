package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nomis52/goswarm/swarm"
)

const (
	// DefaultOrchestratorName names the orchestrator when the payload does not.
	DefaultOrchestratorName = "swarm_cli_orchestrator"

	// Agent kinds
	KindSynthetic = "synthetic"
	KindSSH       = "ssh"

	// Default monitoring settings
	defaultMetricsPrefix = "goswarm"
	defaultJobName       = "goswarm"

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultLogOutput = "stdout"

	// Default tracing settings
	defaultTraceExporter = "none"
	defaultServiceName   = "goswarm"

	sessionPrefix = "swarm_cli_"
)

// Orchestrator option keys.
const (
	KeyName                = "name"
	KeyStrategy            = "strategy"
	KeyMaxConcurrency      = "max_concurrency"
	KeyTimeout             = "sub_agent_timeout"
	KeyRetries             = "sub_agent_retries"
	KeyFailFast            = "fail_fast"
	KeyIsolateContext      = "isolate_context"
	KeyMaxTaskConcurrency  = "max_task_concurrency"
	KeyMetricsLogging      = "metrics_logging"
	KeyMetricsHistoryLimit = "metrics_history_limit"
)

var (
	// ErrNoWorkers is returned when a payload declares no agents.
	ErrNoWorkers = errors.New("swarm config requires at least one agent")
	// ErrNoTasks is returned when no task could be resolved from flags or payload.
	ErrNoTasks = errors.New("no task provided")
)

// Payload is a complete swarm run description.
//
// The orchestrator section is kept loosely typed: its values are coerced
// leniently by Policy, the way options arriving from JSON are expected to be.
type Payload struct {
	Orchestrator  map[string]any    `yaml:"orchestrator" json:"orchestrator"`
	Agents        []AgentConfig     `yaml:"agents" json:"agents"`
	Context       ContextConfig     `yaml:"context" json:"context"`
	Task          any               `yaml:"task" json:"task,omitempty"`
	Tasks         []any             `yaml:"tasks" json:"tasks,omitempty"`
	TargetAgents  []string          `yaml:"target_agents" json:"target_agents,omitempty"`
	SubTasks      map[string]string `yaml:"sub_tasks" json:"sub_tasks,omitempty"`
	ParallelTasks any               `yaml:"parallel_tasks" json:"parallel_tasks,omitempty"`
	Logging       LoggingConfig     `yaml:"logging" json:"logging"`
	Monitoring    MonitoringConfig  `yaml:"monitoring" json:"monitoring"`
	Tracing       TracingConfig     `yaml:"tracing" json:"tracing"`
}

// AgentConfig declares one worker.
type AgentConfig struct {
	Name string `yaml:"name" json:"name"`
	// Kind is synthetic (the default) or ssh.
	Kind string `yaml:"kind" json:"kind"`

	// Synthetic settings
	DelayMS       int            `yaml:"delay_ms" json:"delay_ms,omitempty"`
	FailureMode   string         `yaml:"failure_mode" json:"failure_mode,omitempty"`
	FailOnCalls   []int          `yaml:"fail_on_calls" json:"fail_on_calls,omitempty"`
	ResultPayload map[string]any `yaml:"result_payload" json:"result_payload,omitempty"`

	// SSH settings
	Host           string        `yaml:"host" json:"host,omitempty"`
	Port           int           `yaml:"port" json:"port,omitempty"`
	User           string        `yaml:"user" json:"user,omitempty"`
	PrivateKeyFile string        `yaml:"private_key_file" json:"private_key_file,omitempty"`
	KnownHostsFile string        `yaml:"known_hosts_file" json:"known_hosts_file,omitempty"`
	DialTimeout    time.Duration `yaml:"dial_timeout" json:"dial_timeout,omitempty"`
}

// ContextConfig seeds the ExecutionContext of a run.
type ContextConfig struct {
	SessionID string         `yaml:"session_id" json:"session_id"`
	UserID    string         `yaml:"user_id" json:"user_id"`
	Metadata  map[string]any `yaml:"metadata" json:"metadata"`
	State     map[string]any `yaml:"state" json:"state"`
}

// LoggingConfig defines logging behavior settings
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	Output    string `yaml:"output" json:"output"`
	AddSource bool   `yaml:"add_source" json:"add_source"`
}

// MonitoringConfig holds metrics and monitoring settings
type MonitoringConfig struct {
	VictoriaMetricsURL string `yaml:"victoriametrics_url" json:"victoriametrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix" json:"metrics_prefix"`
	JobName            string `yaml:"jobname" json:"jobname"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is one of none, stdout or otlp.
	Exporter    string `yaml:"exporter" json:"exporter"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Insecure    bool   `yaml:"insecure" json:"insecure"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// Load reads the payload file at path, if any, then deep-merges each override
// over it in order. Defaults are applied and the result validated.
func Load(path string, overrides ...map[string]any) (*Payload, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read swarm config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("swarm config %s must contain an object: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}
	for _, o := range overrides {
		raw = DeepMerge(raw, o)
	}

	p, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPayload loads the payload from a file and an inline JSON object, the
// latter taking precedence.
func LoadPayload(path, inlineJSON string) (*Payload, error) {
	var overrides []map[string]any
	if strings.TrimSpace(inlineJSON) != "" {
		inline, err := ParseObject(inlineJSON, "inline swarm payload")
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, inline)
	}
	return Load(path, overrides...)
}

// Decode converts a raw merged document into a Payload and applies defaults.
func Decode(raw map[string]any) (*Payload, error) {
	var node yaml.Node
	if err := node.Encode(raw); err != nil {
		return nil, fmt.Errorf("failed to encode swarm payload: %w", err)
	}
	var p Payload
	if err := node.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode swarm payload: %w", err)
	}
	p.SetDefaults()
	return &p, nil
}

// ParseObject parses s as a JSON (or YAML) object. what names the input in errors.
func ParseObject(s, what string) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", what, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a JSON object", what)
	}
	return m, nil
}

// ParseList parses s as a JSON (or YAML) array of scalars.
func ParseList(s, what string) ([]string, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", what, err)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a JSON array", what)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, stringify(item))
	}
	return out, nil
}

// DeepMerge returns base with override merged in. Nested objects are merged
// recursively; any other override value replaces the base value. Neither
// input is modified.
func DeepMerge(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := merged[k].(map[string]any); ok {
				merged[k] = DeepMerge(bv, ov)
				continue
			}
		}
		merged[k] = v
	}
	return merged
}

// SetDefaults sets reasonable default values for optional fields
func (p *Payload) SetDefaults() {
	if p.Orchestrator == nil {
		p.Orchestrator = map[string]any{}
	}
	for i := range p.Agents {
		if p.Agents[i].Kind == "" {
			p.Agents[i].Kind = KindSynthetic
		}
	}
	if p.Monitoring.MetricsPrefix == "" {
		p.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if p.Monitoring.JobName == "" {
		p.Monitoring.JobName = defaultJobName
	}
	if p.Logging.Level == "" {
		p.Logging.Level = defaultLogLevel
	}
	if p.Logging.Format == "" {
		p.Logging.Format = defaultLogFormat
	}
	if p.Logging.Output == "" {
		p.Logging.Output = defaultLogOutput
	}
	if p.Tracing.Exporter == "" {
		p.Tracing.Exporter = defaultTraceExporter
	}
	if p.Tracing.ServiceName == "" {
		p.Tracing.ServiceName = defaultServiceName
	}
}

// Validate performs basic validation on the payload
func (p *Payload) Validate() error {
	if len(p.Agents) == 0 {
		return ErrNoWorkers
	}
	for i, a := range p.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("agent %d requires a name", i)
		}
		switch a.Kind {
		case KindSynthetic:
		case KindSSH:
			if a.Host == "" {
				return fmt.Errorf("ssh agent %s requires a host", a.Name)
			}
			if a.User == "" {
				return fmt.Errorf("ssh agent %s requires a user", a.Name)
			}
		default:
			return fmt.Errorf("agent %s has unknown kind %q", a.Name, a.Kind)
		}
	}
	switch p.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown tracing exporter %q", p.Tracing.Exporter)
	}
	return nil
}

// OrchestratorName returns the configured orchestrator name.
func (p *Payload) OrchestratorName() string {
	if name := stringify(p.Orchestrator[KeyName]); strings.TrimSpace(name) != "" {
		return name
	}
	return DefaultOrchestratorName
}

// Policy coerces the orchestrator section into a swarm.Policy. Missing keys
// keep their defaults; malformed values fall back the same way, except for
// sub_agent_timeout where a malformed, null or non-positive value disables the
// timeout.
func (p *Payload) Policy() swarm.Policy {
	pol := swarm.DefaultPolicy()
	o := p.Orchestrator

	if v, ok := o[KeyStrategy]; ok {
		pol.Strategy = swarm.ParseStrategy(stringify(v))
	}
	pol.MaxConcurrency = max(1, coerceInt(o, KeyMaxConcurrency, pol.MaxConcurrency))
	if v, ok := o[KeyTimeout]; ok {
		pol.Timeout = CoerceTimeout(v)
	}
	pol.Retries = max(0, coerceInt(o, KeyRetries, pol.Retries))
	if v, ok := o[KeyFailFast]; ok {
		pol.FailFast = CoerceBool(v)
	}
	if v, ok := o[KeyIsolateContext]; ok {
		pol.IsolateContext = CoerceBool(v)
	}
	pol.MaxTaskConcurrency = max(1, coerceInt(o, KeyMaxTaskConcurrency, pol.MaxTaskConcurrency))
	if v, ok := o[KeyMetricsLogging]; ok {
		pol.MetricsLogging = CoerceBool(v)
	}
	pol.MetricsHistoryLimit = max(1, coerceInt(o, KeyMetricsHistoryLimit, pol.MetricsHistoryLimit))
	return pol
}

// ParallelTaskMode reports whether multiple tasks run concurrently. Defaults to true.
func (p *Payload) ParallelTaskMode() bool {
	if p.ParallelTasks == nil {
		return true
	}
	return CoerceBool(p.ParallelTasks)
}

// ResolveTasks returns the tasks to run. Flag tasks and the JSON task list
// win over the payload; payload tasks win over the single payload task.
func (p *Payload) ResolveTasks(flagTasks []string, tasksJSON string) ([]string, error) {
	var tasks []string
	for _, t := range flagTasks {
		if t != "" {
			tasks = append(tasks, t)
		}
	}
	if strings.TrimSpace(tasksJSON) != "" {
		parsed, err := ParseList(tasksJSON, "tasks JSON")
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, parsed...)
	}
	if len(tasks) > 0 {
		return tasks, nil
	}

	for _, t := range p.Tasks {
		tasks = append(tasks, stringify(t))
	}
	if len(tasks) > 0 {
		return tasks, nil
	}

	if p.Task != nil {
		return []string{stringify(p.Task)}, nil
	}
	return nil, ErrNoTasks
}

// ExecutionContext builds a fresh context from the payload. A non-empty
// correlationID overrides metadata.correlation_id.
func (p *Payload) ExecutionContext(correlationID string) *swarm.ExecutionContext {
	sessionID := p.Context.SessionID
	if sessionID == "" {
		sessionID = sessionPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	}
	ec := swarm.NewExecutionContext(sessionID)
	ec.UserID = p.Context.UserID
	for k, v := range p.Context.Metadata {
		ec.Metadata[k] = v
	}
	for k, v := range p.Context.State {
		ec.State[k] = v
	}
	if correlationID != "" {
		ec.Metadata[swarm.MetaCorrelationID] = correlationID
	}
	return ec
}

// CoerceBool accepts booleans, numbers and the strings 1/0, true/false,
// yes/no and on/off. Anything else is false.
func CoerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	case int:
		return b != 0
	case float64:
		return b != 0
	case nil:
		return false
	}
	return false
}

// CoerceTimeout converts seconds into a duration. nil, malformed and
// non-positive values mean no timeout.
func CoerceTimeout(v any) time.Duration {
	var seconds float64
	switch t := v.(type) {
	case int:
		seconds = float64(t)
	case float64:
		seconds = t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		seconds = f
	default:
		return 0
	}
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func coerceInt(m map[string]any, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return def
		}
		return i
	}
	return def
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}
