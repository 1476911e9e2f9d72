// Package config loads the goswarm server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	swarmconfig "github.com/nomis52/goswarm/config"
	"github.com/nomis52/goswarm/server/cron"
)

const (
	defaultListenAddr    = ":8080"
	defaultHistorySize   = 100
	defaultMetricsPrefix = "goswarm"
)

// ServerConfig represents the server runtime configuration.
type ServerConfig struct {
	Listener ListenerConfig `yaml:"listener"`
	Jobs     []JobConfig    `yaml:"jobs"`
	Cron     []CronTrigger  `yaml:"cron"`
	LogLevel string         `yaml:"log_level"`
	// The number of completed runs kept in the history
	HistorySize int `yaml:"history_size"`
	// The directory run history is persisted to. Empty keeps history in memory.
	StateDir      string `yaml:"state_dir"`
	MetricsPrefix string `yaml:"metrics_prefix"`
}

// ListenerConfig holds HTTP server listener settings.
type ListenerConfig struct {
	// The listen address, defaults to :8080
	Addr    string `yaml:"addr"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// JobConfig names a swarm payload the server can run.
type JobConfig struct {
	Name string `yaml:"name"`
	// The path to the swarm payload file, relative paths resolve against the
	// server config directory
	SwarmConfig string `yaml:"swarm_config"`
	// Payload is merged over the file contents
	Payload map[string]any `yaml:"payload"`
}

// CronTrigger defines a set of jobs to run on a schedule.
type CronTrigger struct {
	// The jobs to run, in order
	Jobs []string `yaml:"jobs"`
	// The cron spec to execute the jobs at
	Schedule string `yaml:"schedule"`
}

// LoadConfig reads the YAML config file at the given path and returns a ServerConfig struct.
func LoadConfig(path string) (*ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open server config file %s: %w", path, err)
	}
	defer f.Close()

	var cfg ServerConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode YAML server config: %w", err)
	}

	cfg.SetDefaults()
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults sets reasonable default values for optional fields.
func (c *ServerConfig) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultListenAddr
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.MetricsPrefix == "" {
		c.MetricsPrefix = defaultMetricsPrefix
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *ServerConfig) resolvePaths(dir string) {
	for i := range c.Jobs {
		p := c.Jobs[i].SwarmConfig
		if p != "" && !filepath.IsAbs(p) {
			c.Jobs[i].SwarmConfig = filepath.Join(dir, p)
		}
	}
}

// Validate checks the jobs and the cron triggers.
func (c *ServerConfig) Validate() error {
	if len(c.Jobs) == 0 {
		return errors.New("at least one job must be configured")
	}

	available := c.JobNames()
	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		if j.Name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if j.SwarmConfig == "" && len(j.Payload) == 0 {
			return fmt.Errorf("job %q: swarm_config or payload is required", j.Name)
		}
	}

	for i, t := range c.Cron {
		if err := cron.ValidateTriggerSpec(t.TriggerSpec(), available); err != nil {
			return fmt.Errorf("cron[%d]: %w", i, err)
		}
	}

	if (c.Listener.TLSCert == "") != (c.Listener.TLSKey == "") {
		return errors.New("listener: tls_cert and tls_key must be set together")
	}
	return nil
}

// JobNames returns the set of configured job names.
func (c *ServerConfig) JobNames() map[string]bool {
	names := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		names[j.Name] = true
	}
	return names
}

// Job returns the job with the given name.
func (c *ServerConfig) Job(name string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}

// TriggerSpecs converts the cron section for the trigger manager.
func (c *ServerConfig) TriggerSpecs() []cron.TriggerSpec {
	specs := make([]cron.TriggerSpec, 0, len(c.Cron))
	for _, t := range c.Cron {
		specs = append(specs, t.TriggerSpec())
	}
	return specs
}

// TriggerSpec converts t for the cron package.
func (t CronTrigger) TriggerSpec() cron.TriggerSpec {
	return cron.TriggerSpec{Jobs: t.Jobs, CronSpec: t.Schedule}
}

// LoadPayload reads the swarm payload of the job. It is called at the start
// of every run so payload edits apply to the next run.
func (j JobConfig) LoadPayload() (*swarmconfig.Payload, error) {
	p, err := swarmconfig.Load(j.SwarmConfig, j.Payload)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", j.Name, err)
	}
	return p, nil
}
