package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/nomis52/goswarm/clients/sshclient"
	"github.com/nomis52/goswarm/swarm"
)

// Runner executes remote commands. *sshclient.SSHClient satisfies it.
type Runner interface {
	RunContext(ctx context.Context, command string) (*sshclient.Result, error)
	Close() error
}

// DialFunc opens a Runner for the given connection settings.
type DialFunc func(ctx context.Context, cfg sshclient.Config) (Runner, error)

// SSH runs the task text as a shell command on a remote host. The connection
// is opened on first use and reused by later calls; it is dropped and redialled
// after a transport error.
type SSH struct {
	name   string
	cfg    sshclient.Config
	dial   DialFunc
	logger *slog.Logger

	mu     sync.Mutex
	runner Runner
}

// SSHOption configures an SSH worker.
type SSHOption func(*SSH)

// WithDialer replaces the function used to open connections.
func WithDialer(dial DialFunc) SSHOption {
	return func(s *SSH) {
		s.dial = dial
	}
}

// WithSSHLogger sets the logger of the worker.
func WithSSHLogger(logger *slog.Logger) SSHOption {
	return func(s *SSH) {
		s.logger = logger
	}
}

// NewSSH returns a worker that runs commands on the host described by cfg.
func NewSSH(name string, cfg sshclient.Config, opts ...SSHOption) *SSH {
	s := &SSH{
		name:   name,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		s.dial = func(ctx context.Context, cfg sshclient.Config) (Runner, error) {
			client, err := sshclient.Dial(ctx, cfg, sshclient.WithLogger(s.logger))
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}
	s.logger = s.logger.With("component", "ssh_worker", "worker", name, "host", cfg.Address())
	return s
}

// Name implements swarm.Worker.
func (s *SSH) Name() string {
	return s.name
}

// Execute implements swarm.Worker. A non-zero exit status is a failure.
func (s *SSH) Execute(ctx context.Context, task string, ec *swarm.ExecutionContext) (any, error) {
	runner, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	res, err := runner.RunContext(ctx, task)
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) && ctx.Err() == nil {
			s.reset(runner)
		}
		return nil, fmt.Errorf("%s: %w", s.cfg.Address(), err)
	}

	out := map[string]any{
		"success":        true,
		"agent":          s.name,
		"host":           res.Host,
		"command":        res.Command,
		"exit_code":      res.ExitCode,
		"stdout":         res.Stdout,
		"stderr":         res.Stderr,
		"duration_ms":    res.Duration.Milliseconds(),
		"correlation_id": nil,
	}
	if ec != nil {
		if id := ec.MetadataString(swarm.MetaCorrelationID); id != "" {
			out["correlation_id"] = id
		}
	}
	return out, nil
}

func (s *SSH) connect(ctx context.Context) (Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner != nil {
		return s.runner, nil
	}
	runner, err := s.dial(ctx, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", s.cfg.Address(), err)
	}
	s.logger.Debug("connected")
	s.runner = runner
	return runner, nil
}

func (s *SSH) reset(runner Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner != runner {
		return
	}
	s.logger.Warn("dropping broken connection")
	_ = runner.Close()
	s.runner = nil
}

// Close releases the connection, if any.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner == nil {
		return nil
	}
	err := s.runner.Close()
	s.runner = nil
	return err
}
