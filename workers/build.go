// Package workers provides the concrete swarm.Worker implementations that can
// be declared in a swarm payload.
package workers

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/nomis52/goswarm/clients/sshclient"
	"github.com/nomis52/goswarm/config"
	"github.com/nomis52/goswarm/swarm"
)

// Build creates one worker per agent declaration, preserving order.
func Build(agents []config.AgentConfig, logger *slog.Logger) ([]swarm.Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]swarm.Worker, 0, len(agents))
	for _, a := range agents {
		switch a.Kind {
		case config.KindSynthetic, "":
			out = append(out, NewSynthetic(a.Name, SyntheticConfig{
				DelayMS:       a.DelayMS,
				FailureMode:   a.FailureMode,
				FailOnCalls:   a.FailOnCalls,
				ResultPayload: a.ResultPayload,
			}))
		case config.KindSSH:
			out = append(out, NewSSH(a.Name, sshclient.Config{
				Host:           a.Host,
				Port:           a.Port,
				User:           a.User,
				PrivateKeyFile: a.PrivateKeyFile,
				KnownHostsFile: a.KnownHostsFile,
				DialTimeout:    a.DialTimeout,
			}, WithSSHLogger(logger)))
		default:
			return nil, fmt.Errorf("agent %s has unknown kind %q", a.Name, a.Kind)
		}
	}
	return out, nil
}

// CloseAll closes every worker that holds resources.
func CloseAll(ws []swarm.Worker) error {
	var firstErr error
	for _, w := range ws {
		c, ok := w.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close worker %s: %w", w.Name(), err)
		}
	}
	return firstErr
}
