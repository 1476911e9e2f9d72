package sshclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
)

// Config describes how to reach and authenticate against a remote host.
type Config struct {
	// Host is either a bare hostname or host:port.
	Host string `yaml:"host"`
	// Port is used when Host carries no port, defaults to 22.
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	// PrivateKeyPEM takes precedence over PrivateKeyFile.
	PrivateKeyPEM  string `yaml:"-"`
	PrivateKeyFile string `yaml:"private_key_file"`
	// KnownHostsFile enables host key verification. Without it host keys are
	// accepted blindly and a warning is logged.
	KnownHostsFile string        `yaml:"known_hosts_file"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// Address returns the host:port to dial.
func (c Config) Address() string {
	if _, _, err := net.SplitHostPort(c.Host); err == nil {
		return c.Host
	}
	port := c.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Config) signer() (ssh.Signer, error) {
	key := []byte(c.PrivateKeyPEM)
	if len(key) == 0 {
		if c.PrivateKeyFile == "" {
			return nil, errors.New("no private key configured")
		}
		data, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", c.PrivateKeyFile, err)
		}
		key = data
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// Result is the outcome of one remote command.
type Result struct {
	Host     string        `json:"host"`
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// SSHClient manages a persistent SSH connection for running multiple commands.
type SSHClient struct {
	client *ssh.Client
	addr   string
	logger *slog.Logger
}

// Option configures an SSHClient.
type Option func(*SSHClient)

// WithLogger sets the logger used for connection warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *SSHClient) {
		c.logger = logger
	}
}

// New creates a new SSHClient connected to the given host with the provided user and private key (PEM format).
func New(host, user, privateKeyPEM string) (*SSHClient, error) {
	return Dial(context.Background(), Config{Host: host, User: user, PrivateKeyPEM: privateKeyPEM})
}

// Dial connects to the host described by cfg. The dial and handshake are
// abandoned when ctx is cancelled or the dial timeout elapses.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*SSHClient, error) {
	c := &SSHClient{
		addr:   cfg.Address(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	signer, err := cfg.signer()
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
	} else {
		c.logger.Warn("host key verification disabled", "host", c.addr)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}

	// The handshake itself is not context aware, so bound it with a deadline
	// and tear the connection down if ctx ends first.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.addr, clientConfig)
	stop()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return c, nil
}

// Addr returns the host:port the client is connected to.
func (c *SSHClient) Addr() string {
	return c.addr
}

// Run executes a command on the remote host using a new session on the existing connection.
func (c *SSHClient) Run(command string) (string, string, error) {
	res, err := c.RunContext(context.Background(), command)
	if err != nil {
		return res.Stdout, res.Stderr, err
	}
	return res.Stdout, res.Stderr, nil
}

// RunContext executes a command and collects its output. A non-zero exit
// status is returned as an error alongside the populated Result. When ctx
// ends first the remote process is signalled and the session closed.
func (c *SSHClient) RunContext(ctx context.Context, command string) (*Result, error) {
	res := &Result{Host: c.addr, Command: command, ExitCode: -1}

	session, err := c.client.NewSession()
	if err != nil {
		return res, fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	start := time.Now()
	if err := session.Start(command); err != nil {
		return res, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		res.Duration = time.Since(start)
		return res, fmt.Errorf("command interrupted: %w", ctx.Err())
	}

	res.Duration = time.Since(start)
	res.Stdout = stdoutBuf.String()
	res.Stderr = stderrBuf.String()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, fmt.Errorf("command exited with status %d: %w", res.ExitCode, err)
	default:
		return res, fmt.Errorf("failed to run command: %w", err)
	}
	return res, nil
}

// RunWithWriter executes a command on the remote host and streams stdout/stderr to the provided writers.
// If stdoutWriter or stderrWriter is nil, that stream will be discarded.
// Returns any error from command execution.
func (c *SSHClient) RunWithWriter(command string, stdoutWriter, stderrWriter io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	if stdoutWriter != nil {
		session.Stdout = stdoutWriter
	}
	if stderrWriter != nil {
		session.Stderr = stderrWriter
	}

	if err := session.Run(command); err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	}

	return nil
}

// Close closes the underlying SSH connection.
func (c *SSHClient) Close() error {
	return c.client.Close()
}
