// Package server provides an HTTP server that runs configured swarm jobs.
//
// The server exposes a REST API to trigger swarm jobs, follow the run in
// progress, browse run history and scrape swarm metrics. Jobs can also run
// on cron schedules.
//
// # Endpoints
//
//   - GET /health - Liveness check with the running build version
//   - GET /api/status - Consolidated status (server properties, run status, next run)
//   - GET /api/run - Current or last run status, ?job=<name> for one job
//   - GET /jobs - Configured jobs
//   - GET /config - Returns current configuration as YAML
//   - POST /reload - Reloads configuration from disk
//   - POST /run - Triggers a run of the requested jobs
//   - GET /history - Summaries of completed runs
//   - GET /history/{id} - One completed run with its reports and events
//   - POST /history/reload - Re-reads run history from disk (state_dir only)
//   - GET /metrics - Prometheus metrics
//
// # Architecture
//
// The config and the cron triggers derived from it are swapped atomically on
// reload. Job payloads are read fresh at the start of each job, so payload
// edits take effect on the next run without a reload. The history store and
// the metrics registry are created once; changing history_size, state_dir or
// metrics_prefix requires a restart.
//
// # Example
//
//	srv, err := server.New("/etc/goswarm/server.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nomis52/goswarm/buildinfo"
	"github.com/nomis52/goswarm/logging"
	"github.com/nomis52/goswarm/metrics"
	srvconfig "github.com/nomis52/goswarm/server/config"
	"github.com/nomis52/goswarm/server/cron"
	"github.com/nomis52/goswarm/server/handlers"
	"github.com/nomis52/goswarm/server/runner"
	"github.com/nomis52/goswarm/server/types"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// serverDeps holds config-derived dependencies that are swapped atomically on reload.
type serverDeps struct {
	config *srvconfig.ServerConfig
	cron   *cron.CronTriggerManager
}

// Server is the HTTP server for the goswarm API.
type Server struct {
	addr       string
	configPath string
	cronSpec   string
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	deps       atomic.Pointer[serverDeps]
	httpServer *http.Server
	runner     *runner.Runner
	store      runner.StateStore
	registry   *metrics.ScrapeRegistry
	props      types.ServerProperties
	stopRuns   context.CancelFunc

	// cronMu guards the context of the running cron triggers.
	cronMu     sync.Mutex
	cronCtx    context.Context
	cronCancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server) error

// WithCron replaces the cron section of the config with a trigger spec of
// the form job1,job2:cron_expression;job3:cron_expression2.
func WithCron(spec string) Option {
	return func(s *Server) error {
		s.cronSpec = spec
		return nil
	}
}

// WithListenAddr overrides the listen address of the config.
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// New creates a new Server with the given config path and options.
// It loads the configuration and initializes all dependencies.
func New(configPath string, opts ...Option) (*Server, error) {
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelInfo)

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)

	cfg, err := srvconfig.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	s := &Server{
		configPath: configPath,
		logger:     logger,
		logLevel:   logLevel,
		props: types.ServerProperties{
			Build:     buildinfo.Get(),
			StartedAt: time.Now(),
			Hostname:  hostname,
		},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.registry, err = metrics.NewScrapeRegistry(cfg.MetricsPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating metrics registry: %w", err)
	}
	observer, err := metrics.NewSwarmObserver(s.registry)
	if err != nil {
		return nil, fmt.Errorf("creating swarm metrics: %w", err)
	}

	if cfg.StateDir != "" {
		s.store, err = runner.NewDiskStore(cfg.StateDir, cfg.HistorySize, logger)
		if err != nil {
			return nil, err
		}
	} else {
		s.store = runner.NewMemoryStore(cfg.HistorySize)
	}

	runCtx, stopRuns := context.WithCancel(context.Background())
	s.stopRuns = stopRuns
	s.runner = runner.New(logger, s,
		runner.WithStateStore(s.store),
		runner.WithMetricsObserver(observer),
		runner.WithBaseContext(runCtx),
	)

	if err := s.apply(cfg); err != nil {
		stopRuns()
		return nil, err
	}

	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogLevel changes the server's log level at runtime.
func (s *Server) SetLogLevel(level slog.Level) {
	s.logLevel.Set(level)
}

// Reload reads the config from disk and rebuilds the cron triggers.
func (s *Server) Reload() error {
	cfg, err := srvconfig.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	return s.apply(cfg)
}

// apply installs cfg. Running cron triggers are replaced by the new ones.
func (s *Server) apply(cfg *srvconfig.ServerConfig) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	specs := cfg.TriggerSpecs()
	if s.cronSpec != "" {
		specs, err = cron.ParseTriggerSpecs(s.cronSpec, cfg.JobNames())
		if err != nil {
			return fmt.Errorf("creating cron triggers: %w", err)
		}
	}

	var manager *cron.CronTriggerManager
	if len(specs) > 0 {
		manager, err = cron.NewCronTriggerManager(specs, s.runner, s.logger)
		if err != nil {
			return fmt.Errorf("creating cron triggers: %w", err)
		}
	}

	s.logLevel.Set(level)
	s.deps.Store(&serverDeps{
		config: cfg,
		cron:   manager,
	})
	s.restartCron(manager)

	s.logger.Info("configuration loaded", "config_path", s.configPath, "jobs", len(cfg.Jobs), "triggers", len(specs))
	return nil
}

// restartCron stops the running triggers, if the server is running, and
// starts manager in their place.
func (s *Server) restartCron(manager *cron.CronTriggerManager) {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if s.cronCtx == nil {
		return
	}
	if s.cronCancel != nil {
		s.cronCancel()
	}
	ctx, cancel := context.WithCancel(s.cronCtx)
	s.cronCancel = cancel
	if manager != nil {
		manager.Start(ctx)
	}
}

// Config returns the current configuration.
func (s *Server) Config() *srvconfig.ServerConfig {
	return s.deps.Load().config
}

// Properties describes the running server.
func (s *Server) Properties() types.ServerProperties {
	return s.props
}

// NextRun returns the next scheduled run time, or nil if no cron is configured.
func (s *Server) NextRun() *time.Time {
	manager := s.deps.Load().cron
	if manager == nil {
		return nil
	}
	next := manager.NextRun()
	return &next
}

// Status returns the current run status by delegating to the runner.
func (s *Server) Status() runner.RunStatus {
	return s.runner.Status()
}

// Runner returns the job runner.
func (s *Server) Runner() *runner.Runner {
	return s.runner
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done, cancelling the
// run in progress. Configured cron triggers are started automatically.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.Config()
	addr := cfg.Listener.Addr
	if s.addr != "" {
		addr = s.addr
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	useTLS := cfg.Listener.TLSCert != ""
	if useTLS {
		loader, err := NewCertLoader(cfg.Listener.TLSCert, cfg.Listener.TLSKey, s.logger)
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: loader.GetCertificate,
		}
	}

	s.cronMu.Lock()
	s.cronCtx = ctx
	s.cronMu.Unlock()
	if manager := s.deps.Load().cron; manager != nil {
		s.logger.Info("starting cron triggers", "next_run", manager.NextRun())
	}
	s.restartCron(s.deps.Load().cron)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"addr", addr,
			"tls", useTLS,
			"config_path", s.configPath,
		)
		var err error
		if useTLS {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.stopRuns()
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		s.stopRuns()
		if err := s.runner.Wait(shutdownCtx); err != nil {
			s.logger.Warn("run still in progress at shutdown", "error", err)
		}
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s))
	mux.Handle("GET /api/run", handlers.NewRunStatusHandler(s.runner))
	mux.Handle("GET /jobs", handlers.NewJobsHandler(s))
	mux.Handle("GET /config", handlers.NewConfigHandler(s))
	mux.Handle("POST /reload", handlers.NewReloadHandler(s.logger, s))
	mux.Handle("POST /run", handlers.NewRunHandler(s.runner))
	mux.Handle("GET /history", handlers.NewHistoryHandler(s.runner))
	mux.Handle("GET /history/{id}", handlers.NewHistoryRunHandler(s.runner))
	if store, ok := s.store.(handlers.ReloadableStore); ok {
		mux.Handle("POST /history/reload", handlers.NewStoreReloadHandler(s.logger, store))
	}
	mux.Handle("GET /metrics", s.registry.Handler())
}
