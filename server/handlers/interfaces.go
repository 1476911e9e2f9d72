// Package handlers provides HTTP handlers for the goswarm server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	srvconfig "github.com/nomis52/goswarm/server/config"
	"github.com/nomis52/goswarm/server/runner"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *srvconfig.ServerConfig
}

// ConfigReloader re-reads its configuration from disk and exposes the result.
type ConfigReloader interface {
	ConfigProvider
	Reload() error
}

// JobRunner can start runs of named jobs.
type JobRunner interface {
	Run(jobs []string) error
}

// RunStatusProvider provides access to run status.
type RunStatusProvider interface {
	Status() runner.RunStatus
}

// HistoryProvider provides access to run history.
type HistoryProvider interface {
	History() []runner.RunSummary
	Lookup(id string) (runner.RunStatus, bool)
}
