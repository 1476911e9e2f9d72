package handlers

import (
	"log/slog"
	"net/http"
)

// ReloadHandler re-reads the server config and swaps in its jobs and cron
// triggers. A config that fails to load or validate leaves the running one
// in place.
type ReloadHandler struct {
	logger   *slog.Logger
	reloader ConfigReloader
}

// NewReloadHandler creates a new ReloadHandler.
func NewReloadHandler(logger *slog.Logger, reloader ConfigReloader) *ReloadHandler {
	return &ReloadHandler{
		logger:   logger,
		reloader: reloader,
	}
}

// ServeHTTP implements http.Handler.
func (h *ReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.reloader.Reload(); err != nil {
		h.logger.Error("server config reload rejected", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload configuration: %v", err)
		return
	}

	cfg := h.reloader.Config()
	jobs := make([]string, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		jobs = append(jobs, j.Name)
	}
	h.logger.Info("server config reloaded", "jobs", jobs, "cron_triggers", len(cfg.Cron))
	w.WriteHeader(http.StatusNoContent)
}
