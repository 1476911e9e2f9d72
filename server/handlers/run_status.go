package handlers

import (
	"net/http"
)

// RunStatusHandler serves the current run, or the last one when idle.
// With ?job=<name> only that job's entry in the run is returned; 404 means
// the job has not started in this run.
type RunStatusHandler struct {
	provider RunStatusProvider
}

// NewRunStatusHandler creates a new RunStatusHandler.
func NewRunStatusHandler(provider RunStatusProvider) *RunStatusHandler {
	return &RunStatusHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *RunStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.provider.Status()

	name := r.URL.Query().Get("job")
	if name == "" {
		writeJSON(w, http.StatusOK, status)
		return
	}
	for _, jr := range status.JobRuns {
		if jr.Name == name {
			writeJSON(w, http.StatusOK, jr)
			return
		}
	}
	writeError(w, http.StatusNotFound, "job %q has not started in run %s", name, status.ID)
}
