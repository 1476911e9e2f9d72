package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nomis52/goswarm/server/runner"
)

// RunRequest defines the request body for POST /run. An empty job list (or
// an empty body) runs every configured job.
type RunRequest struct {
	Jobs []string `json:"jobs"`
}

// RunHandler handles requests to trigger a run.
type RunHandler struct {
	runner JobRunner
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(r JobRunner) *RunHandler {
	return &RunHandler{
		runner: r,
	}
}

// ServeHTTP implements http.Handler.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}

	seen := make(map[string]bool, len(req.Jobs))
	for _, j := range req.Jobs {
		if seen[j] {
			writeError(w, http.StatusBadRequest, "duplicate job %q in request", j)
			return
		}
		seen[j] = true
	}

	err := h.runner.Run(req.Jobs)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, runner.ErrRunInProgress):
		writeError(w, http.StatusConflict, "%v", err)
	case errors.Is(err, runner.ErrUnknownJob):
		writeError(w, http.StatusBadRequest, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}
