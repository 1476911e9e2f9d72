package handlers

import (
	"net/http"
)

// JobInfo describes one configured job.
type JobInfo struct {
	Name        string `json:"name"`
	SwarmConfig string `json:"swarm_config,omitempty"`
	Inline      bool   `json:"inline"`
}

// JobsResponse is the JSON response for /jobs.
type JobsResponse struct {
	Jobs []JobInfo `json:"jobs"`
}

// JobsHandler lists the configured jobs in configuration order.
type JobsHandler struct {
	configProvider ConfigProvider
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(provider ConfigProvider) *JobsHandler {
	return &JobsHandler{
		configProvider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.configProvider.Config()

	resp := JobsResponse{Jobs: make([]JobInfo, 0, len(cfg.Jobs))}
	for _, j := range cfg.Jobs {
		resp.Jobs = append(resp.Jobs, JobInfo{
			Name:        j.Name,
			SwarmConfig: j.SwarmConfig,
			Inline:      len(j.Payload) > 0,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
