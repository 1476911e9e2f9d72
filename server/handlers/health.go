package handlers

import (
	"net/http"

	"github.com/nomis52/goswarm/buildinfo"
)

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HandleHealth reports that the server is up and which build is serving.
// It never touches the runner, so it answers even while a swarm run is busy.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: buildinfo.Get().Version,
	})
}
