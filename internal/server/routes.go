package server

import (
	"net/http"

	"github.com/ternarybob/dispatch/internal/handlers"
)

// setupRoutes registers the API surface on the mux
func (s *Server) setupRoutes(
	jobHandler *handlers.JobHandler,
	workerHandler *handlers.WorkerHandler,
	systemHandler *handlers.SystemHandler,
) {
	mux := s.mux

	// Jobs
	mux.HandleFunc("/api/jobs", jobHandler.HandleJobs)
	mux.HandleFunc("/api/jobs/", jobHandler.HandleJobPath)

	// Workers
	mux.HandleFunc("/api/workers", workerHandler.HandleWorkers)
	mux.HandleFunc("/api/workers/scale", workerHandler.HandleScale)
	mux.HandleFunc("/api/workers/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/workers/scale" {
			workerHandler.HandleScale(w, r)
			return
		}
		workerHandler.HandleWorkerPath(w, r)
	})

	// System
	mux.HandleFunc("/api/stats", systemHandler.HandleStats)
	mux.HandleFunc("/api/health", systemHandler.HandleHealth)
	mux.HandleFunc("/api/version", systemHandler.HandleVersion)
}
