package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/coordinator"
)

// SystemHandler serves stats, health, and version endpoints
type SystemHandler struct {
	service   *coordinator.Service
	logger    arbor.ILogger
	checks    map[string]HealthCheck
	startTime time.Time
}

// HealthCheck probes one dependency
type HealthCheck func() error

// NewSystemHandler creates the system handler. checks maps component
// names (database, redis) to liveness probes.
func NewSystemHandler(service *coordinator.Service, logger arbor.ILogger, checks map[string]HealthCheck) *SystemHandler {
	return &SystemHandler{
		service:   service,
		logger:    logger,
		checks:    checks,
		startTime: time.Now(),
	}
}

// HandleStats serves GET /api/stats
func (h *SystemHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to aggregate stats")
		WriteError(w, http.StatusInternalServerError, "Failed to aggregate stats")
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// HandleHealth serves GET /api/health. Any failing component flips
// the status to degraded with a 503.
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	components := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(); err != nil {
			components[name] = err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	WriteJSON(w, code, map[string]interface{}{
		"status":     status,
		"version":    common.GetVersion(),
		"uptime":     time.Since(h.startTime).Round(time.Second).String(),
		"components": components,
	})
}

// HandleVersion serves GET /api/version
func (h *SystemHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}
