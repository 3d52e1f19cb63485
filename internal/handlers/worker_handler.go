package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/coordinator"
	"github.com/ternarybob/dispatch/internal/models"
)

// WorkerHandler serves the /api/workers endpoints
type WorkerHandler struct {
	service *coordinator.Service
	logger  arbor.ILogger
}

// NewWorkerHandler creates a worker handler
func NewWorkerHandler(service *coordinator.Service, logger arbor.ILogger) *WorkerHandler {
	return &WorkerHandler{
		service: service,
		logger:  logger,
	}
}

// CreateWorkerRequest is the POST /api/workers body
type CreateWorkerRequest struct {
	Type string `json:"type" validate:"required"`
}

// UpdateWorkerRequest is the PATCH /api/workers/:id body
type UpdateWorkerRequest struct {
	Status string `json:"status" validate:"required"`
}

// ScaleWorkersRequest is the POST /api/workers/scale body
type ScaleWorkersRequest struct {
	Type  string `json:"type" validate:"required"`
	Count int    `json:"count" validate:"required,min=1"`
}

// HandleWorkers routes /api/workers: POST spawns, GET lists
func (h *WorkerHandler) HandleWorkers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createWorker(w, r)
	case http.MethodGet:
		h.listWorkers(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleWorkerPath routes /api/workers/{id}
func (h *WorkerHandler) HandleWorkerPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/workers/")

	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid worker id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getWorker(w, r, id)
	case http.MethodDelete:
		h.stopWorker(w, r, id)
	case http.MethodPatch:
		h.updateWorker(w, r, id)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleScale serves POST /api/workers/scale
func (h *WorkerHandler) HandleScale(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req ScaleWorkersRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.ScaleWorkers(r.Context(), models.JobType(req.Type), req.Count); err != nil {
		h.writeWorkerError(w, err)
		return
	}

	h.logger.Info().Str("type", req.Type).Int("count", req.Count).Msg("Workers scaled")
	WriteSuccess(w, http.StatusOK)
}

func (h *WorkerHandler) createWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.service.CreateWorker(r.Context(), models.JobType(req.Type))
	if err != nil {
		h.writeWorkerError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]int64{"workerId": id})
}

func (h *WorkerHandler) listWorkers(w http.ResponseWriter, r *http.Request) {
	workerType := models.JobType(r.URL.Query().Get("type"))
	if workerType != "" && !workerType.IsValid() {
		WriteError(w, http.StatusBadRequest, models.ErrInvalidJobType.Error())
		return
	}

	workers, err := h.service.ListWorkers(r.Context(), workerType)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list workers")
		WriteError(w, http.StatusInternalServerError, "Failed to list workers")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"workers": workers})
}

func (h *WorkerHandler) getWorker(w http.ResponseWriter, r *http.Request, id int64) {
	worker, err := h.service.GetWorker(r.Context(), id)
	if err != nil {
		h.writeWorkerError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"worker": worker})
}

func (h *WorkerHandler) stopWorker(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.service.StopWorker(r.Context(), id); err != nil {
		h.writeWorkerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK)
}

func (h *WorkerHandler) updateWorker(w http.ResponseWriter, r *http.Request, id int64) {
	var req UpdateWorkerRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.UpdateWorkerStatus(r.Context(), id, models.WorkerStatus(req.Status)); err != nil {
		h.writeWorkerError(w, err)
		return
	}
	WriteSuccess(w, http.StatusOK)
}

// writeWorkerError maps service errors onto HTTP status codes
func (h *WorkerHandler) writeWorkerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrWorkerNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidJobType):
		WriteError(w, http.StatusBadRequest, err.Error())
	case strings.Contains(err.Error(), "count must be between"):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Worker request failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
