package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/coordinator"
	"github.com/ternarybob/dispatch/internal/interfaces"
	"github.com/ternarybob/dispatch/internal/models"
)

// JobHandler serves the /api/jobs endpoints
type JobHandler struct {
	service *coordinator.Service
	logger  arbor.ILogger
}

// NewJobHandler creates a job handler
func NewJobHandler(service *coordinator.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  logger,
	}
}

// CreateJobRequest is the POST /api/jobs body
type CreateJobRequest struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// UpdateJobRequest is the PATCH /api/jobs/:id body
type UpdateJobRequest struct {
	Status   string          `json:"status" validate:"required"`
	WorkerID *int64          `json:"workerId,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// HandleJobs routes /api/jobs: POST creates, GET lists
func (h *JobHandler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createJob(w, r)
	case http.MethodGet:
		h.listJobs(w, r)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleJobPath routes /api/jobs/{id} and /api/jobs/next/{type}
func (h *JobHandler) HandleJobPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")

	if jobType, ok := strings.CutPrefix(path, "next/"); ok {
		h.claimNextJob(w, r, jobType)
		return
	}

	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getJob(w, r, id)
	case http.MethodPatch:
		h.updateJob(w, r, id)
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *JobHandler) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.service.CreateJob(r.Context(), models.JobType(req.Type), req.Payload)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]int64{"jobId": id})
}

func (h *JobHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	opts := &interfaces.JobListOptions{
		Status: r.URL.Query().Get("status"),
		Type:   r.URL.Query().Get("type"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}

	jobs, err := h.service.ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, id int64) {
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

func (h *JobHandler) updateJob(w http.ResponseWriter, r *http.Request, id int64) {
	var req UpdateJobRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.service.UpdateJob(r.Context(), id, models.JobStatus(req.Status), req.WorkerID, req.Result)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK)
}

// claimNextJob serves GET /api/jobs/next/{type}. The body is always
// 200 with either the claimed job or a null job.
func (h *JobHandler) claimNextJob(w http.ResponseWriter, r *http.Request, jobType string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var workerID int64
	if v := r.URL.Query().Get("workerId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			workerID = id
		}
	}

	job, err := h.service.ClaimNextJob(r.Context(), models.JobType(jobType), workerID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

// writeJobError maps service errors onto HTTP status codes
func (h *JobHandler) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidJobType), errors.Is(err, models.ErrInvalidPayload):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Job request failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
