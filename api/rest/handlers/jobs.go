package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"orka-vector-api/core/models"

	"github.com/gorilla/mux"
)

// JobService is the job lifecycle behind the HTTP API
type JobService interface {
	Submit(ctx context.Context, bbox []float64, layers []string) (int64, error)
	Get(ctx context.Context, jobID int64) (*models.Job, error)
	Update(ctx context.Context, jobID int64, patch models.JobPatch) error
	Delete(ctx context.Context, jobID int64) (bool, error)
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs JobService
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// SubmitJobRequest represents the request to submit a job. Both fields are
// decoded in a second step so a malformed value maps to its own rejection.
type SubmitJobRequest struct {
	BBox   json.RawMessage `json:"bbox"`
	Layers json.RawMessage `json:"layers"`
}

// SubmitJobResponse represents the response after submitting a job
type SubmitJobResponse struct {
	Success bool   `json:"success"`
	JobID   int64  `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobResponse is the external view of a job
type JobResponse struct {
	ID        int64            `json:"id"`
	BBox      [4]float64       `json:"bbox"`
	Layers    []string         `json:"layers"`
	Status    models.JobStatus `json:"status"`
	DataID    string           `json:"data_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewJobResponse builds the external view. The data id is only revealed
// once the artifact has been created.
func NewJobResponse(job *models.Job) JobResponse {
	resp := JobResponse{
		ID:        job.ID,
		BBox:      job.BBox,
		Layers:    job.Layers,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Status == models.JobStatusCreated {
		resp.DataID = job.DataID
	}
	return resp
}

// UpdateJobRequest is the body of PUT /jobs/{id}
type UpdateJobRequest struct {
	Status *string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func rejected(w http.ResponseWriter, reason models.Rejection) {
	status := http.StatusBadRequest
	if reason == models.RejectNoThreadsAvailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, SubmitJobResponse{Success: false, Message: string(reason)})
}

// SubmitJob handles POST /jobs
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var bbox []float64
	if err := json.Unmarshal(req.BBox, &bbox); err != nil || bbox == nil {
		rejected(w, models.RejectBBoxInvalid)
		return
	}

	// absent and null both mean every layer
	var layers []string
	if len(req.Layers) > 0 && string(req.Layers) != "null" {
		if err := json.Unmarshal(req.Layers, &layers); err != nil {
			rejected(w, models.RejectLayersInvalid)
			return
		}
		if layers == nil {
			layers = []string{}
		}
	}

	jobID, err := h.jobs.Submit(r.Context(), bbox, layers)
	if err != nil {
		var rej *models.RejectionError
		if errors.As(err, &rej) {
			rejected(w, rej.Reason)
			return
		}
		log.Printf("Failed to submit job: %v", err)
		http.Error(w, "Failed to submit job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitJobResponse{Success: true, JobID: jobID})
}

func jobIDFromPath(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

// GetJob handles GET /jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(r)
	if !ok {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Failed to load job %d: %v", jobID, err)
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, NewJobResponse(job))
}

// UpdateJob handles PUT /jobs/{id}, which is also the completion callback
func (h *JobHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(r)
	if !ok {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	var req UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	status, err := models.ParseJobStatus(*req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.jobs.Update(r.Context(), jobID, models.JobPatch{Status: &status})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidProperties):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("Failed to update job %d: %v", jobID, err)
		http.Error(w, "Failed to update job", http.StatusInternalServerError)
	}
}

// DeleteJob handles DELETE /jobs/{id}
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(r)
	if !ok {
		http.Error(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	deleted, err := h.jobs.Delete(r.Context(), jobID)
	if err != nil {
		log.Printf("Failed to delete job %d: %v", jobID, err)
		http.Error(w, "Failed to delete job", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if !deleted {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]bool{"success": deleted})
}
