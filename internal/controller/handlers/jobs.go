package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"jobrelay/internal/controller/middleware"
	"jobrelay/internal/store"
	"jobrelay/pkg/api"

	"github.com/google/uuid"
)

// CreateJob handles POST /jobs.
// It stores a pending job for workers to claim.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.httpError(w, "Invalid job: type must be one of chat_completion, remote_agent_task, research, echo", http.StatusBadRequest)
		return
	}
	if req.OwnerID != "" && req.OwnerID != ownerID {
		h.httpError(w, "owner_id does not match "+api.OwnerHeader, http.StatusForbidden)
		return
	}

	payload := req.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage(`{}`)
	}

	job := &store.Job{
		OwnerID:        ownerID,
		ConversationID: req.ConversationID,
		Type:           store.JobType(req.Type),
		Status:         store.JobStatusPending,
		Payload:        payload,
	}
	if err := h.store.Create(ctx, job); err != nil {
		h.log(r).Error("failed to create job", "error", err, "owner_id", ownerID)
		h.httpError(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	h.log(r).Info("job created", "job_id", job.ID, "job_type", job.Type, "owner_id", ownerID)
	h.respondJson(w, http.StatusCreated, api.CreateJobResponse{
		JobID:  job.ID.String(),
		Status: string(store.JobStatusPending),
	})
}

// GetJob handles GET /jobs/{id}.
// Jobs of other owners are reported as not found.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	job, err := h.store.Get(ctx, jobID, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.log(r).Error("failed to get job", "error", err, "job_id", jobID)
		h.httpError(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.JobResponse{
		ID:             job.ID.String(),
		OwnerID:        job.OwnerID,
		ConversationID: job.ConversationID,
		Type:           string(job.Type),
		Status:         string(job.Status),
		Payload:        job.Payload,
		Result:         job.Result,
		Progress:       job.Progress,
		WorkerID:       job.WorkerID,
		ClaimedAt:      job.ClaimedAt,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	})
}

// ListJobs handles GET /jobs?limit=&status=.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := queryInt(r, "limit", 20, 1, 100)

	var statuses []store.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := store.JobStatus(strings.TrimSpace(s))
			switch st {
			case store.JobStatusPending, store.JobStatusRunning, store.JobStatusCompleted, store.JobStatusFailed:
				statuses = append(statuses, st)
			default:
				h.httpError(w, "Invalid status filter: "+string(st), http.StatusBadRequest)
				return
			}
		}
	}

	jobs, err := h.store.List(ctx, ownerID, statuses, limit)
	if err != nil {
		h.log(r).Error("failed to list jobs", "error", err, "owner_id", ownerID)
		h.httpError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := make([]api.JobSummary, len(jobs))
	for i, job := range jobs {
		resp[i] = api.JobSummary{
			ID:        job.ID.String(),
			Type:      string(job.Type),
			Status:    string(job.Status),
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}
