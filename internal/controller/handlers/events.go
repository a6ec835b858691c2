package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"jobrelay/internal/controller/middleware"
	"jobrelay/internal/store"
	"jobrelay/pkg/api"

	"github.com/google/uuid"
)

// ListJobEvents handles GET /jobs/{id}/events?after_id=&limit=.
// Clients poll with the last seen id to follow a running job.
func (h *Handlers) ListJobEvents(w http.ResponseWriter, r *http.Request) {
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

	limit := queryInt(r, "limit", 100, 1, 1000)

	var afterID int64
	if after := r.URL.Query().Get("after_id"); after != "" {
		if parsed, err := strconv.ParseInt(after, 10, 64); err == nil && parsed > 0 {
			afterID = parsed
		}
	}

	// Verify ownership
	if _, err := h.store.Get(ctx, jobID, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.log(r).Error("failed to get job", "error", err, "job_id", jobID)
		h.httpError(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	events, err := h.store.ListEvents(ctx, jobID, afterID, limit)
	if err != nil {
		h.log(r).Error("failed to list events", "error", err, "job_id", jobID)
		h.httpError(w, "Failed to fetch events", http.StatusInternalServerError)
		return
	}

	entries := make([]api.EventEntry, len(events))
	for i, e := range events {
		entries[i] = api.EventEntry{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Content:   e.Content,
			CreatedAt: e.CreatedAt,
		}
	}
	h.respondJson(w, http.StatusOK, api.ListEventsResponse{Events: entries})
}
