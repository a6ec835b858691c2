package handlers

import (
	"errors"
	"net/http"

	"jobrelay/internal/controller/middleware"
	"jobrelay/internal/store"
	"jobrelay/pkg/api"
)

// Healthz is a liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is a readiness probe. It fails while the database is unreachable.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ready"})
}

// QueueDepth handles GET /queue/depth.
func (h *Handlers) QueueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := h.store.QueueDepth(r.Context(), h.failedWindow)
	if err != nil {
		h.log(r).Error("failed to read queue depth", "error", err)
		h.httpError(w, "Failed to read queue depth", http.StatusInternalServerError)
		return
	}

	resp := api.QueueDepthResponse{
		Pending:      depth.Pending,
		Running:      depth.Running,
		FailedRecent: depth.FailedRecent,
		ObservedAt:   depth.ObservedAt,
	}
	if h.decisions != nil {
		if d, ok := h.decisions.Latest(); ok {
			resp.Desired = &d.Desired
			resp.Action = string(d.Action)
			resp.DecidedAt = &d.At
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetCredits handles GET /credits for the calling owner.
func (h *Handlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	balance, err := h.store.GetBalance(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, store.ErrOwnerNotFound) {
			h.httpError(w, "Owner not found", http.StatusNotFound)
			return
		}
		h.log(r).Error("failed to read balance", "error", err, "owner_id", ownerID)
		h.httpError(w, "Failed to read balance", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, api.BalanceResponse{OwnerID: ownerID, Credits: balance})
}
