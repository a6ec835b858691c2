// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"jobrelay/internal/autoscale"
	"jobrelay/internal/logger"
	"jobrelay/internal/store"
	"jobrelay/pkg/api"

	"github.com/go-playground/validator/v10"
)

// Store combines the store interfaces the controller needs.
type Store interface {
	store.JobStore
	store.DepthStore
	GetBalance(ctx context.Context, ownerID string) (int64, error)
	Ping(ctx context.Context) error
}

// DecisionSource exposes the autoscaler's latest decision.
type DecisionSource interface {
	Latest() (autoscale.Decision, bool)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store        Store
	decisions    DecisionSource
	failedWindow time.Duration
	validate     *validator.Validate
	logger       *slog.Logger
}

// New creates a new Handlers instance. decisions may be nil.
func New(s Store, decisions DecisionSource, failedWindow time.Duration, log *slog.Logger) *Handlers {
	if failedWindow <= 0 {
		failedWindow = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	v := validator.New()
	// Job types are validated against the types this build knows
	_ = v.RegisterValidation("jobtype", func(fl validator.FieldLevel) bool {
		return store.JobType(fl.Field().String()).Valid()
	})

	return &Handlers{
		store:        s,
		decisions:    decisions,
		failedWindow: failedWindow,
		validate:     v,
		logger:       log,
	}
}

func (h *Handlers) log(r *http.Request) *slog.Logger {
	return logger.FromContext(r.Context(), h.logger)
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// queryInt parses an integer query parameter clamped to [min, max].
func queryInt(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
