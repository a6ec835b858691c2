// Package handler implements the per-type job handlers dispatched by the worker.
package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"jobrelay/internal/store"

	"github.com/go-playground/validator/v10"
)

// Result is what a handler reports for one job execution.
type Result struct {
	Success bool
	// Output is the job result on success. On failure it is kept under
	// "output" in the job's progress document.
	Output json.RawMessage
	Error  string

	TokensIn  int
	TokensOut int
	// Cost is the provider-reported cost in USD, when known.
	Cost  *float64
	Model string
}

// Handler executes one job type. workspace is a directory that is persisted
// as the lineage's next snapshot when the handler succeeds.
type Handler interface {
	Handle(ctx context.Context, job *store.Job, workspace string) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *store.Job, workspace string) (*Result, error)

func (f HandlerFunc) Handle(ctx context.Context, job *store.Job, workspace string) (*Result, error) {
	return f(ctx, job, workspace)
}

// Registry maps job types to handlers.
type Registry map[store.JobType]Handler

// Lookup returns the handler for t.
func (r Registry) Lookup(t store.JobType) (Handler, bool) {
	h, ok := r[t]
	return h, ok
}

var validate = validator.New()

// decodePayload unmarshals and validates a job payload.
func decodePayload(job *store.Job, v any) error {
	if len(job.Payload) == 0 {
		return fmt.Errorf("invalid %s payload: empty", job.Type)
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", job.Type, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", job.Type, err)
	}
	return nil
}

func success(output any) (*Result, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	return &Result{Success: true, Output: raw}, nil
}

func failure(msg string) *Result {
	return &Result{Success: false, Error: msg}
}
