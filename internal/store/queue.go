package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Queue defines the job lifecycle operations used by workers.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics
// (or an equivalent compare-and-swap) so concurrent claimants never share a job.
type Queue interface {
	// Claim atomically moves the oldest pending job to running and stamps the worker.
	// Returns (nil, nil) if the queue is empty.
	Claim(ctx context.Context, workerID string) (*Job, error)

	// Complete marks a running job completed and stores result.
	// Completing an already completed job is a no-op.
	Complete(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error

	// Fail marks a running job failed with {"error": errMsg}.
	// Failing an already failed job is a no-op.
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error

	// UpdateProgress merges fields into the progress document of a running job.
	UpdateProgress(ctx context.Context, jobID uuid.UUID, fields map[string]any) error

	// Heartbeat touches updated_at of a running job so the reaper leaves it alone.
	Heartbeat(ctx context.Context, jobID uuid.UUID) error
}

// FailureResult builds the result document stored by Fail.
func FailureResult(errMsg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": errMsg})
	return b
}
