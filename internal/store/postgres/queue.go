package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"jobrelay/internal/store"

	"github.com/google/uuid"
)

const jobColumns = `id, owner_id, conversation_id, type, status, payload, result, progress, worker_id, claimed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var job store.Job
	var payload, result, progress []byte
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.ConversationID, &job.Type, &job.Status,
		&payload, &result, &progress,
		&job.WorkerID, &job.ClaimedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if len(progress) > 0 {
		job.Progress = json.RawMessage(progress)
	}
	return &job, nil
}

// jsonParam converts a JSON document into a text parameter.
// lib/pq would encode []byte as bytea, which jsonb columns reject.
func jsonParam(doc json.RawMessage) interface{} {
	if len(doc) == 0 {
		return nil
	}
	return string(doc)
}

// Claim atomically claims the oldest pending job using SELECT ... FOR UPDATE SKIP LOCKED.
// Returns (nil, nil) if no job is pending.
func (s *Store) Claim(ctx context.Context, workerID string) (*store.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var jobID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, store.JobStatusPending).Scan(&jobID)
	if err != nil {
		// Empty queue
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim query failed: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $1, worker_id = $2, claimed_at = NOW(), updated_at = NOW()
		WHERE id = $3
		RETURNING `+jobColumns,
		store.JobStatusRunning, workerID, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("claim update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return job, nil
}

// Complete handles a successful job execution.
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	return s.finish(ctx, jobID, store.JobStatusCompleted, result)
}

// Fail handles a failed job execution. Jobs are never retried automatically.
func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	return s.finish(ctx, jobID, store.JobStatusFailed, store.FailureResult(errMsg))
}

// finish moves a running job into a terminal status. A job already in the
// target status is left untouched so repeated calls do not overwrite the result.
func (s *Store) finish(ctx context.Context, jobID uuid.UUID, target store.JobStatus, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, result = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, target, jsonParam(result), jobID, store.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", jobID, target, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current store.JobStatus
	err = s.db.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = $1", jobID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if current == target {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, current, target)
}

// UpdateProgress merges fields into the progress document.
// Terminal jobs are not touched.
func (s *Store) UpdateProgress(ctx context.Context, jobID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("invalid progress fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress = COALESCE(progress, '{}'::jsonb) || $1::jsonb, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(doc), jobID, store.JobStatusRunning)
	return err
}

// Heartbeat refreshes updated_at while a job is running.
func (s *Store) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, jobID, store.JobStatusRunning)
	return err
}
