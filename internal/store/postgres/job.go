package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"jobrelay/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Create inserts a new pending job row.
func (s *Store) Create(ctx context.Context, job *store.Job) error {
	query := `
		INSERT INTO jobs (id, owner_id, conversation_id, type, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = store.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.ConversationID,
		job.Type,
		job.Status,
		jsonParam(job.Payload),
		job.CreatedAt,
	)
	return err
}

// Get returns the job when it belongs to ownerID.
func (s *Store) Get(ctx context.Context, jobID uuid.UUID, ownerID string) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1 AND owner_id = $2"

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List returns the owner's most recent jobs.
func (s *Store) List(ctx context.Context, ownerID string, statuses []store.JobStatus, limit int) ([]store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2"
	args := []any{ownerID, limit}
	if len(statuses) > 0 {
		filter := make([]string, len(statuses))
		for i, st := range statuses {
			filter[i] = string(st)
		}
		query = "SELECT " + jobColumns + " FROM jobs WHERE owner_id = $1 AND status = ANY($3) ORDER BY created_at DESC LIMIT $2"
		args = append(args, pq.Array(filter))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}
