package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JobStore handles creation and owner-scoped reads of jobs.
type JobStore interface {
	// Create inserts a new pending job.
	Create(ctx context.Context, job *Job) error

	// Get returns the job if it belongs to ownerID, else ErrNotFound.
	Get(ctx context.Context, jobID uuid.UUID, ownerID string) (*Job, error)

	// List returns the most recent jobs of the owner, newest first.
	// A non-empty statuses restricts the result to those statuses.
	List(ctx context.Context, ownerID string, statuses []JobStatus, limit int) ([]Job, error)

	// AppendEvent adds an entry to the job's progress log.
	AppendEvent(ctx context.Context, jobID uuid.UUID, kind JobEventKind, content string) error

	// ListEvents returns progress log entries with id > afterID, oldest first.
	ListEvents(ctx context.Context, jobID uuid.UUID, afterID int64, limit int) ([]JobEvent, error)
}

// SnapshotStore keeps snapshot metadata; archives live in object storage.
type SnapshotStore interface {
	// LatestSnapshot returns the highest version of the lineage, or ErrNotFound.
	LatestSnapshot(ctx context.Context, lineage string) (*Snapshot, error)

	// CreateSnapshot records a new version. Versions are unique per lineage.
	CreateSnapshot(ctx context.Context, snap *Snapshot) error
}

// UsageStore appends usage records and debits owner balances atomically.
type UsageStore interface {
	// RecordUsage inserts the record and debits rec.Credits from the owner in one
	// transaction. It returns false when a record for the job already exists, in
	// which case nothing is debited.
	RecordUsage(ctx context.Context, rec *UsageRecord) (bool, error)
}

// DepthStore exposes aggregate queue counts and the stuck-job reaper.
type DepthStore interface {
	// QueueDepth counts pending, running and recently failed jobs.
	QueueDepth(ctx context.Context, failedWindow time.Duration) (QueueDepth, error)

	// FailStuck fails running jobs whose updated_at is older than olderThan.
	FailStuck(ctx context.Context, olderThan time.Time, errMsg string) (int64, error)
}
