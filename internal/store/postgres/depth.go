package postgres

import (
	"context"
	"time"

	"jobrelay/internal/store"
)

// QueueDepth counts pending and running jobs plus jobs failed within failedWindow.
func (s *Store) QueueDepth(ctx context.Context, failedWindow time.Duration) (store.QueueDepth, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3 AND updated_at >= NOW() - ($4 * INTERVAL '1 second'))
		FROM jobs
		WHERE status IN ($1, $2) OR (status = $3 AND updated_at >= NOW() - ($4 * INTERVAL '1 second'))
	`

	depth := store.QueueDepth{ObservedAt: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx, query,
		store.JobStatusPending, store.JobStatusRunning, store.JobStatusFailed, failedWindow.Seconds(),
	).Scan(&depth.Pending, &depth.Running, &depth.FailedRecent)
	if err != nil {
		return store.QueueDepth{}, err
	}
	return depth, nil
}

// FailStuck fails running jobs that stopped heartbeating.
func (s *Store) FailStuck(ctx context.Context, olderThan time.Time, errMsg string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, result = $2, updated_at = NOW()
		WHERE status = $3 AND updated_at < $4
	`, store.JobStatusFailed, string(store.FailureResult(errMsg)), store.JobStatusRunning, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
