package postgres

import (
	"context"

	"jobrelay/internal/store"

	"github.com/google/uuid"
)

func (s *Store) AppendEvent(ctx context.Context, jobID uuid.UUID, kind store.JobEventKind, content string) error {
	query := `INSERT INTO job_events (job_id, kind, content) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, jobID, kind, content)
	return err
}

func (s *Store) ListEvents(ctx context.Context, jobID uuid.UUID, afterID int64, limit int) ([]store.JobEvent, error) {
	query := `
		SELECT id, job_id, kind, content, created_at
		FROM job_events
		WHERE job_id = $1 and id > $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, jobID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.JobEvent
	for rows.Next() {
		var entry store.JobEvent
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Kind, &entry.Content, &entry.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, entry)
	}

	return events, rows.Err()
}
