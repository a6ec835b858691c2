package postgres

import (
	"context"
	"database/sql"
	"errors"

	"jobrelay/internal/store"
)

// LatestSnapshot returns the highest snapshot version recorded for the lineage.
func (s *Store) LatestSnapshot(ctx context.Context, lineage string) (*store.Snapshot, error) {
	query := `
		SELECT job_id, lineage, object_key, version, size_bytes, created_at
		FROM snapshots
		WHERE lineage = $1
		ORDER BY version DESC
		LIMIT 1
	`

	var snap store.Snapshot
	err := s.db.QueryRowContext(ctx, query, lineage).Scan(
		&snap.JobID, &snap.Lineage, &snap.ObjectKey, &snap.Version, &snap.SizeBytes, &snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// CreateSnapshot records snapshot metadata. The (lineage, version) unique
// constraint rejects a concurrent writer that picked the same version.
func (s *Store) CreateSnapshot(ctx context.Context, snap *store.Snapshot) error {
	query := `
		INSERT INTO snapshots (job_id, lineage, object_key, version, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.JobID, snap.Lineage, snap.ObjectKey, snap.Version, snap.SizeBytes, snap.CreatedAt,
	)
	return err
}
