package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jobrelay/internal/store"

	"github.com/google/uuid"
)

// GetBalance returns the owner's current credit balance.
func (s *Store) GetBalance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, "SELECT credit_balance FROM owners WHERE id = $1", ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrOwnerNotFound
		}
		return 0, err
	}
	return balance, nil
}

// DebitCredits is the single balance mutation path: it lowers the balance and
// appends a ledger entry using the caller's transaction.
func (s *Store) DebitCredits(ctx context.Context, tx store.DBTransaction, ownerID string, credits int64, reason string, jobID *uuid.UUID) error {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE owners
		SET credit_balance = credit_balance - $1, updated_at = NOW()
		WHERE id = $2
	`, credits, ownerID)
	if err != nil {
		return fmt.Errorf("failed to debit owner %s: %w", ownerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrOwnerNotFound
	}

	_, err = executor.ExecContext(ctx, `
		INSERT INTO credit_ledger (owner_id, delta, reason, job_id)
		VALUES ($1, $2, $3, $4)
	`, ownerID, -credits, reason, jobID)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// RecordUsage inserts a usage record and debits the owner in one transaction.
func (s *Store) RecordUsage(ctx context.Context, rec *store.UsageRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO usage_records (id, job_id, owner_id, job_type, model, tokens_in, tokens_out, cost_usd, credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO NOTHING
	`, rec.ID, rec.JobID, rec.OwnerID, rec.JobType, rec.Model, rec.TokensIn, rec.TokensOut, rec.CostUSD, rec.Credits)
	if err != nil {
		return false, fmt.Errorf("failed to insert usage record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// Already metered by an earlier attempt
	if n == 0 {
		return false, nil
	}

	if rec.Credits > 0 {
		jobID := rec.JobID
		if err := s.DebitCredits(ctx, tx, rec.OwnerID, rec.Credits, "job:"+string(rec.JobType), &jobID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
