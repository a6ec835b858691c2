// Package reaper fails running jobs whose worker stopped heartbeating.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"jobrelay/internal/store"
)

// StuckMessage is the error stored on reaped jobs.
const StuckMessage = "worker stopped responding"

// Reaper periodically fails running jobs older than StuckAfter.
// Reaped jobs are not re-queued.
type Reaper struct {
	store      store.DepthStore
	interval   time.Duration
	stuckAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a reaper. Zero durations default to a 1m interval and 15m threshold.
func New(s store.DepthStore, interval, stuckAfter time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: s, interval: interval, stuckAfter: stuckAfter, logger: logger, now: time.Now}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are retried on the next tick
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("stuck job sweep failed", "error", err)
			}
		}
	}
}

// Sweep fails every stuck job once and returns how many were failed.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	n, err := r.store.FailStuck(ctx, r.now().Add(-r.stuckAfter), StuckMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("failed stuck jobs", "count", n, "stuck_after", r.stuckAfter)
	}
	return n, nil
}
