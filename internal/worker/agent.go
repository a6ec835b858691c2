// Package worker contains the worker-specific logic for job execution.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"jobrelay/internal/metering"
	"jobrelay/internal/store"
	"jobrelay/internal/worker/handler"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                string
	PollInterval      time.Duration // Sleep between claims when the queue is empty (default: 1s)
	MaxBackoff        time.Duration // Cap of the backoff after claim errors (default: 30s)
	HeartbeatInterval time.Duration // Interval between heartbeats of the running job (default: 30s)
	JobTimeout        time.Duration // Upper bound of one execution (default: 30m)
	TerminalRetries   int           // Attempts of the final complete/fail write (default: 5)
	TerminalBackoff   time.Duration // Initial delay between those attempts (default: 500ms)
}

// Snapshots restores and persists job workspaces.
type Snapshots interface {
	Restore(ctx context.Context, job *store.Job) (string, error)
	NewWorkspace(job *store.Job) (string, error)
	Persist(ctx context.Context, job *store.Job, path string) (*store.Snapshot, error)
	Cleanup(path string)
}

// Meter records usage of a finished execution.
type Meter interface {
	Record(ctx context.Context, job *store.Job, u metering.Usage) (*store.UsageRecord, bool, error)
}

// Agent is the worker's poll loop. It runs one job at a time.
type Agent struct {
	queue     store.Queue
	handlers  handler.Registry
	snapshots Snapshots
	meter     Meter
	config    AgentConfig
	logger    *slog.Logger
	metrics   *agentMetrics
	done      chan struct{}
}

type agentMetrics struct {
	jobs     metric.Int64Counter
	duration metric.Float64Histogram
}

func newAgentMetrics() *agentMetrics {
	meter := otel.Meter("jobrelay/worker")
	jobs, _ := meter.Int64Counter("jobrelay.worker.jobs",
		metric.WithDescription("Jobs processed by this worker, by type and outcome"))
	duration, _ := meter.Float64Histogram("jobrelay.worker.job.duration",
		metric.WithDescription("Job execution time"),
		metric.WithUnit("s"))
	return &agentMetrics{jobs: jobs, duration: duration}
}

// New creates a new worker agent. meter may be nil to disable metering.
func New(q store.Queue, handlers handler.Registry, snapshots Snapshots, meter Meter, config AgentConfig, logger *slog.Logger) *Agent {
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}

	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}

	if config.TerminalRetries <= 0 {
		config.TerminalRetries = 5
	}

	if config.TerminalBackoff <= 0 {
		config.TerminalBackoff = 500 * time.Millisecond
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		queue:     q,
		handlers:  handlers,
		snapshots: snapshots,
		meter:     meter,
		config:    config,
		logger:    logger.With("worker_id", config.ID),
		metrics:   newAgentMetrics(),
		done:      make(chan struct{}),
	}
}

// Run starts the poll loop. It blocks until the context is cancelled.
// Cancellation stops claiming; a job already claimed runs to completion.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)
	a.logger.Info("worker starting", "poll_interval", a.config.PollInterval)

	backoff := a.config.PollInterval
	for {
		if ctx.Err() != nil {
			a.logger.Info("worker stopped")
			return ctx.Err()
		}

		job, err := a.queue.Claim(ctx, a.config.ID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			a.logger.Error("claim failed", "error", err, "retry_in", backoff)
			a.sleep(ctx, backoff)
			backoff *= 2
			if backoff > a.config.MaxBackoff {
				backoff = a.config.MaxBackoff
			}
			continue
		}
		backoff = a.config.PollInterval

		if job == nil {
			a.sleep(ctx, a.config.PollInterval)
			continue
		}

		a.processJob(job)
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

func (a *Agent) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// processJob executes a claimed job. It runs on a context detached from the
// poll loop so shutdown does not interrupt it.
func (a *Agent) processJob(job *store.Job) {
	start := time.Now()
	logger := a.logger.With("job_id", job.ID, "job_type", job.Type)

	tracer := otel.Tracer("jobrelay/worker")
	ctx, span := tracer.Start(context.Background(), "process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.type", string(job.Type)),
			attribute.String("owner.id", job.OwnerID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	execCtx, cancel := context.WithTimeout(ctx, a.config.JobTimeout)
	defer cancel()

	logger.Info("processing job")

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go a.runHeartbeat(heartbeatCtx, job)

	status, errMsg := a.execute(execCtx, ctx, job, logger)

	if status == store.JobStatusFailed {
		span.SetStatus(codes.Error, errMsg)
		logger.Warn("job failed", "error", errMsg)
	} else {
		logger.Info("job completed", "duration", time.Since(start))
	}

	attrs := metric.WithAttributes(
		attribute.String("job.type", string(job.Type)),
		attribute.String("status", string(status)),
	)
	a.metrics.jobs.Add(ctx, 1, attrs)
	a.metrics.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// execute runs the job and writes its terminal status. It returns the status
// written and the failure message, if any.
func (a *Agent) execute(execCtx, ctx context.Context, job *store.Job, logger *slog.Logger) (store.JobStatus, string) {
	h, ok := a.handlers.Lookup(job.Type)
	if !ok {
		msg := fmt.Sprintf("unsupported job type: %s", job.Type)
		a.finish(ctx, job, nil, msg, logger)
		return store.JobStatusFailed, msg
	}

	workspace, err := a.snapshots.Restore(execCtx, job)
	if err != nil {
		msg := fmt.Sprintf("snapshot restore failed: %v", err)
		a.finish(ctx, job, nil, msg, logger)
		return store.JobStatusFailed, msg
	}
	if workspace == "" {
		workspace, err = a.snapshots.NewWorkspace(job)
		if err != nil {
			msg := fmt.Sprintf("workspace setup failed: %v", err)
			a.finish(ctx, job, nil, msg, logger)
			return store.JobStatusFailed, msg
		}
	}
	defer a.snapshots.Cleanup(workspace)

	res, err := a.dispatch(execCtx, h, job, workspace)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && execCtx.Err() != nil {
			err = fmt.Errorf("job timed out after %v: %w", a.config.JobTimeout, err)
		}
		a.finish(ctx, job, nil, err.Error(), logger)
		return store.JobStatusFailed, err.Error()
	}

	if res.Success {
		if _, err := a.snapshots.Persist(ctx, job, workspace); err != nil {
			logger.Error("snapshot persist failed", "error", err)
		}
	}

	a.record(ctx, job, res, logger)

	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "job failed"
		}
		if len(res.Output) > 0 {
			if err := a.queue.UpdateProgress(ctx, job.ID, map[string]any{store.ProgressOutput: res.Output}); err != nil {
				logger.Warn("failed to keep output of failed job", "error", err)
			}
		}
		a.finish(ctx, job, nil, msg, logger)
		return store.JobStatusFailed, msg
	}

	a.finish(ctx, job, res, "", logger)
	return store.JobStatusCompleted, ""
}

// dispatch calls the handler, converting a panic into an error.
func (a *Agent) dispatch(ctx context.Context, h handler.Handler, job *store.Job, workspace string) (res *handler.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("handler panicked", "job_id", job.ID, "panic", p, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("handler panicked: %v", p)
		}
	}()

	res, err = h.Handle(ctx, job, workspace)
	if err == nil && res == nil {
		err = errors.New("handler returned no result")
	}
	return res, err
}

func (a *Agent) record(ctx context.Context, job *store.Job, res *handler.Result, logger *slog.Logger) {
	if a.meter == nil {
		return
	}
	usage := metering.Usage{Model: res.Model, TokensIn: res.TokensIn, TokensOut: res.TokensOut, Cost: res.Cost}
	rec, recorded, err := a.meter.Record(ctx, job, usage)
	if err != nil {
		logger.Error("metering failed", "error", err)
		return
	}
	if recorded {
		logger.Info("usage recorded", "credits", rec.Credits, "cost_usd", rec.CostUSD)
	}
}

// finish writes the terminal status, retrying transient store errors.
// res nil means failure with errMsg.
func (a *Agent) finish(ctx context.Context, job *store.Job, res *handler.Result, errMsg string, logger *slog.Logger) {
	delay := a.config.TerminalBackoff
	for attempt := 1; ; attempt++ {
		var err error
		if res != nil {
			err = a.queue.Complete(ctx, job.ID, res.Output)
		} else {
			err = a.queue.Fail(ctx, job.ID, errMsg)
		}
		if err == nil {
			return
		}
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			logger.Error("terminal write rejected", "error", err)
			return
		}
		if attempt >= a.config.TerminalRetries {
			logger.Error("terminal write failed, giving up", "attempts", attempt, "error", err)
			return
		}
		logger.Warn("terminal write failed, retrying", "attempt", attempt, "error", err)
		time.Sleep(delay)
		delay *= 2
	}
}

// runHeartbeat touches the running job so the reaper does not fail it.
func (a *Agent) runHeartbeat(ctx context.Context, job *store.Job) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.queue.Heartbeat(ctx, job.ID); err != nil && ctx.Err() == nil {
				a.logger.Warn("heartbeat failed", "job_id", job.ID, "error", err)
			}
		}
	}
}
