package autoscale

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobrelay/internal/store"
)

// PublisherConfig controls the publish loop.
type PublisherConfig struct {
	Interval     time.Duration // default: 60s
	FailedWindow time.Duration // default: 5m
}

// Publisher periodically samples queue depth, evaluates the policy, applies
// it through the scaler and forwards the decision to every sink.
type Publisher struct {
	depth  store.DepthStore
	policy *Policy
	scaler Scaler
	sinks  []Sink
	config PublisherConfig
	logger *slog.Logger

	mu     sync.RWMutex
	latest *Decision
}

// NewPublisher creates a publisher. scaler may be nil to only publish.
func NewPublisher(depth store.DepthStore, policy *Policy, scaler Scaler, sinks []Sink, config PublisherConfig, logger *slog.Logger) *Publisher {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.FailedWindow <= 0 {
		config.FailedWindow = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		depth:  depth,
		policy: policy,
		scaler: scaler,
		sinks:  sinks,
		config: config,
		logger: logger,
	}
}

// Run ticks immediately and then every Interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Tick(ctx, time.Now()); err != nil && ctx.Err() == nil {
			p.logger.Error("queue depth publish failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one sample/decide/publish round.
func (p *Publisher) Tick(ctx context.Context, now time.Time) (Decision, error) {
	depth, err := p.depth.QueueDepth(ctx, p.config.FailedWindow)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read queue depth: %w", err)
	}

	current := int(depth.Running)
	if p.scaler != nil {
		if c, err := p.scaler.Current(ctx); err != nil {
			p.logger.Warn("failed to read current worker count", "error", err)
		} else {
			current = c
		}
	}

	d := p.policy.Decide(depth, current, now)
	p.logger.Info("queue depth",
		"pending", depth.Pending,
		"running", depth.Running,
		"failed_recent", depth.FailedRecent,
		"current", d.Current,
		"desired", d.Desired,
		"action", d.Action,
	)

	var errs []error
	switch {
	case d.Action != ActionScaleOut && d.Action != ActionScaleIn:
	case p.scaler == nil:
		p.policy.Commit(d)
	default:
		// A failed scale is retried on the next tick, not after a cooldown.
		if err := p.scaler.Scale(ctx, d.Desired); err != nil {
			errs = append(errs, err)
		} else {
			p.policy.Commit(d)
		}
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	p.latest = &d
	p.mu.Unlock()

	return d, errors.Join(errs...)
}

// Latest returns the most recent decision, if any.
func (p *Publisher) Latest() (Decision, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Decision{}, false
	}
	return *p.latest, true
}
