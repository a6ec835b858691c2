// Package autoscale turns queue depth into a desired worker count and
// publishes both to metric sinks and, optionally, to the orchestrator.
package autoscale

import (
	"math"
	"time"

	"jobrelay/internal/store"
)

// PolicyConfig bounds the desired worker count.
type PolicyConfig struct {
	TargetRatio      float64       // Pending jobs per worker (default: 5)
	MinWorkers       int           // default: 1
	MaxWorkers       int           // default: 20
	ScaleOutCooldown time.Duration // default: 60s
	ScaleInCooldown  time.Duration // default: 300s
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	if c.TargetRatio <= 0 {
		c.TargetRatio = 5
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 20
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.ScaleOutCooldown <= 0 {
		c.ScaleOutCooldown = 60 * time.Second
	}
	if c.ScaleInCooldown <= 0 {
		c.ScaleInCooldown = 300 * time.Second
	}
	return c
}

// Action is what a Decision asks the scaler to do.
type Action string

const (
	ActionNone     Action = "none"
	ActionScaleOut Action = "scale_out"
	ActionScaleIn  Action = "scale_in"
	ActionCooldown Action = "cooldown"
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Depth   store.QueueDepth `json:"depth"`
	Current int              `json:"current"`
	Desired int              `json:"desired"`
	Action  Action           `json:"action"`
	At      time.Time        `json:"at"`
}

// Policy computes desired worker counts and enforces cooldowns between
// scaling actions. It is not safe for concurrent use; the Publisher
// serializes access.
type Policy struct {
	cfg          PolicyConfig
	lastScaleOut time.Time
	lastScaleIn  time.Time
}

// NewPolicy creates a policy, filling unset fields with defaults.
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (p *Policy) Config() PolicyConfig {
	return p.cfg
}

// Desired returns clamp(max(ceil(pending/ratio), running), min, max).
// Running jobs are never abandoned by scaling below them.
func (p *Policy) Desired(depth store.QueueDepth) int {
	desired := int(math.Ceil(float64(depth.Pending) / p.cfg.TargetRatio))
	if running := int(depth.Running); running > desired {
		desired = running
	}
	if desired < p.cfg.MinWorkers {
		desired = p.cfg.MinWorkers
	}
	if desired > p.cfg.MaxWorkers {
		desired = p.cfg.MaxWorkers
	}
	return desired
}

// Decide compares the desired count with current and returns the action the
// cooldowns allow at now. Cooldowns only start once the action is committed.
func (p *Policy) Decide(depth store.QueueDepth, current int, now time.Time) Decision {
	d := Decision{Depth: depth, Current: current, Desired: p.Desired(depth), Action: ActionNone, At: now}

	switch {
	case d.Desired > current:
		if !p.lastScaleOut.IsZero() && now.Sub(p.lastScaleOut) < p.cfg.ScaleOutCooldown {
			d.Action = ActionCooldown
			return d
		}
		d.Action = ActionScaleOut
	case d.Desired < current:
		last := p.lastScaleOut
		if p.lastScaleIn.After(last) {
			last = p.lastScaleIn
		}
		if !last.IsZero() && now.Sub(last) < p.cfg.ScaleInCooldown {
			d.Action = ActionCooldown
			return d
		}
		d.Action = ActionScaleIn
	}
	return d
}

// Commit records a scaling action that was applied, starting its cooldown.
// Other actions are ignored.
func (p *Policy) Commit(d Decision) {
	switch d.Action {
	case ActionScaleOut:
		p.lastScaleOut = d.At
	case ActionScaleIn:
		p.lastScaleIn = d.At
	}
}
