// Package metering estimates the cost of job executions and debits owner credits.
package metering

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"jobrelay/internal/store"
)

// Price is the USD cost per million tokens of a model.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Config holds the price table and credit conversion.
type Config struct {
	CreditsPerUSD float64
	Prices        map[string]Price
	// Baseline is the flat USD cost of a job type with no usage data.
	Baseline map[store.JobType]float64
	// MinCredits is the per-type floor of a debit.
	MinCredits map[store.JobType]int64
}

// DefaultConfig returns the built-in price table. 1 credit is $0.001.
func DefaultConfig() Config {
	return Config{
		CreditsPerUSD: 1000,
		Prices: map[string]Price{
			"llama-3.3-70b-versatile": {InputPerMillion: 0.59, OutputPerMillion: 0.79},
			"llama-3.1-8b-instant":    {InputPerMillion: 0.05, OutputPerMillion: 0.08},
			"gpt-4o-mini":             {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"gpt-4o":                  {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		},
		Baseline: map[store.JobType]float64{
			store.JobTypeChatCompletion:  0.001,
			store.JobTypeResearch:        0.002,
			store.JobTypeRemoteAgentTask: 0.01,
			store.JobTypeEcho:            0,
		},
		MinCredits: map[store.JobType]int64{
			store.JobTypeChatCompletion:  1,
			store.JobTypeResearch:        1,
			store.JobTypeRemoteAgentTask: 5,
		},
	}
}

// Usage is what a handler reported about its consumption.
type Usage struct {
	Model     string
	TokensIn  int
	TokensOut int
	// Cost is the provider-reported USD cost, when known.
	Cost *float64
}

// Meter turns usage into usage records and credit debits.
type Meter struct {
	store  store.UsageStore
	cfg    Config
	logger *slog.Logger
}

func New(s store.UsageStore, cfg Config, logger *slog.Logger) *Meter {
	if cfg.CreditsPerUSD <= 0 {
		cfg.CreditsPerUSD = DefaultConfig().CreditsPerUSD
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{store: s, cfg: cfg, logger: logger}
}

// Cost estimates the USD cost of one execution. A reported cost wins, then
// token usage priced by model, then the flat per-type baseline.
func (m *Meter) Cost(jobType store.JobType, u Usage) float64 {
	if u.Cost != nil && *u.Cost >= 0 {
		return *u.Cost
	}
	if price, ok := m.cfg.Prices[u.Model]; ok && (u.TokensIn > 0 || u.TokensOut > 0) {
		return float64(u.TokensIn)/1e6*price.InputPerMillion + float64(u.TokensOut)/1e6*price.OutputPerMillion
	}
	return m.cfg.Baseline[jobType]
}

// Credits converts a USD cost into whole credits, rounding up.
func (m *Meter) Credits(jobType store.JobType, cost float64) int64 {
	// Tolerate float noise so an exact multiple is not rounded up.
	credits := int64(math.Ceil(cost*m.cfg.CreditsPerUSD - 1e-9))
	if floor := m.cfg.MinCredits[jobType]; credits < floor {
		credits = floor
	}
	if credits < 0 {
		credits = 0
	}
	return credits
}

// Record writes the usage record of a job and debits its owner. A job that
// was already metered is not charged again and recorded is false.
func (m *Meter) Record(ctx context.Context, job *store.Job, u Usage) (rec *store.UsageRecord, recorded bool, err error) {
	cost := m.Cost(job.Type, u)
	rec = &store.UsageRecord{
		JobID:     job.ID,
		OwnerID:   job.OwnerID,
		JobType:   job.Type,
		Model:     u.Model,
		TokensIn:  u.TokensIn,
		TokensOut: u.TokensOut,
		CostUSD:   cost,
		Credits:   m.Credits(job.Type, cost),
		CreatedAt: time.Now().UTC(),
	}

	recorded, err = m.store.RecordUsage(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record usage for job %s: %w", job.ID, err)
	}
	if !recorded {
		m.logger.Info("usage already recorded", "job_id", job.ID)
	}
	return rec, recorded, nil
}
