package metering

import (
	"context"
	"errors"
	"math"
	"testing"

	"jobrelay/internal/store"
	"jobrelay/internal/store/memstore"

	"github.com/google/uuid"
)

func ptr(f float64) *float64 { return &f }

func TestCost(t *testing.T) {
	m := New(nil, DefaultConfig(), nil)

	tests := []struct {
		name    string
		jobType store.JobType
		usage   Usage
		want    float64
	}{
		{"reported cost wins", store.JobTypeChatCompletion, Usage{Model: "gpt-4o", TokensIn: 1e6, Cost: ptr(0.42)}, 0.42},
		{"token pricing", store.JobTypeChatCompletion, Usage{Model: "gpt-4o-mini", TokensIn: 1e6, TokensOut: 1e6}, 0.75},
		{"unknown model falls back to baseline", store.JobTypeResearch, Usage{Model: "mystery", TokensIn: 500}, 0.002},
		{"no usage uses baseline", store.JobTypeRemoteAgentTask, Usage{}, 0.01},
		{"echo is free", store.JobTypeEcho, Usage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Cost(tt.jobType, tt.usage); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredits(t *testing.T) {
	m := New(nil, DefaultConfig(), nil)

	tests := []struct {
		name    string
		jobType store.JobType
		cost    float64
		want    int64
	}{
		{"rounds up", store.JobTypeChatCompletion, 0.0021, 3},
		{"exact multiple", store.JobTypeChatCompletion, 0.003, 3},
		{"per-type floor", store.JobTypeRemoteAgentTask, 0.001, 5},
		{"zero for echo", store.JobTypeEcho, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Credits(tt.jobType, tt.cost); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecord_DebitsOnce(t *testing.T) {
	s := memstore.New()
	s.SetBalance("owner-1", 1000)
	m := New(s, DefaultConfig(), nil)
	job := &store.Job{ID: uuid.New(), OwnerID: "owner-1", Type: store.JobTypeChatCompletion}
	usage := Usage{Model: "llama-3.3-70b-versatile", TokensIn: 12000, TokensOut: 3000}

	rec, recorded, err := m.Record(context.Background(), job, usage)
	if err != nil || !recorded {
		t.Fatalf("Record: recorded=%v err=%v", recorded, err)
	}
	// 12000*0.59/1e6 + 3000*0.79/1e6 = 0.00945 -> 10 credits
	if rec.Credits != 10 {
		t.Errorf("expected 10 credits, got %d", rec.Credits)
	}

	_, recorded, err = m.Record(context.Background(), job, usage)
	if err != nil || recorded {
		t.Fatalf("second Record: recorded=%v err=%v", recorded, err)
	}

	balance, _ := s.GetBalance(context.Background(), "owner-1")
	if balance != 990 {
		t.Errorf("expected balance 990, got %d", balance)
	}
}

func TestRecord_UnknownOwner(t *testing.T) {
	m := New(memstore.New(), DefaultConfig(), nil)
	job := &store.Job{ID: uuid.New(), OwnerID: "ghost", Type: store.JobTypeResearch}

	_, _, err := m.Record(context.Background(), job, Usage{})
	if !errors.Is(err, store.ErrOwnerNotFound) {
		t.Errorf("expected ErrOwnerNotFound, got %v", err)
	}
}
