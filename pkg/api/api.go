// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// OwnerHeader carries the owner on every /jobs request.
const OwnerHeader = "X-Owner-ID"

// CreateJobRequest is the request body for submitting a job.
type CreateJobRequest struct {
	// OwnerID must match the owner header when set.
	OwnerID        string          `json:"owner_id,omitempty"`
	ConversationID *string         `json:"conversation_id,omitempty" validate:"omitempty,max=255"`
	Type           string          `json:"type" validate:"required,jobtype"`
	Payload        json.RawMessage `json:"payload"`
}

// CreateJobResponse is the response body after submitting a job.
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResponse is the full job record.
type JobResponse struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	ConversationID *string         `json:"conversation_id,omitempty"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Progress       json.RawMessage `json:"progress,omitempty"`
	WorkerID       *string         `json:"worker_id,omitempty"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// JobSummary is one entry of the job list.
type JobSummary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventEntry is one relayed progress entry.
type EventEntry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ListEventsResponse is the response body for fetching a job's progress log.
type ListEventsResponse struct {
	Events []EventEntry `json:"events"`
}

// QueueDepthResponse reports current queue counts and the latest scaling decision.
type QueueDepthResponse struct {
	Pending      int64      `json:"pending"`
	Running      int64      `json:"running"`
	FailedRecent int64      `json:"failed_recent"`
	ObservedAt   time.Time  `json:"observed_at"`
	Desired      *int       `json:"desired_workers,omitempty"`
	Action       string     `json:"action,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
}

// BalanceResponse reports the owner's credit balance.
type BalanceResponse struct {
	OwnerID string `json:"owner_id"`
	Credits int64  `json:"credits"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
