// Package store contains the database layer for jobrelay.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a status change would leave a terminal state
	// or skip the claim step.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrOwnerNotFound is returned when a balance mutation targets an unknown owner.
	ErrOwnerNotFound = errors.New("owner not found")
)

// JobType selects the handler a worker dispatches a job to.
type JobType string

const (
	JobTypeChatCompletion  JobType = "chat_completion"
	JobTypeRemoteAgentTask JobType = "remote_agent_task"
	JobTypeResearch        JobType = "research"
	JobTypeEcho            JobType = "echo"
)

// JobTypes lists every job type known to this version.
var JobTypes = []JobType{JobTypeChatCompletion, JobTypeRemoteAgentTask, JobTypeResearch, JobTypeEcho}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is a unit of dispatchable work.
type Job struct {
	ID             uuid.UUID
	OwnerID        string
	ConversationID *string
	Type           JobType
	Status         JobStatus
	Payload        json.RawMessage
	Result         json.RawMessage
	Progress       json.RawMessage
	WorkerID       *string
	ClaimedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Lineage returns the key that groups snapshots across executions.
// Jobs of the same conversation share a workspace history.
func (j *Job) Lineage() string {
	if j.ConversationID != nil && *j.ConversationID != "" {
		return *j.ConversationID
	}
	return j.ID.String()
}

// Progress field names merged by UpdateProgress.
const (
	ProgressCurrentAction = "current_action"
	ProgressScreenshotKey = "screenshot_key"
	ProgressScreenshotURL = "screenshot_url"
	ProgressUpdatedAt     = "updated_at"
	// ProgressOutput holds the output a handler reported with a failure.
	ProgressOutput        = "output"
)

// Snapshot is a versioned archive of a job lineage's workspace.
type Snapshot struct {
	JobID     uuid.UUID
	Lineage   string
	ObjectKey string
	Version   int
	SizeBytes int64
	CreatedAt time.Time
}

// UsageRecord captures estimated consumption for one terminal job execution.
type UsageRecord struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	OwnerID   string
	JobType   JobType
	Model     string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	Credits   int64
	CreatedAt time.Time
}

// JobEventKind classifies relayed progress entries.
type JobEventKind string

const (
	JobEventProgress   JobEventKind = "progress"
	JobEventScreenshot JobEventKind = "screenshot"
	JobEventLifecycle  JobEventKind = "lifecycle"
)

// JobEvent is one entry of a job's relayed progress log.
type JobEvent struct {
	ID        int64
	JobID     uuid.UUID
	Kind      JobEventKind
	Content   string
	CreatedAt time.Time
}

// QueueDepth is the aggregate signal consumed by the autoscaler.
type QueueDepth struct {
	Pending      int64
	Running      int64
	FailedRecent int64
	ObservedAt   time.Time
}
