// Package memstore is an in-process implementation of the store interfaces.
// It backs unit tests and single-process local development.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"jobrelay/internal/store"

	"github.com/google/uuid"
)

// Store keeps every record in memory behind a single mutex.
type Store struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*store.Job
	events    []store.JobEvent
	snapshots map[string][]store.Snapshot
	usage     map[uuid.UUID]store.UsageRecord
	balances  map[string]int64
	ledger    []LedgerEntry
	nextEvent int64
	now       func() time.Time
}

// LedgerEntry mirrors a credit_ledger row.
type LedgerEntry struct {
	OwnerID string
	Delta   int64
	Reason  string
	JobID   uuid.UUID
}

func New() *Store {
	return &Store{
		jobs:      make(map[uuid.UUID]*store.Job),
		snapshots: make(map[string][]store.Snapshot),
		usage:     make(map[uuid.UUID]store.UsageRecord),
		balances:  make(map[string]int64),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetBalance creates or replaces an owner's credit balance.
func (s *Store) SetBalance(ownerID string, credits int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ownerID] = credits
}

func (s *Store) GetBalance(_ context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[ownerID]
	if !ok {
		return 0, store.ErrOwnerNotFound
	}
	return balance, nil
}

// Ledger returns a copy of the credit ledger.
func (s *Store) Ledger() []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LedgerEntry(nil), s.ledger...)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func cloneJob(j *store.Job) *store.Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Progress != nil {
		c.Progress = append(json.RawMessage(nil), j.Progress...)
	}
	return &c
}

func (s *Store) Create(_ context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = store.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) Get(_ context.Context, jobID uuid.UUID, ownerID string) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) List(_ context.Context, ownerID string, statuses []store.JobStatus, limit int) ([]store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []store.Job
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && (len(statuses) == 0 || slices.Contains(statuses, job.Status)) {
			jobs = append(jobs, *cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Claim picks the oldest pending job. Holding the mutex across the
// select-and-update gives the same exclusivity as SKIP LOCKED.
func (s *Store) Claim(ctx context.Context, workerID string) (*store.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *store.Job
	for _, job := range s.jobs {
		if job.Status != store.JobStatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := s.now()
	worker := workerID
	oldest.Status = store.JobStatusRunning
	oldest.WorkerID = &worker
	oldest.ClaimedAt = &now
	oldest.UpdatedAt = now
	return cloneJob(oldest), nil
}

func (s *Store) Complete(_ context.Context, jobID uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	return s.finish(jobID, store.JobStatusCompleted, result)
}

func (s *Store) Fail(_ context.Context, jobID uuid.UUID, errMsg string) error {
	return s.finish(jobID, store.JobStatusFailed, store.FailureResult(errMsg))
}

func (s *Store) finish(jobID uuid.UUID, target store.JobStatus, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	switch job.Status {
	case store.JobStatusRunning:
		job.Status = target
		job.Result = append(json.RawMessage(nil), result...)
		job.UpdatedAt = s.now()
		return nil
	case target:
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, job.Status, target)
	}
}

func (s *Store) UpdateProgress(_ context.Context, jobID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != store.JobStatusRunning {
		return nil
	}

	merged := make(map[string]any)
	if len(job.Progress) > 0 {
		if err := json.Unmarshal(job.Progress, &merged); err != nil {
			return fmt.Errorf("corrupt progress document: %w", err)
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	doc, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("invalid progress fields: %w", err)
	}
	job.Progress = doc
	job.UpdatedAt = s.now()
	return nil
}

func (s *Store) Heartbeat(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[jobID]; ok && job.Status == store.JobStatusRunning {
		job.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) AppendEvent(_ context.Context, jobID uuid.UUID, kind store.JobEventKind, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEvent++
	s.events = append(s.events, store.JobEvent{
		ID:        s.nextEvent,
		JobID:     jobID,
		Kind:      kind,
		Content:   content,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *Store) ListEvents(_ context.Context, jobID uuid.UUID, afterID int64, limit int) ([]store.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.JobEvent
	for _, ev := range s.events {
		if ev.JobID != jobID || ev.ID <= afterID {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LatestSnapshot(_ context.Context, lineage string) (*store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.snapshots[lineage]
	if len(versions) == 0 {
		return nil, store.ErrNotFound
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

func (s *Store) CreateSnapshot(_ context.Context, snap *store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.snapshots[snap.Lineage]
	for _, v := range versions {
		if v.Version == snap.Version {
			return fmt.Errorf("snapshot %s v%d already exists", snap.Lineage, snap.Version)
		}
	}
	versions = append(versions, *snap)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	s.snapshots[snap.Lineage] = versions
	return nil
}

func (s *Store) RecordUsage(_ context.Context, rec *store.UsageRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usage[rec.JobID]; exists {
		return false, nil
	}
	if rec.Credits > 0 {
		if _, ok := s.balances[rec.OwnerID]; !ok {
			return false, store.ErrOwnerNotFound
		}
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.usage[rec.JobID] = *rec
	if rec.Credits > 0 {
		s.balances[rec.OwnerID] -= rec.Credits
		s.ledger = append(s.ledger, LedgerEntry{
			OwnerID: rec.OwnerID,
			Delta:   -rec.Credits,
			Reason:  "job:" + string(rec.JobType),
			JobID:   rec.JobID,
		})
	}
	return true, nil
}

// Usage returns the usage record for a job, if any.
func (s *Store) Usage(jobID uuid.UUID) (store.UsageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.usage[jobID]
	return rec, ok
}

func (s *Store) QueueDepth(_ context.Context, failedWindow time.Duration) (store.QueueDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	depth := store.QueueDepth{ObservedAt: now}
	for _, job := range s.jobs {
		switch job.Status {
		case store.JobStatusPending:
			depth.Pending++
		case store.JobStatusRunning:
			depth.Running++
		case store.JobStatusFailed:
			if now.Sub(job.UpdatedAt) <= failedWindow {
				depth.FailedRecent++
			}
		}
	}
	return depth, nil
}

func (s *Store) FailStuck(_ context.Context, olderThan time.Time, errMsg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, job := range s.jobs {
		if job.Status == store.JobStatusRunning && job.UpdatedAt.Before(olderThan) {
			job.Status = store.JobStatusFailed
			job.Result = store.FailureResult(errMsg)
			job.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}
