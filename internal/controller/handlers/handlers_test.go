package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jobrelay/internal/autoscale"
	"jobrelay/internal/controller/middleware"
	"jobrelay/internal/store"
	"jobrelay/internal/store/memstore"

	"github.com/google/uuid"
)

// mockStore wraps the in-memory store with error hooks.
type mockStore struct {
	*memstore.Store

	createErr     error
	getErr        error
	listErr       error
	listEventsErr error
	depthErr      error
	pingErr       error

	// Spies (to verify arguments passed by handlers)
	capturedLimit    int
	capturedStatuses []store.JobStatus
	capturedAfterID  int64
}

func newMockStore() *mockStore {
	return &mockStore{Store: memstore.New()}
}

func (m *mockStore) Create(ctx context.Context, job *store.Job) error {
	if m.createErr != nil {
		return m.createErr
	}
	return m.Store.Create(ctx, job)
}

func (m *mockStore) Get(ctx context.Context, jobID uuid.UUID, ownerID string) (*store.Job, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.Store.Get(ctx, jobID, ownerID)
}

func (m *mockStore) List(ctx context.Context, ownerID string, statuses []store.JobStatus, limit int) ([]store.Job, error) {
	m.capturedLimit = limit
	m.capturedStatuses = statuses
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.Store.List(ctx, ownerID, statuses, limit)
}

func (m *mockStore) ListEvents(ctx context.Context, jobID uuid.UUID, afterID int64, limit int) ([]store.JobEvent, error) {
	m.capturedAfterID = afterID
	m.capturedLimit = limit
	if m.listEventsErr != nil {
		return nil, m.listEventsErr
	}
	return m.Store.ListEvents(ctx, jobID, afterID, limit)
}

func (m *mockStore) QueueDepth(ctx context.Context, window time.Duration) (store.QueueDepth, error) {
	if m.depthErr != nil {
		return store.QueueDepth{}, m.depthErr
	}
	return m.Store.QueueDepth(ctx, window)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

type staticDecisions struct {
	d  autoscale.Decision
	ok bool
}

func (s staticDecisions) Latest() (autoscale.Decision, bool) {
	return s.d, s.ok
}

func newTestHandlers(m *mockStore) *Handlers {
	return New(m, nil, 0, nil)
}

func seedJob(t *testing.T, m *mockStore, ownerID string, jobType store.JobType) *store.Job {
	t.Helper()
	job := &store.Job{OwnerID: ownerID, Type: jobType, Payload: []byte(`{"message":"hi"}`)}
	if err := m.Store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}

// ownerReq builds a request as it looks after the owner middleware ran.
func ownerReq(method, target, ownerID string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if ownerID != "" {
		req = req.WithContext(middleware.NewContextWithOwner(req.Context(), ownerID))
	}
	return req
}
