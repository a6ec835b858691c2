package postgres

import (
	"context"
	"testing"
	"time"

	"jobrelay/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestAppendEvent(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	jobID := uuid.New()
	content := "navigating to https://example.com"

	mock.ExpectExec(`INSERT INTO job_events`).
		WithArgs(jobID, "progress", content).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.AppendEvent(ctx, jobID, store.JobEventProgress, content); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestListEvents(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	jobID := uuid.New()
	afterID := int64(100)
	limit := 50

	rows := sqlmock.NewRows([]string{"id", "job_id", "kind", "content", "created_at"}).
		AddRow(101, jobID.String(), "progress", "typing query", time.Now().Add(-2*time.Second)).
		AddRow(102, jobID.String(), "screenshot", "screenshots/x/latest.png", time.Now().Add(-1*time.Second))

	mock.ExpectQuery(`SELECT id, job_id, kind, content, created_at FROM job_events`).
		WithArgs(jobID, afterID, limit).
		WillReturnRows(rows)

	events, err := s.ListEvents(ctx, jobID, afterID, limit)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != 101 {
		t.Errorf("expected first event ID 101, got %d", events[0].ID)
	}
	if events[1].Kind != store.JobEventScreenshot {
		t.Errorf("expected second event to be a screenshot, got %s", events[1].Kind)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
