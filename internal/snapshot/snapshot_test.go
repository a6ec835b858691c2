package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobrelay/internal/objectstore"
	"jobrelay/internal/store"
	"jobrelay/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
)

func newManager(t *testing.T) (*Manager, *objectstore.Memory, *memstore.Store) {
	t.Helper()
	objects := objectstore.NewMemory("https://cdn.test")
	meta := memstore.New()
	return New(objects, meta, t.TempDir(), nil), objects, meta
}

func newJob(conversation string) *store.Job {
	job := &store.Job{ID: uuid.New(), OwnerID: "owner-1", Type: store.JobTypeResearch}
	if conversation != "" {
		job.ConversationID = &conversation
	}
	return job
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
}

func TestRestore_NoSnapshot(t *testing.T) {
	m, _, _ := newManager(t)

	path, err := m.Restore(context.Background(), newJob(""))
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if path != "" {
		t.Errorf("expected no workspace, got %s", path)
	}
}

func TestPersistRestore_RoundTrip(t *testing.T) {
	m, objects, _ := newManager(t)
	ctx := context.Background()

	first := newJob("conv-1")
	ws, err := m.NewWorkspace(first)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(ws, "research.md"), "# notes\n", 0o644)
	writeFile(t, filepath.Join(ws, "bin", "run.sh"), "#!/bin/sh\necho hi\n", 0o755)

	snap, err := m.Persist(ctx, first, ws)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if snap.Version != 1 {
		t.Errorf("expected version 1, got %d", snap.Version)
	}
	wantKey := "snapshots/" + first.ID.String() + "/v1.zip"
	if snap.ObjectKey != wantKey {
		t.Errorf("got key %s, want %s", snap.ObjectKey, wantKey)
	}
	if ct := objects.ContentType(wantKey); ct != "application/zip" {
		t.Errorf("got content type %q", ct)
	}
	m.Cleanup(ws)

	// A follow-up job in the same conversation sees the files.
	second := newJob("conv-1")
	restored, err := m.Restore(ctx, second)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	defer m.Cleanup(restored)

	data, err := os.ReadFile(filepath.Join(restored, "research.md"))
	if err != nil || string(data) != "# notes\n" {
		t.Errorf("research.md = %q, %v", data, err)
	}
	info, err := os.Stat(filepath.Join(restored, "bin", "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("expected executable bit preserved, got %v", info.Mode())
	}

	snap2, err := m.Persist(ctx, second, restored)
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if snap2.Version != 2 {
		t.Errorf("expected version 2, got %d", snap2.Version)
	}
	if snap2.ObjectKey == snap.ObjectKey {
		t.Error("snapshot key reused")
	}
}

func TestPersist_EmptyWorkspaceSkipped(t *testing.T) {
	m, objects, _ := newManager(t)
	job := newJob("")

	ws, _ := m.NewWorkspace(job)
	defer m.Cleanup(ws)

	snap, err := m.Persist(context.Background(), job, ws)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if snap != nil {
		t.Errorf("expected no snapshot, got %+v", snap)
	}
	if keys := objects.Keys("snapshots/"); len(keys) != 0 {
		t.Errorf("expected no uploads, got %v", keys)
	}
}

type brokenUploads struct {
	*objectstore.Memory
	fail bool
}

func (b *brokenUploads) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if b.fail {
		return errors.New("bucket unavailable")
	}
	return b.Memory.Put(ctx, key, body, contentType)
}

func TestPersist_FailedUploadKeepsPreviousVersion(t *testing.T) {
	objects := &brokenUploads{Memory: objectstore.NewMemory("")}
	meta := memstore.New()
	m := New(objects, meta, t.TempDir(), nil)
	ctx := context.Background()

	job := newJob("conv-9")
	ws, _ := m.NewWorkspace(job)
	defer m.Cleanup(ws)
	writeFile(t, filepath.Join(ws, "a.txt"), "a", 0o644)

	if _, err := m.Persist(ctx, job, ws); err != nil {
		t.Fatalf("first persist: %v", err)
	}

	objects.fail = true
	if _, err := m.Persist(ctx, job, ws); err == nil {
		t.Fatal("expected upload failure")
	}

	latest, err := meta.LatestSnapshot(ctx, "conv-9")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 1 {
		t.Errorf("expected version 1 to stay current, got %d", latest.Version)
	}
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("../escape.txt")
	w.Write([]byte("gotcha"))
	zw.Close()
	if err := os.WriteFile(archive, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "ws")
	os.Mkdir(dest, 0o755)
	err := extract(archive, dest)
	if err == nil || !strings.Contains(err.Error(), "illegal path") {
		t.Errorf("expected illegal path error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("file escaped the workspace")
	}
}
