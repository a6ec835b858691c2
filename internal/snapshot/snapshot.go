// Package snapshot persists and restores job workspaces as versioned zip
// archives in object storage.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jobrelay/internal/objectstore"
	"jobrelay/internal/store"

	"github.com/klauspost/compress/zip"
)

const archiveContentType = "application/zip"

// Manager restores the latest snapshot of a job lineage into a fresh
// workspace and persists the workspace as the next version.
type Manager struct {
	objects objectstore.Store
	meta    store.SnapshotStore
	tempDir string
	logger  *slog.Logger
}

// New creates a Manager. Workspaces and temporary archives are created under
// tempDir, or the OS temp directory when empty.
func New(objects objectstore.Store, meta store.SnapshotStore, tempDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{objects: objects, meta: meta, tempDir: tempDir, logger: logger}
}

// ObjectKey returns the storage key of a snapshot version.
func ObjectKey(jobID string, version int) string {
	return fmt.Sprintf("snapshots/%s/v%d.zip", jobID, version)
}

// NewWorkspace creates an empty workspace directory for the job.
func (m *Manager) NewWorkspace(job *store.Job) (string, error) {
	dir, err := os.MkdirTemp(m.tempDir, "jobrelay-"+job.ID.String()+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// Restore extracts the latest snapshot of the job's lineage into a new
// workspace. It returns "" when the lineage has no snapshot yet.
func (m *Manager) Restore(ctx context.Context, job *store.Job) (string, error) {
	snap, err := m.meta.LatestSnapshot(ctx, job.Lineage())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up snapshot: %w", err)
	}

	archive, err := m.download(ctx, snap.ObjectKey)
	if err != nil {
		return "", err
	}
	defer os.Remove(archive)

	dir, err := m.NewWorkspace(job)
	if err != nil {
		return "", err
	}
	if err := extract(archive, dir); err != nil {
		m.Cleanup(dir)
		return "", fmt.Errorf("failed to extract %s: %w", snap.ObjectKey, err)
	}

	m.logger.Info("snapshot restored", "job_id", job.ID, "lineage", snap.Lineage, "version", snap.Version)
	return dir, nil
}

func (m *Manager) download(ctx context.Context, key string) (string, error) {
	body, err := m.objects.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer body.Close()

	f, err := os.CreateTemp(m.tempDir, "jobrelay-restore-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to download snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Persist archives the workspace as the next version of the job's lineage.
// The archive is uploaded before the metadata row is written, so a failed
// upload leaves the previous version current. An empty workspace with no
// earlier snapshot is skipped and (nil, nil) is returned.
func (m *Manager) Persist(ctx context.Context, job *store.Job, path string) (*store.Snapshot, error) {
	lineage := job.Lineage()
	version := 1
	latest, err := m.meta.LatestSnapshot(ctx, lineage)
	switch {
	case err == nil:
		version = latest.Version + 1
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to look up snapshot: %w", err)
	}

	empty, err := isEmptyDir(path)
	if err != nil {
		return nil, err
	}
	if empty && latest == nil {
		return nil, nil
	}

	archive, err := os.CreateTemp(m.tempDir, "jobrelay-persist-*.zip")
	if err != nil {
		return nil, err
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	if err := compress(path, archive); err != nil {
		return nil, fmt.Errorf("failed to archive workspace: %w", err)
	}
	size, err := archive.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	key := ObjectKey(job.ID.String(), version)
	if err := m.objects.Put(ctx, key, archive, archiveContentType); err != nil {
		return nil, err
	}

	snap := &store.Snapshot{
		JobID:     job.ID,
		Lineage:   lineage,
		ObjectKey: key,
		Version:   version,
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.meta.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	m.logger.Info("snapshot persisted", "job_id", job.ID, "lineage", lineage, "version", version, "bytes", size)
	return snap, nil
}

// Cleanup removes a workspace. Failures are logged only.
func (m *Manager) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("workspace cleanup failed", "path", path, "error", err)
	}
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, fmt.Errorf("failed to read workspace: %w", err)
	}
	return len(entries) == 0, nil
}

func compress(root string, w io.Writer) error {
	zw := zip.NewWriter(w)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		// Only regular files and directories are archived.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
			_, err = zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate

		dst, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func extract(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	root := filepath.Clean(dest) + string(os.PathSeparator)
	for _, f := range zr.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("illegal path in archive: %s", f.Name)
		}

		mode := f.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return err
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, target, mode.Perm()); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string, perm os.FileMode) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
