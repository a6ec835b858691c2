// Package progress relays live remote-agent progress into the job record,
// the job event log, object storage and optionally Redis pub/sub.
package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"jobrelay/internal/objectstore"
	"jobrelay/internal/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client used for fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message is published to Channel(jobID) for every relayed update.
type Message struct {
	JobID         string    `json:"job_id"`
	Kind          string    `json:"kind"`
	CurrentAction string    `json:"current_action,omitempty"`
	ScreenshotURL string    `json:"screenshot_url,omitempty"`
	At            time.Time `json:"at"`
}

// Channel returns the pub/sub channel of a job.
func Channel(jobID uuid.UUID) string {
	return "jobrelay:jobs:" + jobID.String() + ":progress"
}

// ScreenshotKey returns the object key of a job's latest screenshot.
func ScreenshotKey(jobID uuid.UUID, mimeType string) string {
	return fmt.Sprintf("screenshots/%s/latest.%s", jobID, extension(mimeType))
}

func extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

// maxActionLen bounds current_action and event content.
const maxActionLen = 500

// Relay implements the worker's progress reporter.
type Relay struct {
	queue     store.Queue
	events    store.JobStore
	objects   objectstore.Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewRelay builds a Relay. objects and publisher may be nil.
func NewRelay(q store.Queue, events store.JobStore, objects objectstore.Store, publisher Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		queue:     q,
		events:    events,
		objects:   objects,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Progress records the agent's current action.
func (r *Relay) Progress(ctx context.Context, jobID uuid.UUID, text string) error {
	text = clip(text)
	now := r.now()

	var errs []error
	if err := r.queue.UpdateProgress(ctx, jobID, map[string]any{
		store.ProgressCurrentAction: text,
		store.ProgressUpdatedAt:     now.Format(time.RFC3339Nano),
	}); err != nil {
		errs = append(errs, fmt.Errorf("update progress: %w", err))
	}
	if err := r.events.AppendEvent(ctx, jobID, store.JobEventProgress, text); err != nil {
		errs = append(errs, fmt.Errorf("append event: %w", err))
	}
	r.publish(ctx, jobID, Message{JobID: jobID.String(), Kind: string(store.JobEventProgress), CurrentAction: text, At: now})
	return errors.Join(errs...)
}

// Screenshot uploads the latest screenshot and points the job progress at it.
func (r *Relay) Screenshot(ctx context.Context, jobID uuid.UUID, data []byte, mimeType string) error {
	if r.objects == nil {
		return nil
	}
	key := ScreenshotKey(jobID, mimeType)
	if err := r.objects.Put(ctx, key, bytes.NewReader(data), mimeType); err != nil {
		return fmt.Errorf("upload screenshot: %w", err)
	}
	url := r.objects.PublicURL(key)
	now := r.now()

	var errs []error
	if err := r.queue.UpdateProgress(ctx, jobID, map[string]any{
		store.ProgressScreenshotKey: key,
		store.ProgressScreenshotURL: url,
		store.ProgressUpdatedAt:     now.Format(time.RFC3339Nano),
	}); err != nil {
		errs = append(errs, fmt.Errorf("update progress: %w", err))
	}
	if err := r.events.AppendEvent(ctx, jobID, store.JobEventScreenshot, key); err != nil {
		errs = append(errs, fmt.Errorf("append event: %w", err))
	}
	r.publish(ctx, jobID, Message{JobID: jobID.String(), Kind: string(store.JobEventScreenshot), ScreenshotURL: url, At: now})
	return errors.Join(errs...)
}

func (r *Relay) publish(ctx context.Context, jobID uuid.UUID, msg Message) {
	if r.publisher == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.publisher.Publish(ctx, Channel(jobID), payload).Err(); err != nil {
		r.logger.Warn("progress publish failed", "job_id", msg.JobID, "error", err)
	}
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxActionLen {
		return s
	}
	cut := maxActionLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
