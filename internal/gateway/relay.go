package gateway

import (
	"context"
	"log/slog"
	"time"
)

// Callbacks receive side-channel updates while a task runs. They are invoked
// sequentially on a dedicated goroutine; errors are logged and never affect
// the task outcome.
type Callbacks struct {
	OnProgress   func(ctx context.Context, text string) error
	OnScreenshot func(ctx context.Context, data []byte, mimeType string) error
}

// relay decouples callbacks from the frame loop through a bounded buffer.
// When the buffer is full the update is dropped.
type relay struct {
	ctx    context.Context
	items  chan func(context.Context) error
	done   chan struct{}
	logger *slog.Logger
}

func newRelay(ctx context.Context, size int, logger *slog.Logger) *relay {
	r := &relay{
		ctx:    ctx,
		items:  make(chan func(context.Context) error, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.run()
	return r
}

func (r *relay) run() {
	defer close(r.done)
	for fn := range r.items {
		if err := r.call(fn); err != nil {
			r.logger.Warn("gateway callback failed", "error", err)
		}
	}
}

func (r *relay) call(fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("gateway callback panicked", "panic", p)
		}
	}()
	return fn(r.ctx)
}

func (r *relay) push(kind string, fn func(context.Context) error) {
	select {
	case r.items <- fn:
	default:
		r.logger.Warn("gateway callback buffer full, dropping update", "kind", kind)
	}
}

// drain stops accepting updates and waits up to grace for queued ones.
func (r *relay) drain(grace time.Duration) {
	close(r.items)
	select {
	case <-r.done:
	case <-time.After(grace):
		r.logger.Warn("gateway callbacks still running after grace period", "grace", grace)
	}
}
