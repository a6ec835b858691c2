// Package gateway bridges remote-agent jobs to an external agent gateway
// speaking JSON frames over a WebSocket.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

// Config configures the adapter.
type Config struct {
	URL     string
	Token   string
	Role    string
	Scopes  []string
	Version string

	// Timeout is the hard deadline of one task, handshake included.
	Timeout          time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	ProbeAttempts int
	ProbeBackoff  time.Duration

	// CallbackBuffer bounds queued progress/screenshot callbacks.
	CallbackBuffer int
	// DrainGrace bounds how long queued callbacks may run after settlement.
	DrainGrace time.Duration
	// MaxProgressLog bounds the progress lines kept for the result.
	MaxProgressLog int
}

func (c *Config) setDefaults() {
	if c.Role == "" {
		c.Role = "operator"
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"operator.read", "operator.write"}
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ProbeAttempts <= 0 {
		c.ProbeAttempts = 5
	}
	if c.ProbeBackoff <= 0 {
		c.ProbeBackoff = 2 * time.Second
	}
	if c.CallbackBuffer <= 0 {
		c.CallbackBuffer = 64
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 5 * time.Second
	}
	if c.MaxProgressLog <= 0 {
		c.MaxProgressLog = 200
	}
}

// Task is one unit of remote work.
type Task struct {
	JobID      uuid.UUID
	SessionKey string
	Message    string
}

// Result is the outcome of a settled task. Progress holds the most recent
// progress lines observed during the session.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Progress []string
}

// Adapter runs tasks against the gateway. Each task uses its own connection.
type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With("component", "gateway"),
	}
}

// Config returns the effective configuration.
func (a *Adapter) Config() Config {
	return a.cfg
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if a.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", a.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", a.cfg.URL, err)
	}
	return conn, nil
}

// Probe checks that the gateway accepts WebSocket connections, retrying a
// fixed number of times.
func (a *Adapter) Probe(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.ProbeAttempts; attempt++ {
		conn, err := a.dial(ctx)
		if err == nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe"),
				time.Now().Add(time.Second))
			conn.Close()
			return nil
		}
		lastErr = err
		a.logger.Warn("gateway probe failed", "attempt", attempt, "of", a.cfg.ProbeAttempts, "error", err)

		if attempt == a.cfg.ProbeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.ProbeBackoff):
		}
	}
	return fmt.Errorf("gateway unreachable after %d attempts: %w", a.cfg.ProbeAttempts, lastErr)
}

// Run submits task and blocks until the gateway settles it, the connection
// drops, or the deadline passes. The returned Result is never nil; err is
// non-nil whenever the task did not succeed.
func (a *Adapter) Run(ctx context.Context, task Task, cb Callbacks) (*Result, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	s := &session{
		cfg:     a.cfg,
		task:    task,
		logger:  a.logger.With("job_id", task.JobID, "session_key", task.SessionKey),
		pending: make(map[string]string),
		result:  &Result{},
		cb:      cb,
	}

	conn, err := a.dial(deadlineCtx)
	if err != nil {
		if deadlineCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		s.result.Error = err.Error()
		return s.result, err
	}
	s.conn = conn

	// Callbacks outlive the task deadline by the drain grace period.
	s.relay = newRelay(context.WithoutCancel(ctx), a.cfg.CallbackBuffer, s.logger)
	defer s.relay.drain(a.cfg.DrainGrace)

	return s.run(deadlineCtx, ctx)
}

func platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
