package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

// State is the adapter's position in the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingChallenge
	StateAuthenticating
	StateConnected
	StateSubmitted
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting-challenge"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateSubmitted:
		return "task-submitted"
	case StateSucceeded:
		return "terminal-success"
	case StateFailed:
		return "terminal-failure"
	case StateTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) authenticated() bool {
	return s >= StateConnected
}

type readResult struct {
	frame Frame
	err   error
}

type session struct {
	cfg    Config
	task   Task
	conn   *websocket.Conn
	logger *slog.Logger
	relay  *relay
	cb     Callbacks

	state   State
	pending map[string]string
	result  *Result
}

// run drives the state machine until the task settles. deadlineCtx carries
// the task deadline; parent is used to tell a deadline from a cancellation.
func (s *session) run(deadlineCtx, parent context.Context) (*Result, error) {
	s.state = StateAwaitingChallenge

	frames := make(chan readResult, 16)
	stop := make(chan struct{})
	defer func() {
		close(stop)
		s.conn.Close()
	}()
	go s.readLoop(frames, stop)

	for {
		select {
		case <-deadlineCtx.Done():
			if parent.Err() != nil {
				return s.fail(StateFailed, fmt.Errorf("gateway task cancelled: %w", parent.Err()))
			}
			return s.fail(StateTimedOut, fmt.Errorf("%w after %s (state %s)", ErrTimeout, s.cfg.Timeout, s.state))

		case rr := <-frames:
			if rr.err != nil {
				return s.fail(StateFailed, s.readError(rr.err))
			}
			done, err := s.handle(rr.frame)
			if err != nil {
				return s.fail(StateFailed, err)
			}
			if done {
				return s.settle()
			}
		}
	}
}

func (s *session) readLoop(out chan<- readResult, stop <-chan struct{}) {
	for {
		_, data, err := s.conn.ReadMessage()
		var rr readResult
		if err != nil {
			rr.err = err
		} else {
			rr.frame, rr.err = decodeFrame(data)
		}
		select {
		case out <- rr:
		case <-stop:
			return
		}
		if rr.err != nil {
			return
		}
	}
}

func (s *session) readError(err error) error {
	if errors.Is(err, ErrProtocol) {
		return err
	}
	if !s.state.authenticated() {
		return fmt.Errorf("%w: %v", ErrClosedBeforeAuth, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

// handle processes one frame and reports whether the task settled.
func (s *session) handle(f Frame) (bool, error) {
	switch f.Type {
	case FrameResponse:
		return false, s.handleResponse(f)
	case FrameEvent:
		return s.handleEvent(f)
	default:
		s.logger.Debug("ignoring gateway request frame", "method", f.Method)
		return false, nil
	}
}

func (s *session) handleResponse(f Frame) error {
	if s.state == StateAwaitingChallenge {
		return fmt.Errorf("%w: response %s before challenge", ErrProtocol, f.ID)
	}

	method, ok := s.pending[f.ID]
	if !ok {
		s.logger.Debug("ignoring response for unknown request", "id", f.ID)
		return nil
	}
	delete(s.pending, f.ID)

	if !f.succeeded() {
		return remoteError(method, f.Error)
	}

	switch method {
	case MethodConnect:
		s.state = StateConnected
		s.logger.Info("gateway authenticated")
		return s.submit()
	case MethodChatSend:
		s.logger.Info("gateway accepted task")
	}
	return nil
}

func (s *session) handleEvent(f Frame) (bool, error) {
	ev, err := Classify(f)
	if err != nil {
		return false, err
	}

	if ev.Kind == KindChallenge {
		if s.state != StateAwaitingChallenge {
			s.logger.Debug("ignoring repeated challenge")
			return false, nil
		}
		return false, s.authenticate(ev.Challenge)
	}

	if s.state != StateSubmitted {
		s.logger.Debug("ignoring event before task submission", "event", ev.Name, "state", s.state.String())
		return false, nil
	}
	if ev.SessionKey != "" && ev.SessionKey != s.task.SessionKey {
		return false, nil
	}

	switch ev.Kind {
	case KindTerminal:
		s.result.Success = ev.Terminal.Success
		s.result.Output = ev.Terminal.Output
		s.result.Error = ev.Terminal.Error
		return true, nil
	case KindProgress:
		s.recordProgress(ev.Progress.Text)
	case KindScreenshot:
		s.relayScreenshot(ev.Screenshot)
	case KindHeartbeat:
	default:
		s.logger.Debug("ignoring unknown gateway event", "event", ev.Name)
	}
	return false, nil
}

func (s *session) authenticate(ch *ChallengePayload) error {
	s.state = StateAuthenticating
	params := ConnectParams{
		MinProtocol: MinProtocol,
		MaxProtocol: MaxProtocol,
		Client: ClientInfo{
			ID:       "jobrelay-worker",
			Version:  s.cfg.Version,
			Platform: platform(),
			Mode:     "backend",
		},
		Role:   s.cfg.Role,
		Scopes: s.cfg.Scopes,
		Nonce:  ch.Nonce,
	}
	if s.cfg.Token != "" {
		params.Auth = &AuthInfo{Token: s.cfg.Token}
	}
	return s.send(MethodConnect, params)
}

func (s *session) submit() error {
	err := s.send(MethodChatSend, ChatSendParams{
		SessionKey:     s.task.SessionKey,
		Message:        s.task.Message,
		IdempotencyKey: IdempotencyKey(s.task.JobID),
	})
	if err != nil {
		return err
	}
	s.state = StateSubmitted
	return nil
}

// IdempotencyKey is unique per submission attempt of a job.
func IdempotencyKey(jobID uuid.UUID) string {
	return jobID.String() + ":" + uuid.NewString()
}

func (s *session) send(method string, params any) error {
	id := uuid.NewString()
	req, err := newRequest(id, method, params)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		if !s.state.authenticated() {
			return fmt.Errorf("%w: %v", ErrClosedBeforeAuth, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	s.pending[id] = method
	return nil
}

func (s *session) recordProgress(text string) {
	s.result.Progress = append(s.result.Progress, text)
	if over := len(s.result.Progress) - s.cfg.MaxProgressLog; over > 0 {
		s.result.Progress = s.result.Progress[over:]
	}
	if s.cb.OnProgress != nil {
		s.relay.push("progress", func(ctx context.Context) error {
			return s.cb.OnProgress(ctx, text)
		})
	}
}

func (s *session) relayScreenshot(shot *ScreenshotEvent) {
	if s.cb.OnScreenshot == nil {
		return
	}
	s.relay.push("screenshot", func(ctx context.Context) error {
		return s.cb.OnScreenshot(ctx, shot.Data, shot.MimeType)
	})
}

func (s *session) settle() (*Result, error) {
	s.closeNormally()
	if s.result.Success {
		s.state = StateSucceeded
		s.logger.Info("gateway task finished")
		return s.result, nil
	}
	s.state = StateFailed
	err := &RemoteError{Op: "chat", Message: s.result.Error}
	s.logger.Warn("gateway task failed", "error", s.result.Error)
	return s.result, err
}

func (s *session) fail(state State, err error) (*Result, error) {
	s.state = state
	s.result.Success = false
	s.result.Error = err.Error()
	s.logger.Warn("gateway session failed", "state", state.String(), "error", err)
	return s.result, err
}

func (s *session) closeNormally() {
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
