package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no terminal event arrives before the deadline.
	ErrTimeout = errors.New("gateway: task timed out")

	// ErrClosedBeforeAuth is returned when the connection drops before the
	// connect request succeeded. No task was submitted.
	ErrClosedBeforeAuth = errors.New("gateway: connection closed before authentication")

	// ErrConnectionLost is returned when the connection drops after
	// authentication but before a terminal event.
	ErrConnectionLost = errors.New("gateway: connection lost")

	// ErrProtocol is returned for malformed or out-of-order frames.
	ErrProtocol = errors.New("gateway: protocol violation")
)

// RemoteError is a failure reported by the gateway itself, either as a
// rejected request or as a terminal chat error.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("gateway error: %s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("gateway error: %s: %s", e.Op, msg)
}

func remoteError(op string, fe *FrameError) *RemoteError {
	if fe == nil {
		return &RemoteError{Op: op}
	}
	return &RemoteError{Op: op, Code: fe.Code, Message: fe.Message}
}
