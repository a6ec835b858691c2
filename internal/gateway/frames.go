package gateway

import (
	"encoding/json"
	"fmt"
)

// Frame types on the wire.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// Request methods.
const (
	MethodConnect  = "connect"
	MethodChatSend = "chat.send"
)

// Protocol versions advertised in the connect request.
const (
	MinProtocol = 3
	MaxProtocol = 3
)

// Frame is the envelope of every message exchanged with the gateway.
// Only the fields relevant to Type are set.
type Frame struct {
	Type string `json:"type"`

	// req / res
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	OK     *bool           `json:"ok,omitempty"`
	Error  *FrameError     `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	Seq   *int64 `json:"seq,omitempty"`

	// res and event
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FrameError is the error body of a failed response.
type FrameError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientInfo identifies this process to the gateway.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// ConnectParams is the body of the connect request.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes"`
	Auth        *AuthInfo  `json:"auth,omitempty"`
	Nonce       string     `json:"nonce,omitempty"`
}

type AuthInfo struct {
	Token string `json:"token"`
}

// ChatSendParams submits a task to an agent session.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChallengePayload is carried by the connect.challenge event.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

func newRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s params: %w", method, err)
	}
	return Frame{Type: FrameRequest, ID: id, Method: method, Params: raw}, nil
}

// decodeFrame parses one text message. Anything that is not a JSON object
// with a known type is a protocol violation.
func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err)
	}
	switch f.Type {
	case FrameRequest, FrameResponse, FrameEvent:
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame type %q", ErrProtocol, f.Type)
	}
	if f.Type == FrameResponse && f.ID == "" {
		return Frame{}, fmt.Errorf("%w: response without id", ErrProtocol)
	}
	if f.Type == FrameEvent && f.Event == "" {
		return Frame{}, fmt.Errorf("%w: event without name", ErrProtocol)
	}
	return f, nil
}

func (f Frame) succeeded() bool {
	return f.OK != nil && *f.OK
}
