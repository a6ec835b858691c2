package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EventKind classifies gateway events by how the session reacts to them.
type EventKind string

const (
	KindTerminal   EventKind = "terminal"
	KindProgress   EventKind = "progress"
	KindScreenshot EventKind = "screenshot"
	KindHeartbeat  EventKind = "heartbeat"
	KindChallenge  EventKind = "challenge"
	KindUnknown    EventKind = "unknown"
)

// Chat states carried by chat events.
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// Event is a classified gateway event. Exactly one of the typed fields is
// set, according to Kind.
type Event struct {
	Kind EventKind
	Name string

	// SessionKey is the agent session the event belongs to, when reported.
	SessionKey string

	Challenge  *ChallengePayload
	Terminal   *TerminalEvent
	Progress   *ProgressEvent
	Screenshot *ScreenshotEvent
}

// TerminalEvent settles a submitted task.
type TerminalEvent struct {
	Success bool
	Output  string
	Error   string
}

// ProgressEvent is a human-readable progress line.
type ProgressEvent struct {
	Text string
}

// ScreenshotEvent carries a decoded browser screenshot.
type ScreenshotEvent struct {
	Data     []byte
	MimeType string
}

type chatPayload struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message"`
	ErrorMessage string          `json:"errorMessage"`
}

type agentPayload struct {
	RunID      string          `json:"runId"`
	SessionKey string          `json:"sessionKey"`
	Stream     string          `json:"stream"`
	Data       json.RawMessage `json:"data"`
}

type statusPayload struct {
	SessionKey string `json:"sessionKey"`
	Text       string `json:"text"`
	Message    string `json:"message"`
	Status     string `json:"status"`
}

type screenshotPayload struct {
	SessionKey string `json:"sessionKey"`
	Data       string `json:"data"`
	MimeType   string `json:"mimeType"`
}

// Classify maps an event frame onto the session's reaction to it.
func Classify(f Frame) (Event, error) {
	ev := Event{Name: f.Event, Kind: KindUnknown}

	switch f.Event {
	case "connect.challenge":
		var p ChallengePayload
		if err := decodePayload(f, &p); err != nil {
			return ev, err
		}
		ev.Kind = KindChallenge
		ev.Challenge = &p

	case "chat":
		var p chatPayload
		if err := decodePayload(f, &p); err != nil {
			return ev, err
		}
		ev.SessionKey = p.SessionKey
		switch p.State {
		case ChatStateFinal:
			ev.Kind = KindTerminal
			ev.Terminal = &TerminalEvent{Success: true, Output: messageText(p.Message)}
		case ChatStateError:
			msg := p.ErrorMessage
			if msg == "" {
				msg = "agent reported an error"
			}
			ev.Kind = KindTerminal
			ev.Terminal = &TerminalEvent{Error: msg}
		case ChatStateAborted:
			ev.Kind = KindTerminal
			ev.Terminal = &TerminalEvent{Error: "aborted"}
		default:
			if text := messageText(p.Message); text != "" {
				ev.Kind = KindProgress
				ev.Progress = &ProgressEvent{Text: text}
			} else {
				ev.Kind = KindHeartbeat
			}
		}

	case "agent":
		var p agentPayload
		if err := decodePayload(f, &p); err != nil {
			return ev, err
		}
		ev.SessionKey = p.SessionKey
		ev.Kind = KindProgress
		ev.Progress = &ProgressEvent{Text: agentText(p)}

	case "status":
		var p statusPayload
		if err := decodePayload(f, &p); err != nil {
			return ev, err
		}
		ev.SessionKey = p.SessionKey
		text := firstNonEmpty(p.Text, p.Message, p.Status)
		if text == "" {
			ev.Kind = KindHeartbeat
			break
		}
		ev.Kind = KindProgress
		ev.Progress = &ProgressEvent{Text: text}

	case "browser.screenshot", "screenshot":
		var p screenshotPayload
		if err := decodePayload(f, &p); err != nil {
			return ev, err
		}
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return ev, fmt.Errorf("%w: screenshot data is not base64: %v", ErrProtocol, err)
		}
		mime := p.MimeType
		if mime == "" {
			mime = "image/png"
		}
		ev.SessionKey = p.SessionKey
		ev.Kind = KindScreenshot
		ev.Screenshot = &ScreenshotEvent{Data: data, MimeType: mime}

	case "tick", "health", "presence":
		ev.Kind = KindHeartbeat
	}

	return ev, nil
}

func decodePayload(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: bad %s payload: %v", ErrProtocol, f.Event, err)
	}
	return nil
}

// messageText extracts plain text from a chat message, which is either a
// string, {"text": ...}, or {"content": string | [{"type":"text","text":...}]}.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var msg struct {
		Text    string          `json:"text"`
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(raw, &msg) != nil {
		return ""
	}
	if msg.Text != "" {
		return msg.Text
	}
	if json.Unmarshal(msg.Content, &s) == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(msg.Content, &parts) != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

func agentText(p agentPayload) string {
	var data struct {
		Name  string `json:"name"`
		Phase string `json:"phase"`
		Text  string `json:"text"`
		Delta string `json:"delta"`
	}
	json.Unmarshal(p.Data, &data)

	stream := p.Stream
	if stream == "" {
		stream = "agent"
	}
	detail := firstNonEmpty(data.Text, data.Delta)
	switch {
	case data.Name != "" && data.Phase != "":
		return fmt.Sprintf("%s: %s %s", stream, data.Name, data.Phase)
	case data.Name != "":
		return fmt.Sprintf("%s: %s", stream, data.Name)
	case detail != "":
		return fmt.Sprintf("%s: %s", stream, detail)
	case data.Phase != "":
		return fmt.Sprintf("%s: %s", stream, data.Phase)
	}
	return stream
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
