package handler

import (
	"context"
	"encoding/json"
	"errors"

	"jobrelay/internal/gateway"
	"jobrelay/internal/store"

	"github.com/google/uuid"
)

// ErrGatewayUnavailable is reported for remote jobs when no gateway is configured.
var ErrGatewayUnavailable = errors.New("remote agent gateway unavailable")

// Runner is the subset of the gateway adapter used by Remote.
type Runner interface {
	Run(ctx context.Context, task gateway.Task, cb gateway.Callbacks) (*gateway.Result, error)
}

// Reporter relays live progress of a job.
type Reporter interface {
	Progress(ctx context.Context, jobID uuid.UUID, text string) error
	Screenshot(ctx context.Context, jobID uuid.UUID, data []byte, mimeType string) error
}

type remotePayload struct {
	Instruction string `json:"instruction"`
	Task        string `json:"task"`
	Message     string `json:"message"`
	URL         string `json:"url" validate:"omitempty,url"`
	SessionKey  string `json:"session_key"`
}

func (p remotePayload) text() string {
	for _, s := range []string{p.Instruction, p.Task, p.Message} {
		if s != "" {
			return s
		}
	}
	return ""
}

type remoteOutput struct {
	Output   string   `json:"output"`
	Progress []string `json:"progress,omitempty"`
}

// Remote forwards a task to the agent gateway.
type Remote struct {
	runner   Runner
	reporter Reporter
}

func NewRemote(r Runner, reporter Reporter) *Remote {
	return &Remote{runner: r, reporter: reporter}
}

func (h *Remote) Handle(ctx context.Context, job *store.Job, _ string) (*Result, error) {
	var p remotePayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}
	message := p.text()
	if message == "" {
		return nil, errors.New("invalid remote_agent_task payload: one of instruction, task or message is required")
	}
	if p.URL != "" {
		message += "\n\nStart at: " + p.URL
	}

	// Gateway events are matched on the session key, so the default is
	// unique per job even when jobs share a conversation.
	sessionKey := p.SessionKey
	if sessionKey == "" {
		sessionKey = "jobrelay:" + job.ID.String()
	}

	var cb gateway.Callbacks
	if h.reporter != nil {
		cb.OnProgress = func(ctx context.Context, text string) error {
			return h.reporter.Progress(ctx, job.ID, text)
		}
		cb.OnScreenshot = func(ctx context.Context, data []byte, mimeType string) error {
			return h.reporter.Screenshot(ctx, job.ID, data, mimeType)
		}
	}

	res, err := h.runner.Run(ctx, gateway.Task{JobID: job.ID, SessionKey: sessionKey, Message: message}, cb)
	if err != nil {
		failed := failure(err.Error())
		if res != nil && len(res.Progress) > 0 {
			failed.Output, _ = json.Marshal(remoteOutput{Output: res.Output, Progress: res.Progress})
		}
		return failed, nil
	}

	out, err := json.Marshal(remoteOutput{Output: res.Output, Progress: res.Progress})
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Output: out}, nil
}

// Unavailable fails remote jobs immediately. It is registered when the
// worker runs without a gateway.
func Unavailable() Handler {
	return HandlerFunc(func(context.Context, *store.Job, string) (*Result, error) {
		return failure(ErrGatewayUnavailable.Error()), nil
	})
}
