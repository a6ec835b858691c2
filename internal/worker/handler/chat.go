package handler

import (
	"context"

	"jobrelay/internal/llm"
	"jobrelay/internal/store"
)

// Completer is the subset of the LLM client used by handlers.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

type chatPayload struct {
	Message string        `json:"message" validate:"required"`
	System  string        `json:"system"`
	History []llm.Message `json:"history"`
}

type chatOutput struct {
	Message string `json:"message"`
}

// Chat answers a single chat message, optionally with prior turns.
type Chat struct {
	llm Completer
}

func NewChat(c Completer) *Chat {
	return &Chat{llm: c}
}

func (h *Chat) Handle(ctx context.Context, job *store.Job, _ string) (*Result, error) {
	var p chatPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}

	var messages []llm.Message
	if p.System != "" {
		messages = append(messages, llm.Message{Role: "system", Content: p.System})
	}
	messages = append(messages, p.History...)
	messages = append(messages, llm.Message{Role: "user", Content: p.Message})

	resp, err := h.llm.Complete(ctx, llm.Request{Messages: messages, OwnerID: job.OwnerID})
	if err != nil {
		return nil, err
	}

	res, err := success(chatOutput{Message: resp.Content})
	if err != nil {
		return nil, err
	}
	res.TokensIn = resp.TokensIn
	res.TokensOut = resp.TokensOut
	res.Model = resp.Model
	return res, nil
}
