package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"jobrelay/internal/llm"
	"jobrelay/internal/store"
)

// NotesFile accumulates research findings across a conversation.
const NotesFile = "research.md"

const researchPrompt = `You are a research assistant. Answer the query with a concise, well-structured summary.
Cite the kind of sources a reader should consult. Build on the prior notes when they are relevant.`

// maxPriorNotes bounds how much of research.md is sent back to the model.
const maxPriorNotes = 16 * 1024

type researchPayload struct {
	Query string `json:"query" validate:"required"`
}

type researchOutput struct {
	Summary string `json:"summary"`
}

// Research runs a research query and appends the findings to the
// workspace notes so later jobs in the conversation can see them.
type Research struct {
	llm Completer
	now func() time.Time
}

func NewResearch(c Completer) *Research {
	return &Research{llm: c, now: time.Now}
}

func (h *Research) Handle(ctx context.Context, job *store.Job, workspace string) (*Result, error) {
	var p researchPayload
	if err := decodePayload(job, &p); err != nil {
		return nil, err
	}

	notesPath := filepath.Join(workspace, NotesFile)
	prior, err := os.ReadFile(notesPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	if len(prior) > maxPriorNotes {
		cut := len(prior) - maxPriorNotes
		for cut < len(prior) && !utf8.RuneStart(prior[cut]) {
			cut++
		}
		prior = prior[cut:]
	}

	messages := []llm.Message{{Role: "system", Content: researchPrompt}}
	if len(prior) > 0 {
		messages = append(messages, llm.Message{Role: "user", Content: "Prior notes:\n\n" + string(prior)})
	}
	messages = append(messages, llm.Message{Role: "user", Content: p.Query})

	resp, err := h.llm.Complete(ctx, llm.Request{Messages: messages, OwnerID: job.OwnerID})
	if err != nil {
		return nil, err
	}

	if err := appendNotes(notesPath, p.Query, resp.Content, h.now()); err != nil {
		return nil, err
	}

	res, err := success(researchOutput{Summary: resp.Content})
	if err != nil {
		return nil, err
	}
	res.TokensIn = resp.TokensIn
	res.TokensOut = resp.TokensOut
	res.Model = resp.Model
	return res, nil
}

func appendNotes(path, query, findings string, at time.Time) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open notes: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n_%s_\n\n%s\n\n", query, at.UTC().Format(time.RFC3339), strings.TrimSpace(findings))
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write notes: %w", err)
	}
	return f.Close()
}
