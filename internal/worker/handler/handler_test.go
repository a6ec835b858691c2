package handler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"jobrelay/internal/gateway"
	"jobrelay/internal/llm"
	"jobrelay/internal/store"

	"github.com/google/uuid"
)

type fakeCompleter struct {
	requests []llm.Request
	reply    string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply, Model: "test-model", TokensIn: 10, TokensOut: 4}, nil
}

func job(t store.JobType, payload string) *store.Job {
	return &store.Job{ID: uuid.New(), OwnerID: "owner-1", Type: t, Payload: json.RawMessage(payload)}
}

func TestChat(t *testing.T) {
	c := &fakeCompleter{reply: "Hello!"}
	h := NewChat(c)

	res, err := h.Handle(context.Background(), job(store.JobTypeChatCompletion,
		`{"message":"hi","system":"be brief","history":[{"role":"user","content":"earlier"},{"role":"assistant","content":"reply"}]}`), "")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !res.Success || string(res.Output) != `{"message":"Hello!"}` {
		t.Errorf("unexpected result %+v", res)
	}
	if res.TokensIn != 10 || res.TokensOut != 4 || res.Model != "test-model" {
		t.Errorf("usage not propagated: %+v", res)
	}

	msgs := c.requests[0].Messages
	if len(msgs) != 4 || msgs[0].Role != "system" || msgs[3].Content != "hi" {
		t.Errorf("unexpected messages %+v", msgs)
	}
	if c.requests[0].OwnerID != "owner-1" {
		t.Errorf("owner not forwarded")
	}
}

func TestChat_InvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ``},
		{"not json", `nope`},
		{"missing message", `{"system":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChat(&fakeCompleter{}).Handle(context.Background(), job(store.JobTypeChatCompletion, tt.payload), "")
			if err == nil || !strings.Contains(err.Error(), "invalid chat_completion payload") {
				t.Errorf("expected payload error, got %v", err)
			}
		})
	}
}

func TestChat_LLMError(t *testing.T) {
	_, err := NewChat(&fakeCompleter{err: errors.New("llm API error (status 500)")}).
		Handle(context.Background(), job(store.JobTypeChatCompletion, `{"message":"hi"}`), "")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestResearch_AppendsNotes(t *testing.T) {
	ws := t.TempDir()
	os.WriteFile(filepath.Join(ws, NotesFile), []byte("## earlier\n\nold findings\n\n"), 0o644)

	c := &fakeCompleter{reply: "Go is great for services."}
	res, err := NewResearch(c).Handle(context.Background(), job(store.JobTypeResearch, `{"query":"why go"}`), ws)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if string(res.Output) != `{"summary":"Go is great for services."}` {
		t.Errorf("unexpected output %s", res.Output)
	}

	msgs := c.requests[0].Messages
	if len(msgs) != 3 || !strings.Contains(msgs[1].Content, "old findings") {
		t.Errorf("prior notes not sent: %+v", msgs)
	}

	notes, _ := os.ReadFile(filepath.Join(ws, NotesFile))
	if !strings.Contains(string(notes), "old findings") || !strings.Contains(string(notes), "## why go") ||
		!strings.Contains(string(notes), "Go is great for services.") {
		t.Errorf("unexpected notes:\n%s", notes)
	}
}

func TestResearch_TruncatesPriorNotesOnRuneBoundary(t *testing.T) {
	ws := t.TempDir()
	// One leading byte puts the cut inside a two-byte rune.
	notes := "x" + strings.Repeat("é", maxPriorNotes/2) + "y"
	os.WriteFile(filepath.Join(ws, NotesFile), []byte(notes), 0o644)

	c := &fakeCompleter{reply: "ok"}
	if _, err := NewResearch(c).Handle(context.Background(), job(store.JobTypeResearch, `{"query":"q"}`), ws); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	prior := c.requests[0].Messages[1].Content
	if !utf8.ValidString(prior) {
		t.Error("prior notes were cut inside a rune")
	}
	if !strings.HasSuffix(prior, "y") || len(prior) > len("Prior notes:\n\n")+maxPriorNotes {
		t.Errorf("unexpected prior notes length %d", len(prior))
	}
}

func TestEcho(t *testing.T) {
	res, err := Echo().Handle(context.Background(), job(store.JobTypeEcho, `{"ping":1}`), "")
	if err != nil || !res.Success || string(res.Output) != `{"ping":1}` {
		t.Errorf("unexpected echo result %+v / %v", res, err)
	}
}

type fakeRunner struct {
	task   gateway.Task
	result *gateway.Result
	err    error
	emit   func(cb gateway.Callbacks)
}

func (f *fakeRunner) Run(ctx context.Context, task gateway.Task, cb gateway.Callbacks) (*gateway.Result, error) {
	f.task = task
	if f.emit != nil {
		f.emit(cb)
	}
	return f.result, f.err
}

type fakeReporter struct {
	progress []string
	shots    int
}

func (r *fakeReporter) Progress(ctx context.Context, jobID uuid.UUID, text string) error {
	r.progress = append(r.progress, text)
	return nil
}

func (r *fakeReporter) Screenshot(ctx context.Context, jobID uuid.UUID, data []byte, mimeType string) error {
	r.shots++
	return nil
}

func TestRemote_Success(t *testing.T) {
	runner := &fakeRunner{
		result: &gateway.Result{Success: true, Output: "booked", Progress: []string{"tool: browser.open"}},
		emit: func(cb gateway.Callbacks) {
			cb.OnProgress(context.Background(), "tool: browser.open")
			cb.OnScreenshot(context.Background(), []byte("png"), "image/png")
		},
	}
	reporter := &fakeReporter{}
	j := job(store.JobTypeRemoteAgentTask, `{"task":"book a table","url":"https://example.com"}`)

	res, err := NewRemote(runner, reporter).Handle(context.Background(), j, "")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !res.Success || string(res.Output) != `{"output":"booked","progress":["tool: browser.open"]}` {
		t.Errorf("unexpected result %+v", res)
	}
	if runner.task.Message != "book a table\n\nStart at: https://example.com" {
		t.Errorf("unexpected task message %q", runner.task.Message)
	}
	if runner.task.SessionKey != "jobrelay:"+j.ID.String() {
		t.Errorf("unexpected session key %q", runner.task.SessionKey)
	}
	if len(reporter.progress) != 1 || reporter.shots != 1 {
		t.Errorf("callbacks not relayed: %+v", reporter)
	}
}

func TestRemote_GatewayFailure(t *testing.T) {
	runner := &fakeRunner{
		result: &gateway.Result{Error: "browser crashed"},
		err:    &gateway.RemoteError{Op: "chat", Message: "browser crashed"},
	}
	res, err := NewRemote(runner, nil).Handle(context.Background(),
		job(store.JobTypeRemoteAgentTask, `{"instruction":"do it","session_key":"agent:main:x"}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error != "gateway error: chat: browser crashed" {
		t.Errorf("unexpected result %+v", res)
	}
	if runner.task.SessionKey != "agent:main:x" {
		t.Errorf("explicit session key not used: %q", runner.task.SessionKey)
	}
}

func TestRemote_GatewayFailureKeepsProgress(t *testing.T) {
	runner := &fakeRunner{
		result: &gateway.Result{Progress: []string{"tool: browser.open", "tool: browser.click"}},
		err:    gateway.ErrTimeout,
	}
	res, err := NewRemote(runner, nil).Handle(context.Background(),
		job(store.JobTypeRemoteAgentTask, `{"task":"book a table"}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error != gateway.ErrTimeout.Error() {
		t.Errorf("unexpected result %+v", res)
	}
	if string(res.Output) != `{"output":"","progress":["tool: browser.open","tool: browser.click"]}` {
		t.Errorf("progress not kept: %s", res.Output)
	}
}

func TestRemote_DefaultSessionKeyIsPerJob(t *testing.T) {
	conversation := "conv-1"
	first := job(store.JobTypeRemoteAgentTask, `{"task":"a"}`)
	first.ConversationID = &conversation
	second := job(store.JobTypeRemoteAgentTask, `{"task":"b"}`)
	second.ConversationID = &conversation

	var keys []string
	for _, j := range []*store.Job{first, second} {
		runner := &fakeRunner{result: &gateway.Result{Success: true}}
		if _, err := NewRemote(runner, nil).Handle(context.Background(), j, ""); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		keys = append(keys, runner.task.SessionKey)
	}

	if keys[0] != "jobrelay:"+first.ID.String() || keys[1] != "jobrelay:"+second.ID.String() {
		t.Errorf("expected per-job session keys, got %v", keys)
	}
}

func TestRemote_MissingInstruction(t *testing.T) {
	_, err := NewRemote(&fakeRunner{}, nil).Handle(context.Background(),
		job(store.JobTypeRemoteAgentTask, `{"url":"https://example.com"}`), "")
	if err == nil {
		t.Error("expected payload error")
	}
}

func TestUnavailable(t *testing.T) {
	res, err := Unavailable().Handle(context.Background(), job(store.JobTypeRemoteAgentTask, `{}`), "")
	if err != nil || res.Success || res.Error != "remote agent gateway unavailable" {
		t.Errorf("unexpected result %+v / %v", res, err)
	}
}
