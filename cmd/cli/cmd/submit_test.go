package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jobrelay/pkg/api"

	"github.com/spf13/viper"
)

func resetSubmitFlags() {
	f := submitCmd.Flags()
	f.Set("type", "")
	f.Set("payload", "")
	f.Set("payload-file", "")
	f.Set("conversation", "")
	f.Set("wait", "false")
}

func TestSubmitCommand_Success(t *testing.T) {
	resetSubmitFlags()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer svc-secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get(api.OwnerHeader); got != "owner-1" {
			t.Errorf("unexpected owner header %q", got)
		}

		var req api.CreateJobRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Type != "chat_completion" {
			t.Errorf("expected type=chat_completion, got %v", req.Type)
		}
		if string(req.Payload) != `{"message":"hi"}` {
			t.Errorf("unexpected payload %s", req.Payload)
		}
		if req.ConversationID == nil || *req.ConversationID != "conv-1" {
			t.Errorf("expected conversation conv-1, got %v", req.ConversationID)
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.CreateJobResponse{JobID: "job-123", Status: "pending"})
	}))
	defer server.Close()
	configure(server.URL)

	output := execute(t, "submit", "--type", "chat_completion", "--payload", `{"message":"hi"}`, "--conversation", "conv-1")

	if !strings.Contains(output, "Job submitted") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "job-123") {
		t.Errorf("expected job ID in output, got: %s", output)
	}
}

func TestSubmitCommand_PayloadFile(t *testing.T) {
	resetSubmitFlags()

	path := filepath.Join(t.TempDir(), "payload.json")
	os.WriteFile(path, []byte(`{"query":"go generics"}`), 0o600)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateJobRequest
		json.NewDecoder(r.Body).Decode(&req)
		if string(req.Payload) != `{"query":"go generics"}` {
			t.Errorf("unexpected payload %s", req.Payload)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.CreateJobResponse{JobID: "job-9", Status: "pending"})
	}))
	defer server.Close()
	configure(server.URL)

	output := execute(t, "submit", "--type", "research", "--payload-file", path)
	if !strings.Contains(output, "job-9") {
		t.Errorf("expected job ID in output, got: %s", output)
	}
}

func TestSubmitCommand_Wait(t *testing.T) {
	resetSubmitFlags()
	waitPollInterval = time.Millisecond
	defer func() { waitPollInterval = time.Second }()

	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(api.CreateJobResponse{JobID: "job-1", Status: "pending"})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1":
			status := "running"
			var result json.RawMessage
			if polls.Add(1) >= 3 {
				status = "completed"
				result = json.RawMessage(`{"message":"Hello!"}`)
			}
			json.NewEncoder(w).Encode(api.JobResponse{ID: "job-1", Type: "echo", Status: status, Result: result, CreatedAt: time.Now()})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()
	configure(server.URL)

	output := execute(t, "submit", "--type", "echo", "--wait")

	if polls.Load() != 3 {
		t.Errorf("expected 3 polls, got %d", polls.Load())
	}
	if !strings.Contains(output, "Hello!") {
		t.Errorf("expected result in output, got: %s", output)
	}
}

func TestSubmitCommand_Validation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called when validation fails")
	}))
	defer server.Close()

	tests := []struct {
		name    string
		token   string
		owner   string
		args    []string
		wantOut string
	}{
		{"missing token", "", "owner-1", []string{"submit", "--type", "echo"}, "API token not found"},
		{"missing owner", "svc-secret", "", []string{"submit", "--type", "echo"}, "Owner not set"},
		{"missing type", "svc-secret", "owner-1", []string{"submit"}, "--type is required"},
		{"invalid payload", "svc-secret", "owner-1", []string{"submit", "--type", "echo", "--payload", "{nope"}, "payload must be valid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetSubmitFlags()
			resetViper()
			viper.Set("url", server.URL)
			viper.Set("token", tt.token)
			viper.Set("owner", tt.owner)

			output := execute(t, tt.args...)
			if !strings.Contains(output, tt.wantOut) {
				t.Errorf("expected %q in output, got: %s", tt.wantOut, output)
			}
		})
	}
}

func TestSubmitCommand_APIError(t *testing.T) {
	resetSubmitFlags()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Rate limit exceeded"})
	}))
	defer server.Close()
	configure(server.URL)

	output := execute(t, "submit", "--type", "echo")
	if !strings.Contains(output, "Submit failed (429): Rate limit exceeded") {
		t.Errorf("expected API error in output, got: %s", output)
	}
}
