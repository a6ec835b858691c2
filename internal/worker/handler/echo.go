package handler

import (
	"context"
	"encoding/json"

	"jobrelay/internal/store"
)

// Echo returns the payload as the output.
func Echo() Handler {
	return HandlerFunc(func(_ context.Context, job *store.Job, _ string) (*Result, error) {
		out := job.Payload
		if len(out) == 0 {
			out = json.RawMessage(`{}`)
		}
		return &Result{Success: true, Output: append(json.RawMessage(nil), out...)}, nil
	})
}
