package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobrelay/pkg/api"
)

func TestRequireInternalAuth_MissingHeader(t *testing.T) {
	middleware := RequireInternalAuth("test-secret-61")

	// Dummy handler that should NOT be called
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	var body api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("expected JSON error body: %v", err)
	}
	if body.Error != "Missing authorization header" || body.Code != "401" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestRequireInternalAuth_InvalidHeaderFormat(t *testing.T) {
	middleware := RequireInternalAuth("test-secret-61")
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	invalidHeaders := []string{
		"Basic test-secret-61",
		"Bearer",
		"Token test-secret-61",
		"test-secret-61",
		"Bearer  test-secret-61", // Double space
	}

	for _, h := range invalidHeaders {
		req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
		req.Header.Set("Authorization", h)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: got status %d, want %d", h, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireInternalAuth_InvalidToken(t *testing.T) {
	middleware := RequireInternalAuth("correct-secret")
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireInternalAuth_EmptySecretRejectsEverything(t *testing.T) {
	middleware := RequireInternalAuth("")
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not have been called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer x")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireInternalAuth_Success(t *testing.T) {
	systemSecret := "super-secret-system-key"
	middleware := RequireInternalAuth(systemSecret)

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+systemSecret)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	if !called {
		t.Error("Next handler was not called")
	}
}
