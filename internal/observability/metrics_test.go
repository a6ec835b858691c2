package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	return rr.Body.String()
}

func TestInitMetrics_ExposesJobCounters(t *testing.T) {
	ctx := context.Background()

	handler, shutdown, err := InitMetrics(ctx, "jobrelay-test")
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	counter, err := otel.Meter("jobrelay/test").Int64Counter("jobrelay.test.jobs")
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}
	counter.Add(ctx, 42)

	body := scrape(t, handler)

	// Dots become underscores and counters gain _total
	if !strings.Contains(body, "jobrelay_test_jobs_total") {
		t.Errorf("expected jobrelay_test_jobs_total in output, got:\n%s", body)
	}
	if !strings.Contains(body, "42") {
		t.Errorf("expected value '42' in output, got:\n%s", body)
	}
	if !strings.Contains(body, `service_name="jobrelay-test"`) {
		t.Errorf("expected service name in target_info, got:\n%s", body)
	}
}
