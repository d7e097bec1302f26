package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorsRegisterCleanly(t *testing.T) {
	// Private registries mean repeated construction cannot panic on
	// duplicate registration.
	for i := 0; i < 3; i++ {
		NewCollector()
	}
}

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("POST /v1/chat/completions", "200", 120*time.Millisecond)
	c.RecordKeyValidation(true)
	c.RecordKeyValidation(false)
	c.RecordUpstreamLatency("openai", 300*time.Millisecond)
	c.RecordUpstreamError("anthropic")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`metergate_http_requests_total{route="POST /v1/chat/completions",status="200"} 1`,
		`metergate_key_validations_total{outcome="accepted"} 1`,
		`metergate_key_validations_total{outcome="rejected"} 1`,
		`metergate_upstream_errors_total{provider="anthropic"} 1`,
		`metergate_upstream_latency_seconds_count{provider="openai"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
