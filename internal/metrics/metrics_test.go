package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.ObserveProvider("generation", "ark", OutcomeError, 10*time.Millisecond)
	r.ObserveProvider("generation", "gemini", OutcomeSuccess, 20*time.Millisecond)
	r.ObserveTurn("success")
	r.ObserveTurn("success")
	r.ObserveTransition("analysis")
	r.ObserveSpeechFallback("device")

	if got := testutil.ToFloat64(r.providerRequests.WithLabelValues("generation", "ark", OutcomeError)); got != 1 {
		t.Fatalf("expected 1 ark error, got %v", got)
	}
	if got := testutil.ToFloat64(r.turns.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful turns, got %v", got)
	}
	if got := testutil.ToFloat64(r.transitions.WithLabelValues("analysis")); got != 1 {
		t.Fatalf("expected 1 analysis transition, got %v", got)
	}
	if got := testutil.ToFloat64(r.speechFallbacks.WithLabelValues("device")); got != 1 {
		t.Fatalf("expected 1 device fallback, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveProvider("generation", "ark", OutcomeSuccess, time.Second)
	r.ObserveTurn("success")
	r.ObserveTransition("live")
	r.ObserveSpeechFallback("device")
	if r.Registry() != nil {
		t.Fatal("nil recorder should not expose a registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.ObserveTurn("rejected")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `arena_turns_total{outcome="rejected"} 1`) {
		t.Fatalf("metrics output missing turn counter:\n%s", rec.Body.String())
	}
}
