package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridmind/gridmind/internal/model"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.CycleCompleted(2 * time.Second)
	m.AnomalyScored(model.SeverityCritical)
	m.DecisionEmitted(model.ActionExecuted)
	m.PhaseFailure("monitoring")
	m.SetKnowledgeDegraded(true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	text := string(body)
	for _, want := range []string{
		`gridmind_cycles_total 1`,
		`gridmind_anomalies_total{severity="critical"} 1`,
		`gridmind_decisions_total{action="executed"} 1`,
		`gridmind_phase_failures_total{phase="monitoring"} 1`,
		`gridmind_knowledge_degraded 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("exposition missing %q:\n%s", want, text)
		}
	}
}

func TestWrapHandlerRecordsStatus(t *testing.T) {
	m := NewMetrics()
	h := m.WrapHandler("/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(out.Result().Body)
	if !strings.Contains(string(body), `http_requests_total{route="/status",status="418"} 1`) {
		t.Fatalf("request not counted:\n%s", body)
	}
}

func TestIndependentInstances(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()
	a.CycleCompleted(time.Second)
	b.CycleCompleted(time.Second)
}
