package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Submission("submit-lead", "ok")
	m.Delivery("crm", "ok")
	m.FallbackWrite("primary", "ok")
	m.TrackingEvent("Lead", "ok")
	m.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.Delivery("crm", "error")
	m.Delivery("crm", "error")
	m.TrackingEvent("Lead", "skipped")

	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("crm", "error")); got != 2 {
		t.Errorf("crm errors = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `funnel_tracking_events_total{event="Lead",result="skipped"} 1`) {
		t.Errorf("exposition missing tracking counter:\n%s", rec.Body.String())
	}
}
