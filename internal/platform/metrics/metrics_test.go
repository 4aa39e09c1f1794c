package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("fluentforms", OutcomeProcessed, 20*time.Millisecond)
	m.ObserveRequest("fluentforms", OutcomeProcessed, 30*time.Millisecond)
	m.ObserveRequest("fluentforms", OutcomeMalformed, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("fluentforms", OutcomeProcessed)); got != 2 {
		t.Fatalf("expected 2 processed requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("fluentforms", OutcomeMalformed)); got != 1 {
		t.Fatalf("expected 1 malformed request, got %v", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 1 {
		t.Fatalf("expected one duration series, got %d", got)
	}
}

func TestResolutionsAndOrders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncResolution("exact")
	m.IncResolution("exact")
	m.IncResolution("unmatched")
	m.IncOrder(true)
	m.IncOrder(false)
	m.IncOrder(false)
	m.AddOrderNumberRetries(2)
	m.AddOrderNumberRetries(0)
	m.IncStatusChange("pending", "completed")

	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("exact")); got != 2 {
		t.Fatalf("expected 2 exact resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(m.orders.WithLabelValues(OrderUpdated)); got != 2 {
		t.Fatalf("expected 2 updated orders, got %v", got)
	}
	if got := testutil.ToFloat64(m.orderNumberRetries); got != 2 {
		t.Fatalf("expected 2 retries, got %v", got)
	}
	if got := testutil.ToFloat64(m.statusChanges.WithLabelValues("pending", "completed")); got != 1 {
		t.Fatalf("expected 1 status change, got %v", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *IntakeMetrics
	m.ObserveRequest("x", OutcomeFailed, time.Second)
	m.IncResolution("exact")
	m.IncOrder(true)
	m.AddOrderNumberRetries(1)
	m.IncStatusChange("a", "b")
}

func TestHandler(t *testing.T) {
	Intake().IncResolution("fuzzy")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "intake_test_resolutions_total") {
		t.Error("expected resolver counter in exposition output")
	}
}
