// Package metrics holds the Prometheus collectors for the intake pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook outcomes, one per terminal audit state or rejection class.
const (
	OutcomeProcessed     = "processed"
	OutcomeMalformed     = "malformed"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeSchemaInvalid = "schema_invalid"
	OutcomeTooLarge      = "too_large"
	OutcomeFailed        = "failed"
)

// Order write results.
const (
	OrderCreated = "created"
	OrderUpdated = "updated"
)

// IntakeMetrics captures webhook throughput, resolver behaviour and order
// writes.
type IntakeMetrics struct {
	requests           *prometheus.CounterVec
	duration           *prometheus.HistogramVec
	resolutions        *prometheus.CounterVec
	orders             *prometheus.CounterVec
	orderNumberRetries prometheus.Counter
	statusChanges      *prometheus.CounterVec
}

var (
	intakeOnce    sync.Once
	intakeMetrics *IntakeMetrics
)

// Intake returns the process-wide metrics registered on the default registry.
func Intake() *IntakeMetrics {
	intakeOnce.Do(func() {
		intakeMetrics = New(prometheus.DefaultRegisterer)
	})
	return intakeMetrics
}

// New builds and registers a fresh set of collectors. Tests pass their own
// registry.
func New(registerer prometheus.Registerer) *IntakeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	f := promauto.With(registerer)
	return &IntakeMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_webhook_requests_total",
			Help: "Webhook invocations by source and outcome.",
		}, []string{"source", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_webhook_duration_seconds",
			Help:    "Webhook processing latency from receipt to terminal audit update.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_test_resolutions_total",
			Help: "Submitted test names by the resolver stage that matched them.",
		}, []string{"stage"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_orders_total",
			Help: "Order upserts by whether a new order was created.",
		}, []string{"result"}),
		orderNumberRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "intake_order_number_retries_total",
			Help: "Order number collisions that forced a regenerate.",
		}),
		statusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_order_status_changes_total",
			Help: "Order status transitions.",
		}, []string{"from", "to"}),
	}
}

func (m *IntakeMetrics) ObserveRequest(source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(source, outcome).Inc()
	m.duration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (m *IntakeMetrics) IncResolution(stage string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(stage).Inc()
}

func (m *IntakeMetrics) IncOrder(created bool) {
	if m == nil {
		return
	}
	result := OrderUpdated
	if created {
		result = OrderCreated
	}
	m.orders.WithLabelValues(result).Inc()
}

func (m *IntakeMetrics) AddOrderNumberRetries(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orderNumberRetries.Add(float64(n))
}

func (m *IntakeMetrics) IncStatusChange(from, to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(from, to).Inc()
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
