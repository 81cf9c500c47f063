// Package metrics exposes Prometheus collectors for the lead funnel. All
// recording methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Submissions     *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	FallbackWrites  *prometheus.CounterVec
	TrackingEvents  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the funnel collectors on a fresh registry together with
// the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_lead_submissions_total",
				Help: "Lead submissions by endpoint and client-visible outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_deliveries_total",
				Help: "Outbound deliveries by target and result",
			},
			[]string{"target", "result"},
		),
		FallbackWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_fallback_writes_total",
				Help: "Fallback store writes by location and result",
			},
			[]string{"location", "result"},
		),
		TrackingEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funnel_tracking_events_total",
				Help: "Conversion events by name and result",
			},
			[]string{"event", "result"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "funnel_http_request_duration_seconds",
				Help:    "Time spent serving HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(
		m.Submissions,
		m.Deliveries,
		m.FallbackWrites,
		m.TrackingEvents,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Submission(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) Delivery(target, result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(target, result).Inc()
}

func (m *Metrics) FallbackWrite(location, result string) {
	if m == nil {
		return
	}
	m.FallbackWrites.WithLabelValues(location, result).Inc()
}

func (m *Metrics) TrackingEvent(event, result string) {
	if m == nil {
		return
	}
	m.TrackingEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
