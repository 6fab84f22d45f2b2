// Package observability exposes Prometheus metrics for the decision
// pipeline and a middleware for the HTTP API.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridmind/gridmind/internal/model"
)

// Metrics holds the pipeline's instrument set on its own registry so tests
// can build as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal       prometheus.Counter
	cycleDuration     prometheus.Histogram
	anomaliesTotal    *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	phaseFailures     *prometheus.CounterVec
	actuationDuration prometheus.Histogram
	knowledgeDegraded prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics builds and registers the instrument set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridmind_cycles_total",
			Help: "Total count of completed decision cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridmind_cycle_duration_seconds",
			Help:    "Histogram of full cycle durations.",
			Buckets: prometheus.DefBuckets,
		}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmind_anomalies_total",
			Help: "Total anomalies scored, by severity.",
		}, []string{"severity"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmind_decisions_total",
			Help: "Total decisions emitted, by terminal action.",
		}, []string{"action"}),
		phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridmind_phase_failures_total",
			Help: "Per-building failures isolated within a phase.",
		}, []string{"phase"}),
		actuationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridmind_actuation_duration_seconds",
			Help:    "Histogram of BMS command dispatch durations.",
			Buckets: prometheus.DefBuckets,
		}),
		knowledgeDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridmind_knowledge_degraded",
			Help: "1 when the knowledge store runs on the in-memory fallback.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.cyclesTotal,
		m.cycleDuration,
		m.anomaliesTotal,
		m.decisionsTotal,
		m.phaseFailures,
		m.actuationDuration,
		m.knowledgeDegraded,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Handler serves the scrape endpoint for this instrument set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleCompleted(d time.Duration) {
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) AnomalyScored(severity model.Severity) {
	m.anomaliesTotal.WithLabelValues(string(severity)).Inc()
}

func (m *Metrics) DecisionEmitted(action model.ActionState) {
	m.decisionsTotal.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) PhaseFailure(phase string) {
	m.phaseFailures.WithLabelValues(phase).Inc()
}

func (m *Metrics) ActuationObserved(d time.Duration) {
	m.actuationDuration.Observe(d.Seconds())
}

func (m *Metrics) SetKnowledgeDegraded(degraded bool) {
	if degraded {
		m.knowledgeDegraded.Set(1)
		return
	}
	m.knowledgeDegraded.Set(0)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler instruments one route with request count and duration.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
