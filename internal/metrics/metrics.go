package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	tokensIssued      *prometheus.CounterVec
	verifyFailures    *prometheus.CounterVec
	replayDetected    prometheus.Counter
	apiKeyValidations *prometheus.CounterVec
	discoveryRuns     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cids_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cids_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cids_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cids_tokens_issued_total",
			Help: "Tokens issued by type.",
		}, []string{"type"}),
		verifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cids_token_verify_failures_total",
			Help: "Token verification failures by error kind.",
		}, []string{"reason"}),
		replayDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cids_refresh_replay_detected_total",
			Help: "Refresh token families revoked after reuse.",
		}),
		apiKeyValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cids_api_key_validations_total",
			Help: "API key validations by outcome.",
		}, []string{"outcome"}),
		discoveryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cids_discovery_runs_total",
			Help: "Discovery runs by status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.tokensIssued, m.verifyFailures, m.replayDetected, m.apiKeyValidations, m.discoveryRuns,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) VerifyFailed(reason string) {
	if m == nil {
		return
	}
	m.verifyFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReplayDetected() {
	if m == nil {
		return
	}
	m.replayDetected.Inc()
}

func (m *Metrics) APIKeyValidated(outcome string) {
	if m == nil {
		return
	}
	m.apiKeyValidations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DiscoveryRun(status string) {
	if m == nil {
		return
	}
	m.discoveryRuns.WithLabelValues(status).Inc()
}

// Instrument records request count, latency and in-flight requests. The path
// label is the registered route pattern when the mux provides one.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
