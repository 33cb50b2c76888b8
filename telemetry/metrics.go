// Package telemetry exports prometheus metrics for a running node.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sddr"

// Metrics owns a private registry, so several nodes can run in one process.
type Metrics struct {
	Registry *prometheus.Registry

	adverts       *prometheus.CounterVec
	discovered    prometheus.Counter
	tracked       prometheus.Gauge
	secrets       *prometheus.CounterVec
	handshakes    *prometheus.CounterVec
	encounters    *prometheus.CounterVec
	epochs        prometheus.Counter
	mediumErrors  *prometheus.CounterVec
	requests      *prometheus.CounterVec
	requestTiming *prometheus.HistogramVec
	buildInfo     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		adverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adverts_total",
			Help:      "Adverts received, by outcome.",
		}, []string{"outcome"}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_discovered_total",
			Help:      "Remote devices seen for the first time.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_tracked",
			Help:      "Remote devices currently tracked by the radio.",
		}),
		secrets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_secrets_total",
			Help:      "Shared secrets added, by confirming scheme.",
		}, []string{"scheme", "confirmed"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshake steps, by kind and result.",
		}, []string{"kind", "result"}),
		encounters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encounter_events_total",
			Help:      "Encounter events reported, by type.",
		}, []string{"type"}),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Address and key rotations.",
		}),
		mediumErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "medium_errors_total",
			Help:      "Errors from the radio medium, by operation.",
		}, []string{"op"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"op", "status"}),
		requestTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		}, []string{"op"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and radio).",
		}, []string{"version", "radio"}),
	}
	m.Registry.MustRegister(m.adverts, m.discovered, m.tracked, m.secrets, m.handshakes,
		m.encounters, m.epochs, m.mediumErrors, m.requests, m.requestTiming, m.buildInfo)
	return m
}

// MetricsHandler exposes the registry, mount it at /metrics.
func (m *Metrics) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetBuildInfo(version string, radio string) {
	m.buildInfo.WithLabelValues(version, radio).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument records request count and latency under the op label.
func (m *Metrics) Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		class := strconv.Itoa(sw.status/100) + "xx"
		m.requests.WithLabelValues(op, class).Inc()
		m.requestTiming.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
