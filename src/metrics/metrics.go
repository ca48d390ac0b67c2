// Package metrics exposes Prometheus counters for call screening.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	TurnsTotal      *prometheus.CounterVec
	DirectivesTotal *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec

	BackendAttempts   *prometheus.CounterVec
	BackendLatency    *prometheus.HistogramVec
	CredentialSwitch  *prometheus.CounterVec
	CallRecordsFailed prometheus.Counter
}

// New registers all collectors on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "screener"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of calls currently being screened",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished calls by outcome",
		}, []string{"outcome"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Caller turns by result",
		}, []string{"result"}),
		DirectivesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Routing directives by action and whether they were suppressed",
		}, []string{"action", "suppressed"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason",
		}, []string{"reason"}),
		BackendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend calls by capability, credential and result",
		}, []string{"capability", "credential", "result"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_attempt_duration_seconds",
			Help:      "Backend call latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"capability"}),
		CredentialSwitch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_switches_total",
			Help:      "Times the active credential changed",
		}, []string{"from", "to"}),
		CallRecordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_records_failed_total",
			Help:      "Call records that could not be stored",
		}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.TurnsTotal,
		m.DirectivesTotal,
		m.FramesDropped,
		m.BackendAttempts,
		m.BackendLatency,
		m.CredentialSwitch,
		m.CallRecordsFailed,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) RecordSessionEnd(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordTurn counts a caller turn: "replied", "dropped", "discarded" or
// "empty".
func (m *Metrics) RecordTurn(result string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDirective(action string, suppressed bool) {
	if m == nil {
		return
	}
	s := "false"
	if suppressed {
		s = "true"
	}
	m.DirectivesTotal.WithLabelValues(action, s).Inc()
}

func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCallRecordFailure() {
	if m == nil {
		return
	}
	m.CallRecordsFailed.Inc()
}

// Attempt implements failover.Observer.
func (m *Metrics) Attempt(capability, credential string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendAttempts.WithLabelValues(capability, credential, attemptResult(err)).Inc()
	m.BackendLatency.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// Switched implements failover.Observer.
func (m *Metrics) Switched(from, to string) {
	if m == nil {
		return
	}
	m.CredentialSwitch.WithLabelValues(from, to).Inc()
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
