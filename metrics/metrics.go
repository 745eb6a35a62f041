// Package metrics exposes the Prometheus collectors that report turn and
// node activity. All methods are safe on a nil *Metrics, so components can
// run without instrumentation.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "speakmesh"

// Turn outcomes recorded by TurnFinished.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Replay sources recorded by IncReplay.
const (
	ReplayJournal = "journal"
	ReplayState   = "state"
)

// Metrics bundles the speakmesh collectors.
type Metrics struct {
	nodeDuration *prometheus.HistogramVec
	nodeFailures *prometheus.CounterVec
	turnsActive  prometheus.Gauge
	turns        *prometheus.CounterVec
	replays      *prometheus.CounterVec
	httpRequests *prometheus.HistogramVec
}

// MustNew constructs Metrics registered with reg (the default registerer when
// nil). Collectors that are already registered under the same name are
// reused, so constructing Metrics twice against one registry is safe. Any
// other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "node_duration_seconds",
				Help:      "Duration of each graph node including its commit.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"node", "status"},
		),
		nodeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "node_failures_total",
				Help:      "Node executions that produced no usable output.",
			},
			[]string{"node", "reason"},
		),
		turnsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "turns_active",
				Help:      "Turns currently executing.",
			},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "turns_total",
				Help:      "Finished turns by outcome.",
			},
			[]string{"outcome"},
		),
		replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "replays_total",
				Help:      "Resubmitted turns answered by replay instead of execution.",
			},
			[]string{"source"},
		),
		httpRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests until the response (or event stream) ended.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}

	m.nodeDuration = register(reg, m.nodeDuration)
	m.nodeFailures = register(reg, m.nodeFailures)
	m.turnsActive = register(reg, m.turnsActive)
	m.turns = register(reg, m.turns)
	m.replays = register(reg, m.replays)
	m.httpRequests = register(reg, m.httpRequests)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveNode records how long a node took and whether it succeeded.
func (m *Metrics) ObserveNode(node, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(node, status).Observe(d.Seconds())
}

// IncNodeFailure counts a failed node execution.
func (m *Metrics) IncNodeFailure(node, reason string) {
	if m == nil {
		return
	}
	m.nodeFailures.WithLabelValues(node, reason).Inc()
}

// TurnStarted marks a turn as active.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.turnsActive.Inc()
}

// TurnFinished marks a turn as done with the given outcome.
func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.turnsActive.Dec()
	m.turns.WithLabelValues(outcome).Inc()
}

// IncReplay counts a resubmission answered from source.
func (m *Metrics) IncReplay(source string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(source).Inc()
}

// ObserveHTTP records a finished HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
