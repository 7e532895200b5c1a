// Package metrics exposes Prometheus instrumentation for sessions and
// terminals.
package metrics

import (
	"net/http"

	"github.com/bhandras/termhub/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "termhub"

// LiveCounter reports the number of live terminals.
type LiveCounter interface {
	Count() int
	Limit() int
}

// SessionCounter reports the number of registered sessions.
type SessionCounter interface {
	Len() int
}

// Metrics is a session.Observer backed by a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	created  prometheus.Counter
	rejected *prometheus.CounterVec
	exits    *prometheus.CounterVec
}

var _ session.Observer = (*Metrics)(nil)

// New registers the termhub collectors plus the Go and process collectors.
func New(live LiveCounter, sessions SessionCounter) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminals_created_total",
			Help:      "Terminals successfully spawned.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "create_rejected_total",
			Help:      "Create requests refused, by error code.",
		}, []string{"code"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_exits_total",
			Help:      "Terminals reaped, by cause.",
		}, []string{"cause"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_terminals",
			Help:      "Terminals currently holding a global slot.",
		}, func() float64 { return float64(live.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "terminal_limit",
			Help:      "Configured global terminal limit.",
		}, func() float64 { return float64(live.Limit()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Registered sessions.",
		}, func() float64 { return float64(sessions.Len()) }),
		m.created,
		m.rejected,
		m.exits,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TerminalOpened implements session.Observer.
func (m *Metrics) TerminalOpened(string, session.Descriptor) {
	m.created.Inc()
}

// TerminalClosed implements session.Observer.
func (m *Metrics) TerminalClosed(_ string, _ string, _ int, cause session.ExitCause) {
	m.exits.WithLabelValues(string(cause)).Inc()
}

// CreateRejected implements session.Observer.
func (m *Metrics) CreateRejected(_ string, _ string, err error) {
	m.rejected.WithLabelValues(session.ErrorCode(err)).Inc()
}
