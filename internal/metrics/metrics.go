// Package metrics holds the Prometheus collectors shared by agents, the
// directory and wrappers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ezdl"

type Metrics struct {
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	unhandled        *prometheus.CounterVec
	activeHandlers   *prometheus.GaugeVec
	askTotal         *prometheus.CounterVec
	askDuration      *prometheus.HistogramVec
	directoryRecords prometheus.Gauge
	wrapperSessions  *prometheus.GaugeVec
	wrapperRejected  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_messages_received_total",
				Help:      "Messages delivered to an agent, by content type",
			},
			[]string{"agent", "type"},
		),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_messages_sent_total",
				Help:      "Messages handed to the transport, by content type",
			},
			[]string{"agent", "type"},
		),
		unhandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_messages_unhandled_total",
				Help:      "Messages matching neither an active handler nor a factory",
			},
			[]string{"agent"},
		),
		activeHandlers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_active_handlers",
				Help:      "Request handler instances currently bound to a request",
			},
			[]string{"agent"},
		),
		askTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_asks_total",
				Help:      "Completed asks by outcome",
			},
			[]string{"agent", "outcome"},
		),
		askDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_ask_duration_seconds",
				Help:      "Time between sending an ask and its resolution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		directoryRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "directory_records",
				Help:      "Agent records held by the directory",
			},
		),
		wrapperSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "wrapper_sessions_active",
				Help:      "Admitted concurrent sessions against an external source",
			},
			[]string{"wrapper"},
		),
		wrapperRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wrapper_sessions_rejected_total",
				Help:      "Sessions refused because the source was at capacity",
			},
			[]string{"wrapper"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.messagesReceived,
			m.messagesSent,
			m.unhandled,
			m.activeHandlers,
			m.askTotal,
			m.askDuration,
			m.directoryRecords,
			m.wrapperSessions,
			m.wrapperRejected,
		)
	}
	return m
}

// Handler serves the collectors registered with gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageReceived(agent, contentType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(agent, contentType).Inc()
}

func (m *Metrics) MessageSent(agent, contentType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(agent, contentType).Inc()
}

func (m *Metrics) Unhandled(agent string) {
	if m == nil {
		return
	}
	m.unhandled.WithLabelValues(agent).Inc()
}

func (m *Metrics) HandlerStarted(agent string) {
	if m == nil {
		return
	}
	m.activeHandlers.WithLabelValues(agent).Inc()
}

func (m *Metrics) HandlerRetired(agent string) {
	if m == nil {
		return
	}
	m.activeHandlers.WithLabelValues(agent).Dec()
}

// AskCompleted records an ask resolution; outcome is reply, timeout or cancelled.
func (m *Metrics) AskCompleted(agent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.askTotal.WithLabelValues(agent, outcome).Inc()
	m.askDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (m *Metrics) DirectoryRecords(n int) {
	if m == nil {
		return
	}
	m.directoryRecords.Set(float64(n))
}

func (m *Metrics) WrapperSessions(wrapper string, active int64) {
	if m == nil {
		return
	}
	m.wrapperSessions.WithLabelValues(wrapper).Set(float64(active))
}

func (m *Metrics) WrapperRejected(wrapper string) {
	if m == nil {
		return
	}
	m.wrapperRejected.WithLabelValues(wrapper).Inc()
}
