package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus instruments. A nil *Metrics is
// valid everywhere and records nothing, which keeps tests free of
// duplicate-registration failures.
type Metrics struct {
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter
	messagesReceived     *prometheus.CounterVec
	messagesSent         *prometheus.CounterVec
	authFailures         prometheus.Counter
	moderationActions    *prometheus.CounterVec
}

// NewMetrics creates and registers the server metrics on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Number of currently connected sessions",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_created_total",
			Help: "Total sessions accepted",
		}),
		sessionsDisconnected: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_disconnected_total",
			Help: "Total sessions torn down",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_messages_received_total",
			Help: "Messages received, by type",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Messages sent, by type",
		}, []string{"type"}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_auth_failures_total",
			Help: "Failed login and registration attempts",
		}),
		moderationActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_moderation_actions_total",
			Help: "Moderation commands executed, by action",
		}, []string{"action"}),
	}
}

// RecordActiveSessions sets the active session gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated counts an accepted connection.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected counts a torn-down connection.
func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

// RecordMessageReceived counts an inbound message by type name.
func (m *Metrics) RecordMessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// RecordMessageSent counts an outbound message by type name.
func (m *Metrics) RecordMessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// RecordAuthFailure counts a failed login or registration.
func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// RecordModeration counts an executed moderation command.
func (m *Metrics) RecordModeration(action string) {
	if m == nil {
		return
	}
	m.moderationActions.WithLabelValues(action).Inc()
}
