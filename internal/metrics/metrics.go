package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection Metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postwire_active_sessions",
		Help: "Number of currently connected client sessions",
	})

	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postwire_connections_total",
		Help: "Total number of accepted client connections",
	})

	LoggedInSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postwire_logged_in_sessions",
		Help: "Number of sessions currently logged in",
	})

	// Protocol Metrics
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postwire_requests_total",
		Help: "Total well-formed requests handled by type",
	}, []string{"type"})

	ResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postwire_responses_total",
		Help: "Total RESPONSE and ERROR envelopes sent by outcome",
	}, []string{"type", "outcome"})

	ProtocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postwire_protocol_violations_total",
		Help: "Total malformed lines dropped without a reply",
	})

	// Mail Metrics
	MailsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postwire_mails_delivered_total",
		Help: "Total mailbox appends performed by deliver",
	})

	MailsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postwire_mails_forwarded_total",
		Help: "Total successful forward operations",
	})

	LivePushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postwire_live_pushes_total",
		Help: "Total best-effort notifications pushed to connected recipients",
	})

	// Broadcast Metrics
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "postwire_broadcast_fanout",
		Help:    "Number of sessions reached per CHAT broadcast",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// Registry Metrics
	RegisteredAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postwire_registered_accounts",
		Help: "Number of registered accounts",
	})

	// Error Metrics
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postwire_errors_total",
		Help: "Total errors by component",
	}, []string{"component", "type"})
)

// RecordRequest records one handled request by type
func RecordRequest(msgType string) {
	RequestsTotal.WithLabelValues(msgType).Inc()
}

// RecordResponse records the outcome of one request
func RecordResponse(msgType string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	ResponsesTotal.WithLabelValues(msgType, outcome).Inc()
}

// RecordError records an error for a component
func RecordError(component, errType string) {
	Errors.WithLabelValues(component, errType).Inc()
}
