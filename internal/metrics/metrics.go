package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "urban"

var (
	once sync.Once

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Accepted booking status transitions.",
		},
		[]string{"from", "to"},
	)

	bookingTransitionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_failures_total",
			Help:      "Rejected booking status updates by reason.",
		},
		[]string{"reason"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Registered partner WebSocket connections.",
		},
	)

	wsMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket pushes by message type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	eventSinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_sink_errors_total",
			Help:      "Booking event deliveries that failed, by sink.",
		},
		[]string{"sink"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register registers the collectors with the default registry. Safe to call
// multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingTransitions,
			bookingTransitionFailures,
			wsConnections,
			wsMessages,
			eventSinkErrors,
			httpRequests,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTransition counts an accepted status change.
func ObserveTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

// ObserveTransitionFailure counts a rejected status change.
func ObserveTransitionFailure(reason string) {
	bookingTransitionFailures.WithLabelValues(reason).Inc()
}

// SetConnections records the size of the socket registry.
func SetConnections(n int) {
	wsConnections.Set(float64(n))
}

// ObserveMessage counts a push attempt; outcome is "sent" or "dropped".
func ObserveMessage(msgType, outcome string) {
	wsMessages.WithLabelValues(msgType, outcome).Inc()
}

// ObserveSinkError counts a failed event delivery.
func ObserveSinkError(sink string) {
	eventSinkErrors.WithLabelValues(sink).Inc()
}

// ObserveHTTP counts a served request.
func ObserveHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
