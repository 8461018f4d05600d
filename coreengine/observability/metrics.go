package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveness_sessions_started_total",
			Help: "Total number of orchestration runs started",
		},
	)

	sessionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveness_session_outcomes_total",
			Help: "Terminal outcomes by category",
		},
		[]string{"outcome"},
	)

	sessionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveness_session_duration_seconds",
			Help:    "Time from start to terminal outcome",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120},
		},
		[]string{"outcome"},
	)

	inactivityWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveness_inactivity_warnings_total",
			Help: "Inactivity warnings raised before the first interaction",
		},
	)
)

// =============================================================================
// BACKEND METRICS
// =============================================================================

var (
	backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveness_backend_requests_total",
			Help: "Backend liveness service requests",
		},
		[]string{"operation", "status"}, // status: one of the BackendStatus* values
	)

	backendDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveness_backend_duration_seconds",
			Help:    "Backend liveness service request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)
)

// =============================================================================
// BRIDGE & LOCALIZER METRICS
// =============================================================================

var (
	bridgeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveness_bridge_messages_total",
			Help: "Parent bridge messages by type and direction",
		},
		[]string{"type", "direction"}, // direction: inbound, outbound, rejected
	)

	localizerRewritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "liveness_localizer_rewrites_total",
			Help: "Text nodes rewritten by the localizer",
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordSessionStarted counts a new orchestration run.
func RecordSessionStarted() {
	sessionsStartedTotal.Inc()
}

// RecordSessionOutcome records the terminal outcome of a run.
func RecordSessionOutcome(outcome string, durationMS int) {
	sessionOutcomesTotal.WithLabelValues(outcome).Inc()
	sessionDurationSeconds.WithLabelValues(outcome).Observe(float64(durationMS) / 1000.0)
}

// RecordInactivityWarning counts an advisory inactivity prompt.
func RecordInactivityWarning() {
	inactivityWarningsTotal.Inc()
}

// Values of the status label of backend requests.
const (
	BackendStatusSuccess        = "success"
	BackendStatusHTTPError      = "http_error"
	BackendStatusTransportError = "transport_error"
	BackendStatusDecodeError    = "decode_error"
	BackendStatusRequestError   = "request_error"
)

// RecordBackendCall records a backend request.
func RecordBackendCall(operation string, status string, durationMS int) {
	backendRequestsTotal.WithLabelValues(operation, status).Inc()
	backendDurationSeconds.WithLabelValues(operation).Observe(float64(durationMS) / 1000.0)
}

// RecordBridgeMessage records a bridge message crossing the window boundary.
func RecordBridgeMessage(messageType string, direction string) {
	bridgeMessagesTotal.WithLabelValues(messageType, direction).Inc()
}

// RecordLocalizerRewrites adds rewritten text nodes.
func RecordLocalizerRewrites(n int) {
	if n > 0 {
		localizerRewritesTotal.Add(float64(n))
	}
}
