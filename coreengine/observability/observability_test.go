package observability

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestRecordSessionOutcome(t *testing.T) {
	tests := []struct {
		name       string
		outcome    string
		durationMS int
	}{
		{"approved", "approved", 12000},
		{"rejected", "rejected", 15000},
		{"timeout", "analysis_timeout", 30000},
		{"zero duration", "unknown_error", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(sessionOutcomesTotal.WithLabelValues(tt.outcome))
			RecordSessionOutcome(tt.outcome, tt.durationMS)
			after := testutil.ToFloat64(sessionOutcomesTotal.WithLabelValues(tt.outcome))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestRecordBackendCall(t *testing.T) {
	RecordBackendCall("create_session", "success", 40)
	RecordBackendCall("get_result", "transport_error", 5)

	assert.Greater(t, testutil.ToFloat64(backendRequestsTotal.WithLabelValues("create_session", "success")), 0.0)
	assert.Greater(t, testutil.ToFloat64(backendRequestsTotal.WithLabelValues("get_result", "transport_error")), 0.0)
}

func TestRecordBridgeMessage(t *testing.T) {
	before := testutil.ToFloat64(bridgeMessagesTotal.WithLabelValues("RESULT", "outbound"))
	RecordBridgeMessage("RESULT", "outbound")
	assert.Equal(t, before+1, testutil.ToFloat64(bridgeMessagesTotal.WithLabelValues("RESULT", "outbound")))
}

func TestRecordLocalizerRewrites_IgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(localizerRewritesTotal)
	RecordLocalizerRewrites(0)
	RecordLocalizerRewrites(-3)
	assert.Equal(t, before, testutil.ToFloat64(localizerRewritesTotal))

	RecordLocalizerRewrites(2)
	assert.Equal(t, before+2, testutil.ToFloat64(localizerRewritesTotal))
}

func TestCounters_Concurrent(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	before := testutil.ToFloat64(sessionsStartedTotal)
	done := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < iterations; j++ {
				RecordSessionStarted()
				RecordInactivityWarning()
			}
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	assert.Equal(t, before+float64(goroutines*iterations), testutil.ToFloat64(sessionsStartedTotal))
}

// =============================================================================
// TRACING TESTS
// =============================================================================

func TestInitTracer_EmptyEndpoint(t *testing.T) {
	shutdown, err := InitTracer(t.Context(), TracerConfig{ServiceName: "test-service"})

	require.Error(t, err)
	assert.Nil(t, shutdown)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestTracerProvider_ExportsSpansWithServiceName(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(t.Context(), exporter, TracerConfig{
		ServiceName:    "liveness-relay",
		ServiceVersion: "1.2.3",
	})
	require.NoError(t, err)

	_, span := tp.Tracer(TracerName).Start(t.Context(), "liveness.run")
	span.End()
	require.NoError(t, tp.ForceFlush(t.Context()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "liveness.run", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "liveness-relay", service)
	require.NoError(t, tp.Shutdown(t.Context()))
}

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestTracer_NotNil(t *testing.T) {
	assert.NotNil(t, Tracer())
}

// =============================================================================
// LOGGER TESTS
// =============================================================================

func TestZerologLogger_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf))

	logger.Info("session_created", "session_id", "sess-1", "region", "us-east-1")

	out := buf.String()
	assert.Contains(t, out, `"message":"session_created"`)
	assert.Contains(t, out, `"session_id":"sess-1"`)
	assert.Contains(t, out, `"region":"us-east-1"`)
}

func TestZerologLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Error("poll_failed", "error", "boom")
	assert.Contains(t, buf.String(), "poll_failed")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l.Debug("x")
	l.Info("x", "k", 1)
	l.Warn("x")
	l.Error("x")
}
