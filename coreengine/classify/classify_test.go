package classify

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
)

type transportFailure struct{}

func (transportFailure) Error() string        { return "dial tcp: i/o timeout" }
func (transportFailure) NetworkFailure() bool { return true }

type stringer string

func (s stringer) String() string { return string(s) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		detail any
		want   liveness.Outcome
	}{
		{"expired message", "Liveness session has expired, please retry.", liveness.OutcomeSessionExpired},
		{"expired upper case", errors.New("SESSION EXPIRED"), liveness.OutcomeSessionExpired},
		{"timeout state map", map[string]any{"state": "TIMEOUT"}, liveness.OutcomeAnalysisTimeout},
		{"timeout state lower case", map[string]any{"state": "timeout"}, liveness.OutcomeAnalysisTimeout},
		{"timeout widget error", &WidgetError{State: "TIMEOUT", Message: "Face did not fit oval"}, liveness.OutcomeAnalysisTimeout},
		{"nested timeout state", map[string]any{"error": map[string]any{"state": "TIMEOUT", "message": "Face did not fit oval"}}, liveness.OutcomeAnalysisTimeout},
		{"blank state falls through to nested", map[string]any{"state": " ", "error": map[string]any{"state": "timeout"}}, liveness.OutcomeAnalysisTimeout},
		{"timeout wins over expired", map[string]any{"state": "TIMEOUT", "message": "session expired"}, liveness.OutcomeAnalysisTimeout},
		{"failed to fetch", "Failed to fetch", liveness.OutcomeNetworkError},
		{"type error wrapping fetch", errors.New("TypeError: Failed to fetch"), liveness.OutcomeNetworkError},
		{"name not resolved", "net::ERR_NAME_NOT_RESOLVED", liveness.OutcomeNetworkError},
		{"generic network error", "NetworkError when attempting to fetch resource.", liveness.OutcomeNetworkError},
		{"nested network message", map[string]any{"state": "SERVER_ERROR", "error": map[string]any{"message": "Network error"}}, liveness.OutcomeNetworkError},
		{"typed transport failure", fmt.Errorf("poll: %w", transportFailure{}), liveness.OutcomeNetworkError},
		{"dns error", &net.DNSError{Err: "no such host", Name: "api.example.com"}, liveness.OutcomeNetworkError},
		{"nested expired message", map[string]any{"state": "RUNTIME_ERROR", "error": map[string]any{"message": "Session has expired"}}, liveness.OutcomeSessionExpired},
		{"stringer", stringer("expired"), liveness.OutcomeSessionExpired},
		{"camera error", &WidgetError{State: "CAMERA_ACCESS_ERROR"}, liveness.OutcomeUnknownError},
		{"arbitrary string", "something odd happened", liveness.OutcomeUnknownError},
		{"nil detail", nil, liveness.OutcomeUnknownError},
		{"number", 42, liveness.OutcomeUnknownError},
		{"empty map", map[string]any{}, liveness.OutcomeUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.detail))
		})
	}
}

func TestClassify_NeverPanics(t *testing.T) {
	var nilErr *WidgetError
	assert.NotPanics(t, func() {
		assert.Equal(t, liveness.OutcomeUnknownError, Classify(nilErr))
	})
}

func TestHasTimeoutState(t *testing.T) {
	assert.True(t, HasTimeoutState(map[string]any{"state": " TIMEOUT "}))
	assert.True(t, HasTimeoutState(fmt.Errorf("wrapped: %w", &WidgetError{State: "TIMEOUT"})))
	assert.False(t, HasTimeoutState(map[string]any{"state": 3}))
	assert.False(t, HasTimeoutState("TIMEOUT"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "plain", Describe("plain"))
	assert.Equal(t, "SERVER_ERROR: boom", Describe(map[string]any{"state": "SERVER_ERROR", "error": map[string]any{"message": "boom"}}))
	assert.Equal(t, `{"code":7}`, Describe(map[string]any{"code": 7}))
	assert.Equal(t, "[1,2]", Describe([]int{1, 2}))
}

func TestCause(t *testing.T) {
	original := errors.New("raw cause")
	assert.Same(t, original, Cause(original))

	err := Cause(map[string]any{"state": "CAMERA_ACCESS_ERROR", "message": "denied"})
	var we *WidgetError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "CAMERA_ACCESS_ERROR", we.State)
	assert.Equal(t, "denied", we.Message)
	assert.Equal(t, "CAMERA_ACCESS_ERROR: denied", err.Error())

	err = Cause(map[string]any{"error": map[string]any{"state": "SERVER_ERROR", "message": "bad gateway"}})
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "SERVER_ERROR", we.State)
	assert.Equal(t, "bad gateway", we.Message)

	assert.EqualError(t, Cause("odd"), "odd")
	assert.EqualError(t, Cause(nil), "unknown error")
}

func TestWidgetErrorMessage(t *testing.T) {
	assert.Equal(t, "widget error", (&WidgetError{}).Error())
	assert.Equal(t, "TIMEOUT", (&WidgetError{State: "TIMEOUT"}).Error())
	assert.Equal(t, "boom", (&WidgetError{Message: "boom"}).Error())
}
