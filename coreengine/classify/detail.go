package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/typeutil"
)

// StateCarrier is implemented by details that carry a widget state marker.
type StateCarrier interface {
	ErrorState() string
}

// WidgetError is the structured error the capture widget reports.
// Both fields are optional; State holds markers such as TIMEOUT or
// CAMERA_ACCESS_ERROR.
type WidgetError struct {
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *WidgetError) Error() string {
	switch {
	case e.State != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.State, e.Message)
	case e.Message != "":
		return e.Message
	case e.State != "":
		return e.State
	default:
		return "widget error"
	}
}

// ErrorState implements StateCarrier.
func (e *WidgetError) ErrorState() string {
	return e.State
}

// HasTimeoutState reports whether detail carries the explicit TIMEOUT marker.
func HasTimeoutState(detail any) bool {
	return strings.EqualFold(strings.TrimSpace(stateOf(detail)), TimeoutState)
}

// stateKeys are the paths checked for a state marker in a decoded error
// object. Some widget versions wrap the marker in an "error" object.
var stateKeys = []string{"state", "error.state"}

// stateOf extracts the state marker from the supported detail shapes.
func stateOf(detail any) string {
	switch d := detail.(type) {
	case StateCarrier:
		return d.ErrorState()
	case map[string]any:
		s, _ := typeutil.FirstString(d, stateKeys...)
		return s
	case error:
		var sc StateCarrier
		if errors.As(d, &sc) {
			return sc.ErrorState()
		}
	}
	return ""
}

// Describe renders a detail as text for phrase matching and logging.
func Describe(detail any) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case string:
		return d
	case error:
		return d.Error()
	case fmt.Stringer:
		return d.String()
	case map[string]any:
		return describeMap(d)
	case []byte:
		return string(d)
	default:
		if data, err := json.Marshal(d); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", d)
	}
}

// describeMap joins the well-known fields of a decoded JSON error object,
// falling back to the full JSON text.
func describeMap(m map[string]any) string {
	parts := make([]string, 0, 4)
	for _, key := range []string{"state", "name", "message", "error"} {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if nested, ok := typeutil.SafeMapStringAny(v); ok {
			parts = append(parts, describeMap(nested))
			continue
		}
		if s, ok := typeutil.SafeString(v); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ": ")
	}
	if data, err := json.Marshal(m); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", m)
}

// Cause turns a detail into the error forwarded to the caller.
// Errors pass through untouched.
func Cause(detail any) error {
	switch d := detail.(type) {
	case nil:
		return errors.New("unknown error")
	case error:
		return d
	case map[string]any:
		we := &WidgetError{}
		we.State, _ = typeutil.FirstString(d, stateKeys...)
		msg := describeMap(d)
		if we.State != "" {
			msg = strings.TrimPrefix(msg, we.State+": ")
			if msg == we.State {
				msg = ""
			}
		}
		we.Message = msg
		return we
	default:
		return errors.New(Describe(d))
	}
}
