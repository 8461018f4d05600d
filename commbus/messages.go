package commbus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
)

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent is fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery is request-response with a single handler.
	MessageCategoryQuery MessageCategory = "query"
)

// Wire type discriminators.
const (
	TypeReady        = "READY"
	TypeInit         = "INIT"
	TypeResult       = "RESULT"
	TypeCancel       = "CANCEL"
	TypeTimeout      = "TIMEOUT"
	TypeExpired      = "EXPIRED"
	TypeNetworkError = "NETWORK_ERROR"
)

// OutboundTypes lists every message type sent to the hosting page.
var OutboundTypes = []string{
	TypeReady,
	TypeResult,
	TypeCancel,
	TypeTimeout,
	TypeExpired,
	TypeNetworkError,
}

// =============================================================================
// OUTBOUND EVENTS
// =============================================================================

// Ready announces that the bridge is listening.
type Ready struct{}

func (*Ready) Category() string    { return string(MessageCategoryEvent) }
func (*Ready) MessageType() string { return TypeReady }

// Result carries the verdict of a completed analysis.
type Result struct {
	liveness.Verdict
}

func (*Result) Category() string    { return string(MessageCategoryEvent) }
func (*Result) MessageType() string { return TypeResult }

// Cancel reports that the user cancelled the check.
type Cancel struct{}

func (*Cancel) Category() string    { return string(MessageCategoryEvent) }
func (*Cancel) MessageType() string { return TypeCancel }

// Timeout reports that the analysis countdown ran out.
type Timeout struct{}

func (*Timeout) Category() string    { return string(MessageCategoryEvent) }
func (*Timeout) MessageType() string { return TypeTimeout }

// Expired reports that the remote session expired.
type Expired struct{}

func (*Expired) Category() string    { return string(MessageCategoryEvent) }
func (*Expired) MessageType() string { return TypeExpired }

// NetworkError reports a connectivity failure.
type NetworkError struct{}

func (*NetworkError) Category() string    { return string(MessageCategoryEvent) }
func (*NetworkError) MessageType() string { return TypeNetworkError }

// =============================================================================
// INBOUND QUERIES
// =============================================================================

// Init starts a run on behalf of the hosting page.
type Init struct {
	Token     string `json:"token"`
	SubjectID string `json:"subjectId,omitempty"`

	// Origin is the page origin the message was posted from. Not on the wire.
	Origin string `json:"-"`
}

func (*Init) Category() string    { return string(MessageCategoryQuery) }
func (*Init) MessageType() string { return TypeInit }
func (*Init) IsQuery()            {}

// SourceOrigin implements Inbound.
func (m *Init) SourceOrigin() string { return m.Origin }

// Validate checks the INIT payload.
func (m *Init) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return errors.New("token is required")
	}
	return nil
}

// =============================================================================
// MESSAGE TYPE HELPER
// =============================================================================

// GetMessageType returns the wire type of a message.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}
	return fmt.Sprintf("%T", msg)
}

// ForOutcome returns the outbound message announcing a terminal outcome, or
// nil when the outcome has no bridge message. verdict is only used for
// Approved and Rejected.
func ForOutcome(outcome liveness.Outcome, verdict liveness.Verdict) Message {
	switch outcome {
	case liveness.OutcomeApproved, liveness.OutcomeRejected:
		return &Result{Verdict: verdict}
	case liveness.OutcomeUserCancelled:
		return &Cancel{}
	case liveness.OutcomeAnalysisTimeout:
		return &Timeout{}
	case liveness.OutcomeSessionExpired:
		return &Expired{}
	case liveness.OutcomeNetworkError:
		return &NetworkError{}
	default:
		return nil
	}
}

// =============================================================================
// WIRE CODEC
// =============================================================================

// Envelope is the JSON shape exchanged with the hosting page.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode renders a message as {"type": ..., "payload": ...}.
// Signal messages carry no payload.
func Encode(msg Message) ([]byte, error) {
	env := Envelope{Type: GetMessageType(msg)}
	switch m := msg.(type) {
	case *Result:
		payload, err := json.Marshal(m.Verdict)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type, err)
		}
		env.Payload = payload
	case *Init:
		payload, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type, err)
		}
		env.Payload = payload
	}
	return json.Marshal(env)
}

// Decode parses a wire message. The payload of RESULT is normalized so the
// approval flag is always derived locally.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Cause: err}
	}

	switch env.Type {
	case TypeReady:
		return &Ready{}, nil
	case TypeCancel:
		return &Cancel{}, nil
	case TypeTimeout:
		return &Timeout{}, nil
	case TypeExpired:
		return &Expired{}, nil
	case TypeNetworkError:
		return &NetworkError{}, nil
	case TypeResult:
		var v liveness.Verdict
		if err := unmarshalPayload(env.Payload, &v); err != nil {
			return nil, &DecodeError{Type: env.Type, Cause: err}
		}
		return &Result{Verdict: v.Normalize()}, nil
	case TypeInit:
		var m Init
		if err := unmarshalPayload(env.Payload, &m); err != nil {
			return nil, &DecodeError{Type: env.Type, Cause: err}
		}
		return &m, nil
	case "":
		return nil, &DecodeError{Cause: errors.New("missing type")}
	default:
		return nil, &DecodeError{Type: env.Type, Cause: errors.New("unknown message type")}
	}
}

func unmarshalPayload(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return errors.New("missing payload")
	}
	return json.Unmarshal(payload, v)
}

// Ensure all messages implement TypedMessage.
var (
	_ TypedMessage = (*Ready)(nil)
	_ TypedMessage = (*Result)(nil)
	_ TypedMessage = (*Cancel)(nil)
	_ TypedMessage = (*Timeout)(nil)
	_ TypedMessage = (*Expired)(nil)
	_ TypedMessage = (*NetworkError)(nil)
	_ Query        = (*Init)(nil)
	_ Inbound      = (*Init)(nil)
)
