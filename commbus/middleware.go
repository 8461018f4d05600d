package commbus

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
)

// Directions used for metrics and logs.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// directionOf derives the direction from the message category: queries come
// in from the hosting page, events go out to it.
func directionOf(message Message) string {
	if message.Category() == string(MessageCategoryQuery) {
		return DirectionInbound
	}
	return DirectionOutbound
}

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs all message traffic.
type LoggingMiddleware struct {
	logger observability.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger observability.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs message receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.logger.Debug("bridge_message", "type", GetMessageType(message), "direction", directionOf(message))
	return message, nil
}

// After logs message completion.
func (m *LoggingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	if err != nil {
		m.logger.Warn("bridge_message_failed", "type", GetMessageType(message), "error", err.Error())
	}
	return result, nil
}

// =============================================================================
// METRICS MIDDLEWARE
// =============================================================================

// MetricsMiddleware counts bridge messages by type and direction.
type MetricsMiddleware struct{}

// Before records the message.
func (MetricsMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	observability.RecordBridgeMessage(GetMessageType(message), directionOf(message))
	return message, nil
}

// After is a no-op.
func (MetricsMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, nil
}

// =============================================================================
// ORIGIN MIDDLEWARE
// =============================================================================

// OriginMiddleware rejects inbound messages posted from origins outside the
// allow-list. An empty allow-list accepts every origin.
type OriginMiddleware struct {
	allowed map[string]struct{}
	logger  observability.Logger
}

// NewOriginMiddleware creates an OriginMiddleware for the given origins.
func NewOriginMiddleware(allowed []string, logger observability.Logger) *OriginMiddleware {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if o := normalizeOrigin(origin); o != "" {
			set[o] = struct{}{}
		}
	}
	return &OriginMiddleware{allowed: set, logger: logger}
}

// Allows reports whether origin passes the allow-list.
func (m *OriginMiddleware) Allows(origin string) bool {
	if len(m.allowed) == 0 {
		return true
	}
	_, ok := m.allowed[normalizeOrigin(origin)]
	return ok
}

// Before checks the origin of inbound messages.
func (m *OriginMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	inbound, ok := message.(Inbound)
	if !ok {
		return message, nil
	}
	if !m.Allows(inbound.SourceOrigin()) {
		m.logger.Warn("bridge_origin_rejected", "type", GetMessageType(message), "origin", inbound.SourceOrigin())
		return nil, &OriginRejectedError{MessageType: GetMessageType(message), Origin: inbound.SourceOrigin()}
	}
	return message, nil
}

// After is a no-op.
func (m *OriginMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, nil
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// =============================================================================
// THROTTLE MIDDLEWARE
// =============================================================================

// ThrottleMiddleware limits the rate of inbound messages with a token bucket.
// Outbound events are never throttled.
type ThrottleMiddleware struct {
	limiter *rate.Limiter
}

// NewThrottleMiddleware allows perSecond inbound messages with the given burst.
// A non-positive perSecond disables throttling.
func NewThrottleMiddleware(perSecond float64, burst int) *ThrottleMiddleware {
	if perSecond <= 0 {
		return &ThrottleMiddleware{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottleMiddleware{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Before rejects inbound messages over the limit.
func (m *ThrottleMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	if directionOf(message) != DirectionInbound {
		return message, nil
	}
	if !m.limiter.Allow() {
		return nil, &ThrottledError{MessageType: GetMessageType(message)}
	}
	return message, nil
}

// After is a no-op.
func (m *ThrottleMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, nil
}

// Ensure all middleware types implement Middleware interface.
var (
	_ Middleware = (*LoggingMiddleware)(nil)
	_ Middleware = MetricsMiddleware{}
	_ Middleware = (*OriginMiddleware)(nil)
	_ Middleware = (*ThrottleMiddleware)(nil)
)
