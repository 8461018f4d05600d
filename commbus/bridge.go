package commbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
)

// DefaultQueryTimeout bounds how long an INIT handler may take.
const DefaultQueryTimeout = 15 * time.Second

// ErrBridgeClosed is returned when publishing on a closed bridge.
var ErrBridgeClosed = errors.New("bridge closed")

// =============================================================================
// OUTBOUND BRIDGE
// =============================================================================

// Bridge is the outbound side of one run: the messages sent to the hosting
// page. Every published message is kept so a subscriber that attaches late
// still sees the full sequence, starting with READY.
type Bridge struct {
	bus     *InMemoryCommBus
	backlog []Message
	opened  bool
	closed  bool
	mu      sync.Mutex
}

// NewBridge creates an outbound bridge.
func NewBridge(logger observability.Logger) *Bridge {
	bus := NewInMemoryCommBus(DefaultQueryTimeout, logger)
	bus.AddMiddleware(NewLoggingMiddleware(logger))
	bus.AddMiddleware(MetricsMiddleware{})
	return &Bridge{bus: bus}
}

// Open announces readiness. Only the first call publishes READY.
func (b *Bridge) Open(ctx context.Context) error {
	b.mu.Lock()
	if b.opened {
		b.mu.Unlock()
		return nil
	}
	b.opened = true
	b.mu.Unlock()

	return b.Publish(ctx, &Ready{})
}

// Publish sends an outbound message to every subscriber.
func (b *Bridge) Publish(ctx context.Context, msg Message) error {
	if msg == nil {
		return errors.New("nil bridge message")
	}
	if !slices.Contains(OutboundTypes, GetMessageType(msg)) {
		return fmt.Errorf("%s is not an outbound message", GetMessageType(msg))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	b.backlog = append(b.backlog, msg)
	return b.bus.Publish(ctx, msg)
}

// Subscribe replays the messages published so far to fn and then delivers
// new ones as they are published. fn must not publish on the same bridge.
func (b *Bridge) Subscribe(fn func(ctx context.Context, msg Message)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, msg := range b.backlog {
		fn(context.Background(), msg)
	}

	return b.bus.Subscribe(AnyType, func(ctx context.Context, msg Message) (any, error) {
		fn(ctx, msg)
		return nil, nil
	})
}

// Messages returns the messages published so far.
func (b *Bridge) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Message, len(b.backlog))
	copy(out, b.backlog)
	return out
}

// Close rejects further publishing. Existing subscribers stay attached.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// =============================================================================
// INBOUND GATEWAY
// =============================================================================

// GatewayConfig configures the inbound side of the bridge.
type GatewayConfig struct {
	// AllowedOrigins lists page origins allowed to post INIT. Empty allows all.
	AllowedOrigins []string
	// RatePerSecond and Burst throttle inbound messages. Zero disables it.
	RatePerSecond float64
	Burst         int
	// Timeout bounds the INIT handler. Defaults to DefaultQueryTimeout.
	Timeout time.Duration
}

// InitHandler starts a run for an accepted INIT message.
type InitHandler func(ctx context.Context, init *Init) (any, error)

// Gateway accepts inbound messages from the hosting page.
type Gateway struct {
	bus     *InMemoryCommBus
	origins *OriginMiddleware
}

// NewGateway creates the inbound gateway with logging, origin, throttling
// and metrics middleware, in that order.
func NewGateway(cfg GatewayConfig, logger observability.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultQueryTimeout
	}
	origins := NewOriginMiddleware(cfg.AllowedOrigins, logger)

	bus := NewInMemoryCommBus(cfg.Timeout, logger)
	bus.AddMiddleware(NewLoggingMiddleware(logger))
	bus.AddMiddleware(origins)
	bus.AddMiddleware(NewThrottleMiddleware(cfg.RatePerSecond, cfg.Burst))
	bus.AddMiddleware(MetricsMiddleware{})

	return &Gateway{bus: bus, origins: origins}
}

// OnInit registers the INIT handler. Only one may be registered.
func (g *Gateway) OnInit(handler InitHandler) error {
	return g.bus.RegisterHandler(TypeInit, func(ctx context.Context, message Message) (any, error) {
		init, ok := message.(*Init)
		if !ok {
			return nil, fmt.Errorf("unexpected %T for %s", message, TypeInit)
		}
		if err := init.Validate(); err != nil {
			return nil, &DecodeError{Type: TypeInit, Cause: err}
		}
		return handler(ctx, init)
	})
}

// Accepting reports whether an INIT handler is registered.
func (g *Gateway) Accepting() bool {
	return g.bus.HasHandler(TypeInit)
}

// Allows reports whether origin is on the allow-list.
func (g *Gateway) Allows(origin string) bool {
	return g.origins.Allows(origin)
}

// Deliver decodes a raw inbound message posted from origin and dispatches it.
func (g *Gateway) Deliver(ctx context.Context, raw []byte, origin string) (any, error) {
	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	init, ok := msg.(*Init)
	if !ok {
		return nil, &DecodeError{Type: GetMessageType(msg), Cause: errors.New("not an inbound message")}
	}
	init.Origin = origin
	return g.DeliverInit(ctx, init)
}

// DeliverInit dispatches an already decoded INIT message.
// The token is validated after the origin and throttling checks.
func (g *Gateway) DeliverInit(ctx context.Context, init *Init) (any, error) {
	return g.bus.QuerySync(ctx, init)
}
