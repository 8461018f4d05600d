package commbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/observability"
)

// AnyType subscribes to every event type.
const AnyType = "*"

// InMemoryCommBus is the in-process bus behind the bridge.
//
// Events are delivered synchronously, in subscription order, so a page sees
// READY before the terminal message. A failing or panicking subscriber is
// logged and skipped. Queries go to a single handler under a timeout. Both
// pass through the middleware chain.
//
// Usage:
//
//	bus := NewInMemoryCommBus(10*time.Second, logger)
//	bus.AddMiddleware(NewOriginMiddleware([]string{"https://app.example.com"}, logger))
//	bus.RegisterHandler(TypeInit, startRun)
//	bus.Subscribe(AnyType, forwardToPage)
//
//	resp, err := bus.QuerySync(ctx, &Init{Token: token, Origin: origin})
type InMemoryCommBus struct {
	handlers     map[string]HandlerFunc
	subscribers  map[string][]subscription
	middleware   []Middleware
	queryTimeout time.Duration
	logger       observability.Logger
	nextID       uint64
	mu           sync.RWMutex
}

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// NewInMemoryCommBus creates a bus whose queries time out after queryTimeout.
func NewInMemoryCommBus(queryTimeout time.Duration, logger observability.Logger) *InMemoryCommBus {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &InMemoryCommBus{
		handlers:     make(map[string]HandlerFunc),
		subscribers:  make(map[string][]subscription),
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// =============================================================================
// MESSAGING
// =============================================================================

// Publish delivers an event to the subscribers of its type and to AnyType
// subscribers. Subscriber failures reach the After chain but are not
// returned; only a middleware rejection is.
func (b *InMemoryCommBus) Publish(ctx context.Context, event Message) error {
	eventType := GetMessageType(event)
	chain := b.chain()

	processed, err := runBefore(ctx, chain, event)
	if err != nil {
		return err
	}
	if processed == nil {
		b.logger.Debug("event_dropped_by_middleware", "type", eventType)
		return nil
	}

	var errs []error
	for _, sub := range b.subscribersFor(eventType) {
		if err := b.deliver(ctx, sub, processed); err != nil {
			b.logger.Warn("subscriber_failed", "type", eventType, "subscription", sub.id, "error", err.Error())
			errs = append(errs, err)
		}
	}

	_, _ = runAfter(ctx, chain, event, nil, errors.Join(errs...))
	return nil
}

// deliver runs one subscriber, turning a panic into an error.
func (b *InMemoryCommBus) deliver(ctx context.Context, sub subscription, event Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	_, err = sub.handler(ctx, event)
	return err
}

// QuerySync sends a query to its handler and waits for the answer or the
// query timeout, whichever comes first.
func (b *InMemoryCommBus) QuerySync(ctx context.Context, query Query) (any, error) {
	messageType := GetMessageType(query)
	chain := b.chain()

	processed, err := runBefore(ctx, chain, query)
	if err != nil {
		_, _ = runAfter(ctx, chain, query, nil, err)
		return nil, err
	}
	if processed == nil {
		return nil, NewNoHandlerError(messageType)
	}

	b.mu.RLock()
	handler, exists := b.handlers[messageType]
	b.mu.RUnlock()
	if !exists {
		return nil, NewNoHandlerError(messageType)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	type answer struct {
		value any
		err   error
	}
	answers := make(chan answer, 1)
	go func() {
		v, e := handler(timeoutCtx, processed)
		answers <- answer{value: v, err: e}
	}()

	select {
	case <-timeoutCtx.Done():
		err := NewQueryTimeoutError(messageType, b.queryTimeout)
		_, _ = runAfter(ctx, chain, query, nil, err)
		return nil, err
	case a := <-answers:
		result, afterErr := runAfter(ctx, chain, query, a.value, a.err)
		if afterErr != nil {
			return result, afterErr
		}
		return result, a.err
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Subscribe registers handler for eventType, or for every event when
// eventType is AnyType. The returned function unsubscribes and may be called
// more than once.
func (b *InMemoryCommBus) Subscribe(eventType string, handler HandlerFunc) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[eventType]
			for i, s := range subs {
				if s.id == id {
					b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// RegisterHandler registers the single handler of a query type.
func (b *InMemoryCommBus) RegisterHandler(messageType string, handler HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[messageType]; exists {
		return NewHandlerAlreadyRegisteredError(messageType)
	}
	b.handlers[messageType] = handler
	b.logger.Debug("handler_registered", "type", messageType)
	return nil
}

// AddMiddleware appends middleware to the chain.
func (b *InMemoryCommBus) AddMiddleware(middleware Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// =============================================================================
// INTROSPECTION
// =============================================================================

// HasHandler reports whether a query type has a handler.
func (b *InMemoryCommBus) HasHandler(messageType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.handlers[messageType]
	return exists
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// chain snapshots the middleware list.
func (b *InMemoryCommBus) chain() []Middleware {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Middleware, len(b.middleware))
	copy(out, b.middleware)
	return out
}

// subscribersFor merges typed and AnyType subscribers in subscription order.
func (b *InMemoryCommBus) subscribersFor(eventType string) []subscription {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subscribers[eventType])+len(b.subscribers[AnyType]))
	subs = append(subs, b.subscribers[eventType]...)
	if eventType != AnyType {
		subs = append(subs, b.subscribers[AnyType]...)
	}
	b.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

// runBefore runs Before in order. A nil message drops it.
func runBefore(ctx context.Context, chain []Middleware, message Message) (Message, error) {
	current := message
	for _, mw := range chain {
		next, err := mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// runAfter runs After in reverse order. The last non-nil error wins.
func runAfter(ctx context.Context, chain []Middleware, message Message, result any, err error) (any, error) {
	for i := len(chain) - 1; i >= 0; i-- {
		next, afterErr := chain[i].After(ctx, message, result, err)
		if afterErr != nil {
			err = afterErr
		}
		if next != nil {
			result = next
		}
	}
	return result, err
}

var _ CommBus = (*InMemoryCommBus)(nil)
