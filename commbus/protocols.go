// Package commbus implements the Parent Bridge: the message protocol between
// a liveness run and the page hosting it, and the in-process bus that
// carries those messages.
//
// Outbound messages (READY, RESULT, CANCEL, TIMEOUT, EXPIRED, NETWORK_ERROR)
// are events fanned out to every subscriber of a run's bridge. The single
// inbound message (INIT) is a query: it is checked by middleware (origin
// allow-list, throttling) and answered by exactly one handler.
package commbus

import "context"

// Message is anything carried by the bus. Category is "event" or "query".
type Message interface {
	Category() string
}

// TypedMessage names its own wire type.
type TypedMessage interface {
	Message
	MessageType() string
}

// Query is answered by exactly one handler.
type Query interface {
	Message
	IsQuery()
}

// Inbound messages arrive from the hosting page and remember which origin
// posted them.
type Inbound interface {
	Message
	SourceOrigin() string
}

// HandlerFunc handles an event or answers a query.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Middleware wraps every message on a bus.
//
// Before runs in registration order. Returning a nil message drops it
// without error; returning an error rejects it. After runs in reverse order
// with the handler's result and error.
type Middleware interface {
	Before(ctx context.Context, message Message) (Message, error)
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus carries bridge messages. Events fan out to subscribers; queries
// go to the one handler registered for their type.
type CommBus interface {
	Publish(ctx context.Context, event Message) error
	QuerySync(ctx context.Context, query Query) (any, error)
	Subscribe(eventType string, handler HandlerFunc) (unsubscribe func())
	RegisterHandler(messageType string, handler HandlerFunc) error
	AddMiddleware(middleware Middleware)
	HasHandler(messageType string) bool
}
