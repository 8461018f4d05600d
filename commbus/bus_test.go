package commbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBus() *InMemoryCommBus {
	return NewInMemoryCommBus(time.Second, nil)
}

// countingHandler returns handler that counts calls
func countingHandler(counter *int32) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		atomic.AddInt32(counter, 1)
		return "ok", nil
	}
}

// failingHandler returns handler that always fails
func failingHandler(errMsg string) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New(errMsg)
	}
}

// recordingMiddleware records the order of Before/After calls.
type recordingMiddleware struct {
	name  string
	calls *[]string
	mu    *sync.Mutex
}

func (m *recordingMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	m.mu.Lock()
	*m.calls = append(*m.calls, m.name+".before")
	m.mu.Unlock()
	return message, nil
}

func (m *recordingMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	m.mu.Lock()
	*m.calls = append(*m.calls, m.name+".after")
	m.mu.Unlock()
	return result, nil
}

// afterErrMiddleware records the error handed to After.
type afterErrMiddleware struct {
	seen *error
}

func (afterErrMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	return message, nil
}

func (m afterErrMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	*m.seen = err
	return result, nil
}

// dropMiddleware drops every message.
type dropMiddleware struct{}

func (dropMiddleware) Before(ctx context.Context, message Message) (Message, error) {
	return nil, nil
}

func (dropMiddleware) After(ctx context.Context, message Message, result any, err error) (any, error) {
	return result, nil
}

// =============================================================================
// PUBLISH TESTS
// =============================================================================

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	bus := newTestBus()
	var count int32

	bus.Subscribe(TypeCancel, countingHandler(&count))
	bus.Subscribe(TypeCancel, countingHandler(&count))
	bus.Subscribe(TypeTimeout, countingHandler(&count))

	require.NoError(t, bus.Publish(context.Background(), &Cancel{}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestPublish_NoSubscribers(t *testing.T) {
	bus := newTestBus()
	assert.NoError(t, bus.Publish(context.Background(), &Expired{}))
}

func TestPublish_SubscriberErrorDoesNotStopOthers(t *testing.T) {
	bus := newTestBus()
	var count int32

	bus.Subscribe(TypeResult, failingHandler("boom"))
	bus.Subscribe(TypeResult, countingHandler(&count))

	require.NoError(t, bus.Publish(context.Background(), &Result{}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestPublish_DroppedByMiddleware(t *testing.T) {
	bus := newTestBus()
	var count int32
	bus.Subscribe(TypeReady, countingHandler(&count))
	bus.AddMiddleware(dropMiddleware{})

	require.NoError(t, bus.Publish(context.Background(), &Ready{}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	bus := newTestBus()
	var first, second int32

	unsubscribe := bus.Subscribe(TypeCancel, countingHandler(&first))
	bus.Subscribe(TypeCancel, countingHandler(&second))

	unsubscribe()
	unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Cancel{}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestPublish_DeliversInSubscriptionOrder(t *testing.T) {
	bus := newTestBus()
	var order []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, msg Message) (any, error) {
			order = append(order, name)
			return nil, nil
		}
	}

	bus.Subscribe(TypeResult, record("typed-1"))
	bus.Subscribe(AnyType, record("any"))
	bus.Subscribe(TypeResult, record("typed-2"))

	require.NoError(t, bus.Publish(context.Background(), &Result{}))
	assert.Equal(t, []string{"typed-1", "any", "typed-2"}, order)
}

func TestPublish_PanickingSubscriberIsSkipped(t *testing.T) {
	bus := newTestBus()
	var count int32

	bus.Subscribe(TypeTimeout, func(ctx context.Context, msg Message) (any, error) {
		panic("subscriber exploded")
	})
	bus.Subscribe(TypeTimeout, countingHandler(&count))

	require.NotPanics(t, func() {
		require.NoError(t, bus.Publish(context.Background(), &Timeout{}))
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestPublish_SubscriberFailuresReachAfterChain(t *testing.T) {
	bus := newTestBus()
	var seen error
	bus.AddMiddleware(afterErrMiddleware{seen: &seen})
	bus.Subscribe(TypeExpired, failingHandler("boom"))

	require.NoError(t, bus.Publish(context.Background(), &Expired{}))
	require.Error(t, seen)
	assert.Contains(t, seen.Error(), "boom")
}

func TestSubscribe_AnyTypeReceivesEveryOutboundType(t *testing.T) {
	bus := newTestBus()
	var got []string
	bus.Subscribe(AnyType, func(ctx context.Context, msg Message) (any, error) {
		got = append(got, GetMessageType(msg))
		return nil, nil
	})

	for _, msg := range []Message{&Ready{}, &Result{}, &Cancel{}, &Timeout{}, &Expired{}, &NetworkError{}} {
		require.NoError(t, bus.Publish(context.Background(), msg))
	}
	assert.Equal(t, OutboundTypes, got)
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestQuerySync_ReturnsHandlerResult(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler(TypeInit, func(ctx context.Context, msg Message) (any, error) {
		return msg.(*Init).SubjectID, nil
	}))

	result, err := bus.QuerySync(context.Background(), &Init{Token: "t", SubjectID: "subject-1"})
	require.NoError(t, err)
	assert.Equal(t, "subject-1", result)
}

func TestQuerySync_NoHandler(t *testing.T) {
	bus := newTestBus()

	_, err := bus.QuerySync(context.Background(), &Init{Token: "t"})

	var noHandler *NoHandlerError
	require.ErrorAs(t, err, &noHandler)
	assert.Equal(t, TypeInit, noHandler.MessageType)
}

func TestQuerySync_Timeout(t *testing.T) {
	bus := NewInMemoryCommBus(20*time.Millisecond, nil)
	release := make(chan struct{})
	defer close(release)

	require.NoError(t, bus.RegisterHandler(TypeInit, func(ctx context.Context, msg Message) (any, error) {
		<-release
		return nil, nil
	}))

	_, err := bus.QuerySync(context.Background(), &Init{Token: "t"})

	var timeout *QueryTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Contains(t, err.Error(), "timed out")
}

func TestQuerySync_HandlerError(t *testing.T) {
	bus := newTestBus()
	require.NoError(t, bus.RegisterHandler(TypeInit, failingHandler("create failed")))

	_, err := bus.QuerySync(context.Background(), &Init{Token: "t"})
	assert.EqualError(t, err, "create failed")
}

func TestRegisterHandler_Duplicate(t *testing.T) {
	bus := newTestBus()
	var count int32

	require.NoError(t, bus.RegisterHandler(TypeInit, countingHandler(&count)))
	err := bus.RegisterHandler(TypeInit, countingHandler(&count))

	var dup *HandlerAlreadyRegisteredError
	require.ErrorAs(t, err, &dup)
	assert.True(t, bus.HasHandler(TypeInit))
	assert.False(t, bus.HasHandler(TypeResult))
}

// =============================================================================
// MIDDLEWARE CHAIN TESTS
// =============================================================================

func TestMiddleware_Order(t *testing.T) {
	bus := newTestBus()
	var calls []string
	var mu sync.Mutex

	bus.AddMiddleware(&recordingMiddleware{name: "first", calls: &calls, mu: &mu})
	bus.AddMiddleware(&recordingMiddleware{name: "second", calls: &calls, mu: &mu})
	require.NoError(t, bus.RegisterHandler(TypeInit, func(ctx context.Context, msg Message) (any, error) {
		return "ok", nil
	}))

	_, err := bus.QuerySync(context.Background(), &Init{Token: "t"})
	require.NoError(t, err)

	assert.Equal(t, []string{"first.before", "second.before", "second.after", "first.after"}, calls)
}

func TestPublish_Concurrent(t *testing.T) {
	bus := newTestBus()
	var count int32
	bus.Subscribe(TypeReady, countingHandler(&count))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Publish(context.Background(), &Ready{})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), atomic.LoadInt32(&count))
}
