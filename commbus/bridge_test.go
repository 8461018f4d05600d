package commbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
)

type collected struct {
	types []string
	mu    sync.Mutex
}

func (c *collected) add(ctx context.Context, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = append(c.types, GetMessageType(msg))
}

func (c *collected) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.types...)
}

// =============================================================================
// OUTBOUND BRIDGE TESTS
// =============================================================================

func TestBridge_OpenAnnouncesReadyOnce(t *testing.T) {
	b := NewBridge(nil)
	ctx := context.Background()

	require.NoError(t, b.Open(ctx))
	require.NoError(t, b.Open(ctx))

	msgs := b.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeReady, GetMessageType(msgs[0]))
}

func TestBridge_LateSubscriberSeesBacklog(t *testing.T) {
	b := NewBridge(nil)
	ctx := context.Background()
	require.NoError(t, b.Open(ctx))

	got := &collected{}
	unsubscribe := b.Subscribe(got.add)
	defer unsubscribe()

	verdict := liveness.NewVerdict("s", liveness.StatusSucceeded, true, 99, 90)
	require.NoError(t, b.Publish(ctx, &Result{Verdict: verdict}))

	assert.Equal(t, []string{TypeReady, TypeResult}, got.snapshot())
}

func TestBridge_Unsubscribe(t *testing.T) {
	b := NewBridge(nil)
	got := &collected{}

	unsubscribe := b.Subscribe(got.add)
	unsubscribe()

	require.NoError(t, b.Publish(context.Background(), &Cancel{}))
	assert.Empty(t, got.snapshot())
}

func TestBridge_RejectsQueriesAndClosedPublish(t *testing.T) {
	b := NewBridge(nil)
	ctx := context.Background()

	assert.Error(t, b.Publish(ctx, &Init{Token: "t"}))
	assert.Error(t, b.Publish(ctx, nil))

	b.Close()
	assert.ErrorIs(t, b.Publish(ctx, &Timeout{}), ErrBridgeClosed)
}

// =============================================================================
// INBOUND GATEWAY TESTS
// =============================================================================

func TestGateway_DeliverInit(t *testing.T) {
	g := NewGateway(GatewayConfig{AllowedOrigins: []string{"https://host.example"}}, nil)
	assert.False(t, g.Accepting())

	var received *Init
	require.NoError(t, g.OnInit(func(ctx context.Context, init *Init) (any, error) {
		received = init
		return "run-1", nil
	}))

	assert.True(t, g.Accepting())

	result, err := g.Deliver(context.Background(),
		[]byte(`{"type":"INIT","payload":{"token":"jwt","subjectId":"7"}}`), "https://host.example")
	require.NoError(t, err)

	assert.Equal(t, "run-1", result)
	require.NotNil(t, received)
	assert.Equal(t, "jwt", received.Token)
	assert.Equal(t, "7", received.SubjectID)
	assert.Equal(t, "https://host.example", received.Origin)
}

func TestGateway_IgnoresForeignOrigin(t *testing.T) {
	g := NewGateway(GatewayConfig{AllowedOrigins: []string{"https://host.example"}}, nil)
	called := false
	require.NoError(t, g.OnInit(func(ctx context.Context, init *Init) (any, error) {
		called = true
		return nil, nil
	}))

	_, err := g.Deliver(context.Background(),
		[]byte(`{"type":"INIT","payload":{"token":"jwt"}}`), "https://other.example")

	var rejected *OriginRejectedError
	assert.ErrorAs(t, err, &rejected)
	assert.False(t, called)
}

func TestGateway_RejectsOutboundTypesAndEmptyToken(t *testing.T) {
	g := NewGateway(GatewayConfig{}, nil)
	require.NoError(t, g.OnInit(func(ctx context.Context, init *Init) (any, error) {
		return nil, errors.New("must not be called")
	}))

	var decodeErr *DecodeError

	_, err := g.Deliver(context.Background(), []byte(`{"type":"CANCEL"}`), "")
	assert.ErrorAs(t, err, &decodeErr)

	_, err = g.Deliver(context.Background(), []byte(`{"type":"INIT","payload":{"token":""}}`), "")
	assert.ErrorAs(t, err, &decodeErr)
}

func TestGateway_Throttles(t *testing.T) {
	g := NewGateway(GatewayConfig{RatePerSecond: 0.001, Burst: 1}, nil)
	require.NoError(t, g.OnInit(func(ctx context.Context, init *Init) (any, error) {
		return "ok", nil
	}))

	_, err := g.DeliverInit(context.Background(), &Init{Token: "a"})
	require.NoError(t, err)

	_, err = g.DeliverInit(context.Background(), &Init{Token: "b"})
	var throttled *ThrottledError
	assert.ErrorAs(t, err, &throttled)
}

func TestGateway_SingleInitHandler(t *testing.T) {
	g := NewGateway(GatewayConfig{}, nil)
	handler := func(ctx context.Context, init *Init) (any, error) { return nil, nil }

	require.NoError(t, g.OnInit(handler))
	var dup *HandlerAlreadyRegisteredError
	assert.ErrorAs(t, g.OnInit(handler), &dup)
}
