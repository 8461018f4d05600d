package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/livenessflow/coreengine/liveness"
	"github.com/jeeves-cluster-organization/livenessflow/coreengine/orchestrator"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func mountOptions(sessionID string) orchestrator.MountOptions {
	return orchestrator.MountOptions{SessionID: sessionID, Region: liveness.DefaultRegion}
}

// =============================================================================
// FAKE CLOCK TESTS
// =============================================================================

func TestFakeClock_FiresInOrder(t *testing.T) {
	clock := NewFakeClock(epoch)
	var fired []string

	clock.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	clock.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	clock.AfterFunc(1*time.Second, func() { fired = append(fired, "b") })

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, epoch.Add(2*time.Second), clock.Now())

	clock.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Zero(t, clock.Pending())
}

func TestFakeClock_Stop(t *testing.T) {
	clock := NewFakeClock(epoch)
	fired := false

	timer := clock.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	clock.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeClock_CallbackSchedulesWithinWindow(t *testing.T) {
	clock := NewFakeClock(epoch)
	count := 0

	var tick func()
	tick = func() {
		count++
		clock.AfterFunc(time.Second, tick)
	}
	clock.AfterFunc(time.Second, tick)

	clock.Advance(5 * time.Second)
	assert.Equal(t, 5, count)
	assert.Equal(t, 1, clock.Pending())
}

// =============================================================================
// FAKE SURFACE / WIDGET TESTS
// =============================================================================

func TestFakeSurface_NotifiesObservers(t *testing.T) {
	surface := NewFakeSurface("Hold still")
	mutations, interactions := 0, 0

	unobserve := surface.Observe(func() { mutations++ })
	surface.ObserveInteraction(func() { interactions++ })

	surface.TextNodes()[0].SetText("changed")
	surface.AddText("new")
	surface.Interact()

	assert.Equal(t, 2, mutations)
	assert.Equal(t, 1, interactions)
	assert.Equal(t, []string{"changed", "new"}, surface.Texts())

	unobserve()
	surface.Mutate()
	assert.Equal(t, 2, mutations)

	m, i := surface.ObserverCounts()
	assert.Equal(t, 0, m)
	assert.Equal(t, 1, i)
}

func TestFakeWidget_Mount(t *testing.T) {
	widget := NewFakeWidget(nil)

	surface, err := widget.Mount(context.Background(), mountOptions("sess-1"))
	require.NoError(t, err)
	assert.Same(t, widget.Surface, surface)

	opts, ok := widget.LastMount()
	require.True(t, ok)
	assert.Equal(t, "sess-1", opts.SessionID)

	widget.MountErr = errors.New("camera unavailable")
	_, err = widget.Mount(context.Background(), mountOptions("sess-2"))
	assert.Error(t, err)
	assert.Equal(t, 2, widget.MountCount())

	widget.Unmount()
	assert.Equal(t, 1, widget.UnmountCount())
}

// =============================================================================
// MOCK BACKEND TESTS
// =============================================================================

func TestMockBackend_GateHonoursContext(t *testing.T) {
	backend := NewMockBackend("sess-1", VerdictFor("sess-1", 99, 90))
	backend.ResultGate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := backend.GetResult(ctx, "tok", "sess-1", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, backend.ResultCalls())
}

func TestMockLogger_HasLog(t *testing.T) {
	logger := NewMockLogger()
	logger.Info("session_created", "session_id", "s")

	assert.True(t, logger.HasLog("info", "session_created"))
	assert.False(t, logger.HasLog("error", "session_created"))
	assert.Equal(t, "s", logger.GetLogs()[0].Fields["session_id"])
}
