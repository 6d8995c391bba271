package broadcast

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []Message
	failWith error
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages = append(c.messages, v.(Message))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testHub(t *testing.T, pingInterval time.Duration) *Hub {
	t.Helper()
	h := NewHub(pingInterval, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(h.Shutdown)
	return h
}

func TestHub_BroadcastReachesOnlySubscribedRoute(t *testing.T) {
	h := testHub(t, time.Hour)

	onRoute := &fakeConn{}
	offRoute := &fakeConn{}
	h.Connect("route-10", onRoute)
	h.Connect("route-20", offRoute)

	h.BroadcastToRoute("route-10", Message{Type: "vehicle_update", RouteID: "route-10"})

	require.Len(t, onRoute.received(), 1)
	assert.Equal(t, "vehicle_update", onRoute.received()[0].Type)
	assert.Empty(t, offRoute.received(), "other routes must not receive the message")
}

func TestHub_FailedWritePrunesOnlyThatConnection(t *testing.T) {
	h := testHub(t, time.Hour)

	healthy1 := &fakeConn{}
	dead := &fakeConn{failWith: errors.New("broken pipe")}
	healthy2 := &fakeConn{}
	h.Connect("route-10", healthy1)
	h.Connect("route-10", dead)
	h.Connect("route-10", healthy2)

	h.BroadcastToRoute("route-10", Message{Type: "vehicle_update"})

	assert.Equal(t, 2, h.RouteSubscriberCount("route-10"))
	assert.True(t, dead.isClosed(), "the failing connection must be closed")
	assert.False(t, healthy1.isClosed())
	assert.False(t, healthy2.isClosed())

	// the survivors keep receiving
	h.BroadcastToRoute("route-10", Message{Type: "vehicle_update"})
	assert.Len(t, healthy1.received(), 2)
	assert.Len(t, healthy2.received(), 2)
}

func TestHub_DisconnectRemovesSubscription(t *testing.T) {
	h := testHub(t, time.Hour)

	c := &fakeConn{}
	h.Connect("route-10", c)
	require.Equal(t, 1, h.SubscriberCount())

	h.Disconnect("route-10", c)
	assert.Zero(t, h.SubscriberCount())

	h.BroadcastToRoute("route-10", Message{Type: "vehicle_update"})
	assert.Empty(t, c.received())
}

func TestHub_HeartbeatPingsSubscribers(t *testing.T) {
	h := testHub(t, 20*time.Millisecond)

	c := &fakeConn{}
	h.Connect("route-10", c)

	assert.Eventually(t, func() bool {
		for _, msg := range c.received() {
			if msg.Type == "ping" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond, "subscribers must receive periodic pings")
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	h := NewHub(time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	c := &fakeConn{}
	h.Connect("route-10", c)

	h.Shutdown()
	h.Shutdown() // idempotent

	assert.True(t, c.isClosed())
	assert.Zero(t, h.SubscriberCount())
}

// overlapConn reports any moment two writes are in flight at once, the
// situation a real websocket connection answers with a panic.
type overlapConn struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (c *overlapConn) WriteJSON(v any) error {
	if c.inFlight.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
	c.inFlight.Add(-1)
	return nil
}

func (c *overlapConn) Close() error { return nil }

func TestHub_WritesToOneConnectionAreSerialized(t *testing.T) {
	h := testHub(t, 2*time.Millisecond)

	c := &overlapConn{}
	h.Connect("route-10", c)

	// race broadcasts against the heartbeat on the same connection
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				h.BroadcastToRoute("route-10", Message{Type: "vehicle_update"})
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, c.overlaps.Load(), "two writers must never hit the connection at once")
}

func TestHub_ConcurrentSubscribeAndBroadcast(t *testing.T) {
	h := testHub(t, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			h.Connect("route-10", c)
			h.Disconnect("route-10", c)
		}()
		go func() {
			defer wg.Done()
			h.BroadcastToRoute("route-10", Message{Type: "vehicle_update"})
		}()
	}
	wg.Wait()
}
