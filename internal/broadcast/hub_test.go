package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestBroadcast_DeliversToEveryClient(t *testing.T) {
	h := NewHub(nil)
	a, b := NewClient("a", 1, 4), NewClient("b", 2, 4)
	h.Register(a)
	h.Register(b)

	n, err := h.Broadcast(context.Background(), Event{EventType: "GET_SETTINGS", EventName: "SETTINGS_CHANGED", Payload: map[string]int{"x": 1}})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, c := range []*Client{a, b} {
		m := decode(t, <-c.Send())
		require.Equal(t, "GET_SETTINGS", m["event_type"])
		require.Equal(t, "SETTINGS_CHANGED", m["event_name"])
		require.NotContains(t, m, "ShowID")
	}
}

func TestBroadcast_ScopedToShow(t *testing.T) {
	h := NewHub(nil)
	a, b := NewClient("a", 1, 4), NewClient("b", 2, 4)
	h.Register(a)
	h.Register(b)

	n, err := h.Broadcast(context.Background(), Event{EventType: "SCRIPT_POSITION", ShowID: 2})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, a.Send(), 0)
	require.Len(t, b.Send(), 1)
}

func TestBroadcast_PreservesOrderPerClient(t *testing.T) {
	h := NewHub(nil)
	c := NewClient("a", 1, 16)
	h.Register(c)
	for i := range 10 {
		_, err := h.Broadcast(context.Background(), Event{EventType: "SEQ", Payload: i})
		require.NoError(t, err)
	}
	for i := range 10 {
		m := decode(t, <-c.Send())
		require.Equal(t, float64(i), m["payload"])
	}
}

func TestBroadcast_DropsWhenFull(t *testing.T) {
	h := NewHub(nil)
	slow, fast := NewClient("slow", 1, 1), NewClient("fast", 1, 8)
	h.Register(slow)
	h.Register(fast)

	for i := range 3 {
		_, err := h.Broadcast(context.Background(), Event{EventType: "SEQ", Payload: i})
		require.NoError(t, err)
	}
	require.Len(t, slow.Send(), 1)
	require.Len(t, fast.Send(), 3)
	require.Equal(t, float64(0), decode(t, <-slow.Send())["payload"])
}

func TestDisconnectAndUnregister(t *testing.T) {
	h := NewHub(nil)
	for i := range 3 {
		h.Register(NewClient(fmt.Sprintf("c%d", i), 1, 1))
	}
	require.Equal(t, []string{"c0", "c1", "c2"}, h.Clients())

	c := NewClient("c1", 1, 1)
	h.Register(c) // replaces the previous c1
	require.True(t, h.Disconnect("c1"))
	<-c.Done()
	require.False(t, h.Disconnect("missing"))

	h.Unregister("c1")
	h.Unregister("c1")
	require.Equal(t, []string{"c0", "c2"}, h.Clients())

	n, err := h.Broadcast(context.Background(), Event{EventType: "X"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestBroadcast_CancelledContext(t *testing.T) {
	h := NewHub(nil)
	h.Register(NewClient("a", 1, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Broadcast(ctx, Event{EventType: "X"})
	require.ErrorIs(t, err, context.Canceled)
}
