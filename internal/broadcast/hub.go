// Package broadcast fans state-change notifications out to the realtime
// clients connected to this process. Delivery is in-memory and
// at-most-once: a client whose buffer is full misses the message and is
// expected to re-fetch state.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
)

// Event is the envelope written to clients.
//
// Fields:
//  EventType – operation family, e.g. GET_SHOW_SESSION_DATA or SCRIPT_POSITION.
//  EventName – action the client should take, e.g. START_SHOW.
//  Payload   – any JSON-serialisable body.
//  ShowID    – when non-zero only clients following that show receive it.
type Event struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
	ShowID    uint64 `json:"-"`
}

// DefaultBuffer is the per-client queue length used by NewClient.
const DefaultBuffer = 64

// Client is one registered receiver. The owner drains Send from a single
// writer goroutine, which keeps per-client order equal to submission order,
// and stops when Done is closed.
type Client struct {
	ID     string
	ShowID uint64

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient builds a client with the given buffer size; n <= 0 selects
// DefaultBuffer.
func NewClient(id string, showID uint64, n int) *Client {
	if n <= 0 {
		n = DefaultBuffer
	}
	return &Client{ID: id, ShowID: showID, send: make(chan []byte, n), done: make(chan struct{})}
}

// Send returns the queue of encoded messages for this client.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed once the client is unregistered or disconnected.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) close() { c.once.Do(func() { close(c.done) }) }

// Hub holds the set of connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *slog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), log: log}
}

// Register adds c. A client registered under an existing ID replaces the
// previous one, which is closed.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.ID]
	h.clients[c.ID] = c
	h.mu.Unlock()
	if prev != nil && prev != c {
		prev.close()
	}
}

// Unregister removes a client and closes it. Unknown IDs are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if c != nil {
		c.close()
	}
}

// Disconnect force-closes a client. Its connection handler observes Done,
// closes the socket and unregisters. It reports whether the client existed.
func (h *Hub) Disconnect(id string) bool {
	h.mu.RLock()
	c := h.clients[id]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	c.close()
	return true
}

// Clients returns the IDs of registered clients in sorted order.
func (h *Hub) Clients() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Broadcast encodes ev once and queues it for every matching client
// without blocking. It returns how many clients received the message.
func (h *Hub) Broadcast(ctx context.Context, ev Event) (int, error) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if ev.ShowID != 0 && c.ShowID != ev.ShowID {
			continue
		}
		select {
		case <-c.done:
		case c.send <- msg:
			delivered++
		default:
			h.log.Warn("client buffer full, message dropped",
				"client", c.ID, "event_type", ev.EventType, "event_name", ev.EventName)
		}
	}
	return delivered, nil
}
