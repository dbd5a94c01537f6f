package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

// SnapshotFunc returns the current session snapshot as JSON bytes.
type SnapshotFunc func() ([]byte, error)

// Hub streams lifecycle events to every connected WebSocket client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
	done       chan struct{}
	mu         sync.RWMutex
	snapshot   SnapshotFunc
	origins    []string
}

// Client represents a single WebSocket connection.
type Client struct {
	hub  *Hub
	send chan []byte
	conn *websocket.Conn
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetOrigins sets the host patterns allowed to open a WebSocket in
// addition to the server's own origin.
func (h *Hub) SetOrigins(patterns ...string) {
	h.origins = patterns
}

// SetSnapshot sets the function called to send the session snapshot to
// new clients and on request.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run starts the hub's event loop and returns when ctx is done. Open
// connections are closed on return.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.drop(client, "client too slow")
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client, "server shutting down")
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues a message for all connected clients. It never blocks;
// messages are dropped while the queue is full.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message")
	}
}

// BroadcastJSON broadcasts any JSON-serializable payload with the given message type.
func (h *Hub) BroadcastJSON(msgType MessageType, payload any) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error("failed to create broadcast message", "error", err)
		return
	}
	h.Broadcast(msg)
}

// Observe streams a lifecycle event to clients.
func (h *Hub) Observe(_ context.Context, e lifecycle.Event) {
	h.BroadcastJSON(MsgEvent, e.Record())
	if e.Type == lifecycle.EventTransition {
		h.BroadcastSnapshot()
	}
}

// BroadcastSnapshot sends the current session snapshot to all clients.
func (h *Hub) BroadcastSnapshot() {
	if h.snapshot == nil {
		return
	}
	data, err := h.snapshot()
	if err != nil {
		h.logger.Error("building session snapshot", "error", err)
		return
	}
	h.BroadcastJSON(MsgSnapshot, json.RawMessage(data))
}

// drop forgets a client and closes its connection, which ends its pumps.
// Callers must hold h.mu.
func (h *Hub) drop(c *Client, reason string) {
	delete(h.clients, c)
	if c.conn != nil {
		c.conn.Close(websocket.StatusGoingAway, reason)
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
