package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// HandleWebSocket upgrades the HTTP connection to a WebSocket and manages
// the read/write pumps for the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		conn: conn,
	}

	if !h.join(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	client.sendSnapshot()

	go client.writePump(r.Context())
	client.readPump(r.Context())
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.leave(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.hub.logger.Debug("websocket client disconnected normally")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == MsgSync {
			c.sendSnapshot()
		}
	}
}

func (c *Client) sendSnapshot() {
	if c.hub.snapshot == nil {
		return
	}
	data, err := c.hub.snapshot()
	if err != nil {
		return
	}
	msg, err := NewMessage(MsgSnapshot, json.RawMessage(data))
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
