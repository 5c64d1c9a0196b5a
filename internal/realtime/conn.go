package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Conn is one duplex channel between a client and the server. It is
// exclusively owned by the accepting process and torn down on disconnect.
type Conn struct {
	id     string
	userID string
	role   string

	ws   *websocket.Conn // nil for in-process test connections
	send chan []byte
	done chan struct{}

	shutdownOnce sync.Once
	teardownOnce sync.Once
}

func newConn(id, userID, role string, ws *websocket.Conn, sendBuffer int) *Conn {
	return &Conn{
		id:     id,
		userID: userID,
		role:   role,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Conn) UserID() string { return c.userID }

// Role returns the workspace role the connection authenticated with.
func (c *Conn) Role() string { return c.role }

// enqueue queues an outbound frame without blocking the caller. A
// connection that cannot keep up is shut down instead of stalling the
// room's serialization point.
func (c *Conn) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		log.Printf("realtime: closing slow connection %s (user %s)", c.id, c.userID)
		c.shutdown()
	}
}

func (c *Conn) sendException(status, message string) {
	c.enqueue(encodeEvent(EventException, Exception{
		Status:    status,
		Message:   message,
		Timestamp: wireTimestamp(),
	}))
}

// shutdown signals the pumps to exit. State teardown happens in
// Hub.Disconnect, which every exit path funnels into.
func (c *Conn) shutdown() {
	c.shutdownOnce.Do(func() { close(c.done) })
}

// readPump consumes inbound frames until the peer goes away, then tears
// the connection down. Malformed frames get an exception reply; the
// connection stays open.
func (c *Conn) readPump(h *Hub) {
	defer h.Disconnect(c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("realtime: read error on %s: %v", c.id, err)
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.sendException("WS_ERROR", "malformed message frame")
			continue
		}

		switch envelope.Event {
		case EventDocumentUpdate:
			var update DocumentUpdate
			if err := json.Unmarshal(envelope.Data, &update); err != nil {
				c.sendException("WS_ERROR", "malformed documentUpdate payload")
				continue
			}
			h.HandleDocumentUpdate(c, update)
		case EventCursorUpdate:
			var update CursorUpdate
			if err := json.Unmarshal(envelope.Data, &update); err != nil {
				c.sendException("WS_ERROR", "malformed cursorUpdate payload")
				continue
			}
			h.HandleCursorUpdate(c, update)
		default:
			c.sendException("WS_ERROR", "unknown event: "+envelope.Event)
		}
	}
}

// writePump drains the outbound queue and keeps the peer alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
