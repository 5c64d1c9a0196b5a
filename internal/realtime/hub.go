// Package realtime implements the collaborative-editing subsystem: document
// rooms, presence, and the broadcast-and-persist path behind the websocket
// endpoint.
package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"brainvector/api/internal/rbac"
	"brainvector/api/internal/util"
)

// Persister is the external document-update interface. Calls are
// fire-and-forget from the coordinator's perspective.
type Persister interface {
	PersistContent(ctx context.Context, userID, workspaceID, documentID, content string) error
}

type Options struct {
	SendBuffer     int
	PersistTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	return o
}

// Hub owns the room registry and presence tracker and coordinates
// broadcast and persistence for edit events. One Hub exists per process
// and is passed by handle to whoever needs it.
type Hub struct {
	registry  *Registry
	presence  *Tracker
	persister Persister
	opts      Options

	mu     sync.Mutex
	byUser map[string]map[*Conn]struct{} // personal channels
}

func NewHub(persister Persister, opts Options) *Hub {
	return &Hub{
		registry:  NewRegistry(),
		presence:  NewTracker(),
		persister: persister,
		opts:      opts.withDefaults(),
		byUser:    make(map[string]map[*Conn]struct{}),
	}
}

// Connect registers an authenticated connection: it enters the user's
// personal channel and the global online index. Room membership is a
// separate, optional Join.
func (h *Hub) Connect(userID, role string, ws *websocket.Conn) *Conn {
	c := newConn(util.NewID("conn"), userID, role, ws, h.opts.SendBuffer)

	h.mu.Lock()
	conns, ok := h.byUser[userID]
	if !ok {
		conns = make(map[*Conn]struct{})
		h.byUser[userID] = conns
	}
	conns[c] = struct{}{}
	h.mu.Unlock()

	h.presence.Connect(userID)
	return c
}

// Join adds the connection to the document's room and announces the user
// to the other members if this is the user's first connection there. A
// connection already in another room leaves it first, with the same
// presence bookkeeping as a disconnect, so the old room never keeps a
// stale online entry.
func (h *Hub) Join(c *Conn, documentID, workspaceID string) {
	if old := h.registry.RoomOf(c); old != nil {
		if old.documentID == documentID {
			return
		}
		h.registry.Leave(c)
		if h.presence.Leave(old.documentID, c.userID) {
			old.broadcastExcept(c, encodeEvent(EventUserLeft, PresenceEvent{
				UserID:  c.userID,
				Message: fmt.Sprintf("%s left the document.", c.userID),
			}))
		}
	}

	r := h.registry.Join(c, documentID, workspaceID)
	if h.presence.Join(documentID, c.userID) {
		r.broadcastExcept(c, encodeEvent(EventUserJoined, PresenceEvent{
			UserID:  c.userID,
			Message: fmt.Sprintf("%s joined the document.", c.userID),
		}))
	}
	log.Printf("realtime: user %s connected to document room %s", c.userID, documentID)
}

// Disconnect tears down the connection's room membership and presence
// atomically. Disconnect is the cancellation signal; it is idempotent and
// safe to call from every code path.
func (h *Hub) Disconnect(c *Conn) {
	c.shutdown()
	if c.ws != nil {
		_ = c.ws.Close()
	}

	c.teardownOnce.Do(func() {
		if r := h.registry.Leave(c); r != nil {
			if h.presence.Leave(r.documentID, c.userID) {
				r.broadcastExcept(c, encodeEvent(EventUserLeft, PresenceEvent{
					UserID:  c.userID,
					Message: fmt.Sprintf("%s left the document.", c.userID),
				}))
			}
			log.Printf("realtime: user %s disconnected from document %s", c.userID, r.documentID)
		}

		h.mu.Lock()
		if conns, ok := h.byUser[c.userID]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.byUser, c.userID)
			}
		}
		h.mu.Unlock()

		h.presence.Disconnect(c.userID)
	})
}

// Serve runs the connection's pumps until the peer goes away. It returns
// after teardown is complete.
func (h *Hub) Serve(c *Conn) {
	go c.writePump()
	c.readPump(h)
}

// HandleDocumentUpdate validates room membership and the connection's
// workspace role, re-broadcasts the edit to the other members, and
// forwards the content to durable storage. Broadcast never waits for
// persistence.
func (h *Hub) HandleDocumentUpdate(c *Conn, update DocumentUpdate) {
	r := h.registry.RoomOf(c)
	if r == nil || r.documentID != update.DocumentID {
		// Expected under join/leave races; keep the connection open.
		log.Printf("realtime: dropping update from %s (user %s): not in room %s", c.id, c.userID, update.DocumentID)
		return
	}
	if !rbac.Can(rbac.Normalize(c.Role()), rbac.ActionWrite) {
		c.sendException("FORBIDDEN", "Your role does not permit editing this document.")
		return
	}

	r.broadcastExcept(c, encodeEvent(EventContentChange, ContentChange{
		UserID:    c.userID,
		Content:   update.NewContent,
		Timestamp: wireTimestamp(),
	}))

	if h.persister == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.PersistTimeout)
		defer cancel()
		if err := h.persister.PersistContent(ctx, c.userID, r.workspaceID, r.documentID, update.NewContent); err != nil {
			log.Printf("realtime: persist failed for document %s: %v", r.documentID, err)
		}
	}()
}

// HandleCursorUpdate follows the same contract as HandleDocumentUpdate
// but is never persisted.
func (h *Hub) HandleCursorUpdate(c *Conn, update CursorUpdate) {
	r := h.registry.RoomOf(c)
	if r == nil || r.documentID != update.DocumentID {
		log.Printf("realtime: dropping cursor from %s (user %s): not in room %s", c.id, c.userID, update.DocumentID)
		return
	}

	r.broadcastExcept(c, encodeEvent(EventCursorChange, CursorChange{
		UserID:    c.userID,
		Position:  update.Position,
		Timestamp: wireTimestamp(),
	}))
}

// NotifyWorkspaceUpdated pushes a workspaceUpdated event to every open
// connection of the user, regardless of what they are viewing.
func (h *Hub) NotifyWorkspaceUpdated(userID string) {
	frame := encodeEvent(EventWorkspaceUpdated, WorkspaceUpdated{
		Message:   "Your workspace list has been updated.",
		Timestamp: wireTimestamp(),
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.byUser[userID] {
		c.enqueue(frame)
	}
}

// OnlineUsers returns the users currently present in the document's room.
func (h *Hub) OnlineUsers(documentID string) []string {
	return h.presence.OnlineUsers(documentID)
}

// IsOnline reports whether the user has any open connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}
