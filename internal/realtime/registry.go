package realtime

import "sync"

// room is the set of connections editing one document. Its mutex is the
// serialization point for membership changes and broadcasts, so acceptance
// order within a room is well-defined while distinct rooms proceed
// independently.
type room struct {
	documentID  string
	workspaceID string

	mu      sync.Mutex
	members map[*Conn]struct{}
}

func newRoom(documentID, workspaceID string) *room {
	return &room{
		documentID:  documentID,
		workspaceID: workspaceID,
		members:     make(map[*Conn]struct{}),
	}
}

// broadcastExcept delivers the frame to every member but the sender.
// Delivery happens under the room lock so frames keep acceptance order;
// a member whose outbound queue is full is closed rather than blocking
// the room.
func (r *room) broadcastExcept(sender *Conn, frame []byte) {
	if frame == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for member := range r.members {
		if member == sender {
			continue
		}
		member.enqueue(frame)
	}
}

// Registry tracks which connections subscribe to which document room.
// It is the source of truth for fan-out targets.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	conns map[*Conn]*room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		conns: make(map[*Conn]*room),
	}
}

// Join adds the connection to the document's room, creating the room on
// first join. A connection belongs to at most one room at a time.
func (g *Registry) Join(c *Conn, documentID, workspaceID string) *room {
	g.mu.Lock()
	defer g.mu.Unlock()

	if current := g.conns[c]; current != nil {
		g.removeLocked(c, current)
	}

	r, ok := g.rooms[documentID]
	if !ok {
		r = newRoom(documentID, workspaceID)
		g.rooms[documentID] = r
	}
	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()
	g.conns[c] = r
	return r
}

// Leave removes the connection from its room, tearing the room down when
// its membership reaches zero. Repeated Leave is a no-op so disconnect
// handling is safe to call from multiple code paths.
func (g *Registry) Leave(c *Conn) *room {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.conns[c]
	if r == nil {
		return nil
	}
	g.removeLocked(c, r)
	return r
}

func (g *Registry) removeLocked(c *Conn, r *room) {
	delete(g.conns, c)
	r.mu.Lock()
	delete(r.members, c)
	empty := len(r.members) == 0
	r.mu.Unlock()
	if empty && g.rooms[r.documentID] == r {
		delete(g.rooms, r.documentID)
	}
}

// RoomOf returns the room the connection is currently joined to, or nil.
func (g *Registry) RoomOf(c *Conn) *room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[c]
}

// WorkspaceOf returns the workspace the document's room was bound to.
func (g *Registry) WorkspaceOf(documentID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[documentID]
	if !ok {
		return "", false
	}
	return r.workspaceID, true
}

// MembersOf returns the connections currently in the document's room.
func (g *Registry) MembersOf(documentID string) []*Conn {
	g.mu.Lock()
	r, ok := g.rooms[documentID]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]*Conn, 0, len(r.members))
	for member := range r.members {
		members = append(members, member)
	}
	return members
}
