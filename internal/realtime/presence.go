package realtime

import (
	"sort"
	"sync"
)

// Tracker derives per-document online-user sets and a process-wide online
// index from registry transitions. Entries are reference-counted per
// connection so a user with two tabs on the same document produces one
// presence transition, not two.
type Tracker struct {
	mu     sync.Mutex
	byDoc  map[string]map[string]int
	online map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{
		byDoc:  make(map[string]map[string]int),
		online: make(map[string]int),
	}
}

// Connect records one connection for the user in the global online index.
func (t *Tracker) Connect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID]++
}

// Disconnect drops one connection for the user. It reports whether this
// was the user's last connection. Unpaired calls are no-ops so a stray
// disconnect can never push a count negative.
func (t *Tracker) Disconnect(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	count, ok := t.online[userID]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(t.online, userID)
		return true
	}
	t.online[userID] = count - 1
	return false
}

// Join records one connection for the user in the document's room and
// reports whether the user just became present there (0 -> 1).
func (t *Tracker) Join(documentID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.byDoc[documentID]
	if !ok {
		users = make(map[string]int)
		t.byDoc[documentID] = users
	}
	users[userID]++
	return users[userID] == 1
}

// Leave drops one connection for the user and reports whether the user
// just went absent from the document (1 -> 0).
func (t *Tracker) Leave(documentID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.byDoc[documentID]
	if !ok {
		return false
	}
	count, ok := users[userID]
	if !ok {
		return false
	}
	if count > 1 {
		users[userID] = count - 1
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.byDoc, documentID)
	}
	return true
}

// OnlineUsers returns the users with at least one joined connection for
// the document, sorted for stable output.
func (t *Tracker) OnlineUsers(documentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := make([]string, 0, len(t.byDoc[documentID]))
	for userID := range t.byDoc[documentID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// IsOnline reports whether the user has any open connection, regardless
// of which document they are viewing.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID] > 0
}
