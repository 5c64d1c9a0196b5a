package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type persistCall struct {
	UserID      string
	WorkspaceID string
	DocumentID  string
	Content     string
}

type fakePersister struct {
	mu    sync.Mutex
	calls []persistCall
	done  chan struct{}
	fail  error
}

func newFakePersister() *fakePersister {
	return &fakePersister{done: make(chan struct{}, 16)}
}

func (f *fakePersister) PersistContent(_ context.Context, userID, workspaceID, documentID, content string) error {
	f.mu.Lock()
	f.calls = append(f.calls, persistCall{userID, workspaceID, documentID, content})
	f.mu.Unlock()
	f.done <- struct{}{}
	return f.fail
}

func (f *fakePersister) waitForCall(t *testing.T) persistCall {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for persist call")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakePersister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recvEvent pops the next queued frame and fails unless it matches the
// expected event, decoding its data into out.
func recvEvent(t *testing.T, c *Conn, event string, out any) {
	t.Helper()
	select {
	case frame := <-c.send:
		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if envelope.Event != event {
			t.Fatalf("expected event %q, got %q", event, envelope.Event)
		}
		if out != nil {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				t.Fatalf("bad %s payload: %v", event, err)
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s frame", event)
	}
}

func requireNoFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("expected no frame, got %s", frame)
	default:
	}
}

func TestEditBroadcastSkipsSender(t *testing.T) {
	persister := newFakePersister()
	hub := NewHub(persister, Options{})

	a := hub.Connect("alice", "Member", nil)
	b := hub.Connect("bob", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")
	hub.Join(b, "doc-1", "wsp-1")
	recvEvent(t, a, EventUserJoined, nil) // bob joining after alice

	hub.HandleDocumentUpdate(a, DocumentUpdate{DocumentID: "doc-1", NewContent: "X"})

	var change ContentChange
	recvEvent(t, b, EventContentChange, &change)
	if change.Content != "X" || change.UserID != "alice" {
		t.Fatalf("unexpected contentChange: %+v", change)
	}
	requireNoFrame(t, a)

	call := persister.waitForCall(t)
	if call != (persistCall{"alice", "wsp-1", "doc-1", "X"}) {
		t.Fatalf("unexpected persist call: %+v", call)
	}
}

func TestBroadcastPreservesAcceptanceOrder(t *testing.T) {
	hub := NewHub(nil, Options{SendBuffer: 16})

	a := hub.Connect("alice", "Member", nil)
	b := hub.Connect("bob", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")
	hub.Join(b, "doc-1", "wsp-1")
	recvEvent(t, a, EventUserJoined, nil)

	contents := []string{"one", "two", "three", "four"}
	for _, content := range contents {
		hub.HandleDocumentUpdate(a, DocumentUpdate{DocumentID: "doc-1", NewContent: content})
	}
	for _, want := range contents {
		var change ContentChange
		recvEvent(t, b, EventContentChange, &change)
		if change.Content != want {
			t.Fatalf("out of order: got %q, want %q", change.Content, want)
		}
	}
}

func TestRoomMismatchDropsEventSilently(t *testing.T) {
	persister := newFakePersister()
	hub := NewHub(persister, Options{})

	a := hub.Connect("alice", "Member", nil)
	intruder := hub.Connect("mallory", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")

	hub.HandleDocumentUpdate(intruder, DocumentUpdate{DocumentID: "doc-1", NewContent: "evil"})

	requireNoFrame(t, a)
	if persister.callCount() != 0 {
		t.Fatal("dropped edit must not be persisted")
	}
	// The offending connection stays open.
	select {
	case <-intruder.done:
		t.Fatal("connection must not be shut down on room mismatch")
	default:
	}
}

func TestViewerEditRejectedWithException(t *testing.T) {
	persister := newFakePersister()
	hub := NewHub(persister, Options{})

	viewer := hub.Connect("alice", "Viewer", nil)
	member := hub.Connect("bob", "Member", nil)
	hub.Join(viewer, "doc-1", "wsp-1")
	hub.Join(member, "doc-1", "wsp-1")
	recvEvent(t, viewer, EventUserJoined, nil)

	hub.HandleDocumentUpdate(viewer, DocumentUpdate{DocumentID: "doc-1", NewContent: "X"})

	var exc Exception
	recvEvent(t, viewer, EventException, &exc)
	if exc.Status != "FORBIDDEN" {
		t.Fatalf("unexpected exception: %+v", exc)
	}
	requireNoFrame(t, member)
	if persister.callCount() != 0 {
		t.Fatal("rejected edit must not be persisted")
	}

	// Cursor moves are read-level and stay allowed.
	hub.HandleCursorUpdate(viewer, CursorUpdate{DocumentID: "doc-1", Position: 7})
	recvEvent(t, member, EventCursorChange, nil)
}

func TestCursorBroadcastNeverPersisted(t *testing.T) {
	persister := newFakePersister()
	hub := NewHub(persister, Options{})

	a := hub.Connect("alice", "Member", nil)
	b := hub.Connect("bob", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")
	hub.Join(b, "doc-1", "wsp-1")
	recvEvent(t, a, EventUserJoined, nil)

	hub.HandleCursorUpdate(a, CursorUpdate{DocumentID: "doc-1", Position: 42})

	var cursor CursorChange
	recvEvent(t, b, EventCursorChange, &cursor)
	if cursor.Position != 42 || cursor.UserID != "alice" {
		t.Fatalf("unexpected cursorChange: %+v", cursor)
	}
	requireNoFrame(t, a)
	if persister.callCount() != 0 {
		t.Fatal("cursor events must never be persisted")
	}
}

func TestSecondTabDoesNotDoubleCountPresence(t *testing.T) {
	hub := NewHub(nil, Options{})

	observer := hub.Connect("bob", "Member", nil)
	hub.Join(observer, "doc-1", "wsp-1")

	tab1 := hub.Connect("alice", "Member", nil)
	tab2 := hub.Connect("alice", "Member", nil)
	hub.Join(tab1, "doc-1", "wsp-1")
	hub.Join(tab2, "doc-1", "wsp-1")

	var joined PresenceEvent
	recvEvent(t, observer, EventUserJoined, &joined)
	if joined.UserID != "alice" {
		t.Fatalf("unexpected userJoined: %+v", joined)
	}
	// Second tab must not announce again.
	requireNoFrame(t, observer)

	hub.Disconnect(tab1)
	requireNoFrame(t, observer)

	hub.Disconnect(tab2)
	var left PresenceEvent
	recvEvent(t, observer, EventUserLeft, &left)
	if left.UserID != "alice" {
		t.Fatalf("unexpected userLeft: %+v", left)
	}
	if users := hub.OnlineUsers("doc-1"); len(users) != 1 || users[0] != "bob" {
		t.Fatalf("expected only bob online, got %v", users)
	}
}

func TestJoinSwitchingDocumentsClearsOldPresence(t *testing.T) {
	hub := NewHub(nil, Options{})

	observer := hub.Connect("bob", "Member", nil)
	hub.Join(observer, "doc-1", "wsp-1")

	a := hub.Connect("alice", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")
	recvEvent(t, observer, EventUserJoined, nil)

	hub.Join(a, "doc-2", "wsp-1")

	var left PresenceEvent
	recvEvent(t, observer, EventUserLeft, &left)
	if left.UserID != "alice" {
		t.Fatalf("unexpected userLeft: %+v", left)
	}
	if users := hub.OnlineUsers("doc-1"); len(users) != 1 || users[0] != "bob" {
		t.Fatalf("expected only bob in doc-1, got %v", users)
	}
	if users := hub.OnlineUsers("doc-2"); len(users) != 1 || users[0] != "alice" {
		t.Fatalf("expected only alice in doc-2, got %v", users)
	}

	hub.Disconnect(a)
	if users := hub.OnlineUsers("doc-2"); len(users) != 0 {
		t.Fatalf("expected doc-2 empty after disconnect, got %v", users)
	}
}

func TestJoinSameDocumentTwiceCountsOnce(t *testing.T) {
	hub := NewHub(nil, Options{})

	a := hub.Connect("alice", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")
	hub.Join(a, "doc-1", "wsp-1")

	if users := hub.OnlineUsers("doc-1"); len(users) != 1 || users[0] != "alice" {
		t.Fatalf("expected alice counted once, got %v", users)
	}
	hub.Disconnect(a)
	if users := hub.OnlineUsers("doc-1"); len(users) != 0 {
		t.Fatalf("expected empty room after one disconnect, got %v", users)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	hub := NewHub(nil, Options{})

	a := hub.Connect("alice", "Member", nil)
	b := hub.Connect("bob", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")
	hub.Join(b, "doc-1", "wsp-1")
	recvEvent(t, a, EventUserJoined, nil)

	hub.Disconnect(b)
	hub.Disconnect(b)

	recvEvent(t, a, EventUserLeft, nil)
	requireNoFrame(t, a)
	if hub.IsOnline("bob") {
		t.Fatal("bob must be offline after disconnect")
	}
	if users := hub.OnlineUsers("doc-1"); len(users) != 1 || users[0] != "alice" {
		t.Fatalf("expected only alice online, got %v", users)
	}
}

func TestOnlineSetMatchesJoinedConnections(t *testing.T) {
	hub := NewHub(nil, Options{})

	conns := make([]*Conn, 0)
	for _, user := range []string{"alice", "alice", "bob", "carol"} {
		c := hub.Connect(user, "Member", nil)
		hub.Join(c, "doc-1", "wsp-1")
		conns = append(conns, c)
	}

	want := []string{"alice", "bob", "carol"}
	got := hub.OnlineUsers("doc-1")
	if len(got) != len(want) {
		t.Fatalf("OnlineUsers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("OnlineUsers() = %v, want %v", got, want)
		}
	}

	for _, c := range conns {
		hub.Disconnect(c)
	}
	if users := hub.OnlineUsers("doc-1"); len(users) != 0 {
		t.Fatalf("expected empty online set, got %v", users)
	}
}

func TestNotifyWorkspaceUpdatedReachesEveryConnection(t *testing.T) {
	hub := NewHub(nil, Options{})

	dashboard := hub.Connect("alice", "Member", nil) // no document joined
	editor := hub.Connect("alice", "Member", nil)
	hub.Join(editor, "doc-1", "wsp-1")
	other := hub.Connect("bob", "Member", nil)

	hub.NotifyWorkspaceUpdated("alice")

	var note WorkspaceUpdated
	recvEvent(t, dashboard, EventWorkspaceUpdated, &note)
	if note.Message == "" || note.Timestamp == "" {
		t.Fatalf("unexpected workspaceUpdated: %+v", note)
	}
	recvEvent(t, editor, EventWorkspaceUpdated, nil)
	requireNoFrame(t, other)
}

func TestPersistFailureDoesNotInterruptCollaboration(t *testing.T) {
	persister := newFakePersister()
	persister.fail = context.DeadlineExceeded
	hub := NewHub(persister, Options{})

	a := hub.Connect("alice", "Member", nil)
	b := hub.Connect("bob", "Member", nil)
	hub.Join(a, "doc-1", "wsp-1")
	hub.Join(b, "doc-1", "wsp-1")
	recvEvent(t, a, EventUserJoined, nil)

	hub.HandleDocumentUpdate(a, DocumentUpdate{DocumentID: "doc-1", NewContent: "X"})
	persister.waitForCall(t)

	// Peers already have the live value; nothing is surfaced to them.
	var change ContentChange
	recvEvent(t, b, EventContentChange, &change)
	requireNoFrame(t, b)
	requireNoFrame(t, a)
}
