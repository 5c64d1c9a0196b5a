package realtime

import (
	"encoding/json"
	"time"
)

// Event names on the wire. Client submissions use documentUpdate/cursorUpdate;
// everything else is server-initiated.
const (
	EventContentChange    = "contentChange"
	EventCursorChange     = "cursorChange"
	EventUserJoined       = "userJoined"
	EventUserLeft         = "userLeft"
	EventDocumentUpdate   = "documentUpdate"
	EventCursorUpdate     = "cursorUpdate"
	EventWorkspaceUpdated = "workspaceUpdated"
	EventException        = "exception"
)

// Envelope frames every message as {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ContentChange struct {
	UserID    string `json:"userId"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type CursorChange struct {
	UserID    string `json:"userId"`
	Position  int    `json:"position"`
	Timestamp string `json:"timestamp"`
}

type PresenceEvent struct {
	UserID  string `json:"userId"`
	Message string `json:"message,omitempty"`
}

type DocumentUpdate struct {
	DocumentID string `json:"documentId"`
	NewContent string `json:"newContent"`
}

type CursorUpdate struct {
	DocumentID string `json:"documentId"`
	Position   int    `json:"position"`
}

type WorkspaceUpdated struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Exception struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func encodeEvent(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return frame
}

func wireTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
