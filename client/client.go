// Package client is a Go client for the BrainVector realtime endpoint.
// It handles the connect handshake, dispatches server events to typed
// handlers, and throttles outbound content and cursor updates.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"brainvector/api/internal/realtime"
)

const defaultThrottleInterval = 200 * time.Millisecond

// Handlers receive server-initiated events. Nil handlers are skipped.
type Handlers struct {
	OnContentChange    func(realtime.ContentChange)
	OnCursorChange     func(realtime.CursorChange)
	OnUserJoined       func(realtime.PresenceEvent)
	OnUserLeft         func(realtime.PresenceEvent)
	OnWorkspaceUpdated func(realtime.WorkspaceUpdated)
	OnException        func(realtime.Exception)
}

type Options struct {
	// Token is the session credential presented in the handshake.
	Token string
	// DocumentID/WorkspaceID, when set, join the document room immediately.
	DocumentID  string
	WorkspaceID string
	// ThrottleInterval bounds outbound update rate; 0 means 200ms.
	ThrottleInterval time.Duration
	Handlers         Handlers
}

type Client struct {
	ws   *websocket.Conn
	opts Options

	writeMu sync.Mutex
	content *Throttler[string]
	cursor  *Throttler[int]

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the realtime endpoint at baseURL (http(s) or ws(s)
// scheme) and starts the event loop.
func Dial(ctx context.Context, baseURL string, opts Options) (*Client, error) {
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch endpoint.Scheme {
	case "http", "ws":
		endpoint.Scheme = "ws"
	case "https", "wss":
		endpoint.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", endpoint.Scheme)
	}
	endpoint.Path = "/ws"
	query := endpoint.Query()
	query.Set("token", opts.Token)
	if opts.DocumentID != "" {
		query.Set("documentId", opts.DocumentID)
		query.Set("workspaceId", opts.WorkspaceID)
	}
	endpoint.RawQuery = query.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	interval := opts.ThrottleInterval
	if interval <= 0 {
		interval = defaultThrottleInterval
	}

	c := &Client{
		ws:     ws,
		opts:   opts,
		closed: make(chan struct{}),
	}
	c.content = NewThrottler(interval, func(content string) {
		c.emit(realtime.EventDocumentUpdate, realtime.DocumentUpdate{
			DocumentID: opts.DocumentID,
			NewContent: content,
		})
	})
	c.cursor = NewThrottler(interval, func(position int) {
		c.emit(realtime.EventCursorUpdate, realtime.CursorUpdate{
			DocumentID: opts.DocumentID,
			Position:   position,
		})
	})

	go c.readLoop()
	return c, nil
}

// SendDocumentUpdate schedules the latest document content for delivery.
// At most one update goes out per throttle interval; the newest content
// always wins.
func (c *Client) SendDocumentUpdate(content string) {
	c.content.Schedule(content)
}

// SendCursorUpdate schedules the latest cursor position for delivery,
// throttled the same way as content.
func (c *Client) SendCursorUpdate(position int) {
	c.cursor.Schedule(position)
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.content.Stop()
		c.cursor.Stop()
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Client) emit(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteJSON(realtime.Envelope{Event: event, Data: raw})
}

func (c *Client) readLoop() {
	defer func() {
		_ = c.ws.Close()
		close(c.closed)
	}()

	for {
		var envelope realtime.Envelope
		if err := c.ws.ReadJSON(&envelope); err != nil {
			return
		}
		c.dispatch(envelope)
	}
}

func (c *Client) dispatch(envelope realtime.Envelope) {
	handlers := c.opts.Handlers
	switch envelope.Event {
	case realtime.EventContentChange:
		var payload realtime.ContentChange
		if json.Unmarshal(envelope.Data, &payload) == nil && handlers.OnContentChange != nil {
			handlers.OnContentChange(payload)
		}
	case realtime.EventCursorChange:
		var payload realtime.CursorChange
		if json.Unmarshal(envelope.Data, &payload) == nil && handlers.OnCursorChange != nil {
			handlers.OnCursorChange(payload)
		}
	case realtime.EventUserJoined:
		var payload realtime.PresenceEvent
		if json.Unmarshal(envelope.Data, &payload) == nil && handlers.OnUserJoined != nil {
			handlers.OnUserJoined(payload)
		}
	case realtime.EventUserLeft:
		var payload realtime.PresenceEvent
		if json.Unmarshal(envelope.Data, &payload) == nil && handlers.OnUserLeft != nil {
			handlers.OnUserLeft(payload)
		}
	case realtime.EventWorkspaceUpdated:
		var payload realtime.WorkspaceUpdated
		if json.Unmarshal(envelope.Data, &payload) == nil && handlers.OnWorkspaceUpdated != nil {
			handlers.OnWorkspaceUpdated(payload)
		}
	case realtime.EventException:
		var payload realtime.Exception
		if json.Unmarshal(envelope.Data, &payload) == nil && handlers.OnException != nil {
			handlers.OnException(payload)
		}
	}
}
