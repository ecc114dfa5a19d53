package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout        = 10 * time.Second
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// WSTransport implements Transport over a websocket event feed. One
// connection carries every owner subscription; owners are multiplexed by
// subscribe frames.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	stateMu sync.RWMutex
	state   ConnectionState

	listenersMu sync.Mutex
	listeners   map[string]map[int]func(Event)
	nextID      int

	subsMu sync.Mutex
	subs   map[string]struct{}

	stopOnce sync.Once
	stop     chan struct{}
}

// NewWSTransport returns an unconnected transport for the given endpoint.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url:       url,
		dialer:    &websocket.Dialer{HandshakeTimeout: dialTimeout},
		listeners: make(map[string]map[int]func(Event)),
		subs:      make(map[string]struct{}),
		stop:      make(chan struct{}),
	}
}

type wireFrame struct {
	Type     string         `json:"type"`
	Owner    string         `json:"owner,omitempty"`
	ObjectID string         `json:"objectId,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Initialize dials the endpoint and starts the read loop. Idempotent: an
// established connection is reused.
func (t *WSTransport) Initialize(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return nil
	}

	t.setState(func(s *ConnectionState) {
		s.Connecting = true
	})

	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		t.setState(func(s *ConnectionState) {
			s.Connecting = false
			s.Connected = false
			s.LastError = err.Error()
		})

		return err
	}

	t.conn = conn
	t.setState(func(s *ConnectionState) {
		s.Connecting = false
		s.Connected = true
		s.LastError = ""
	})

	go t.readLoop(conn)

	slog.Info("event transport connected", "url", t.url)

	return nil
}

// SubscribeToEvents registers interest in one owner's events. Duplicate
// subscriptions do not double event delivery: the server sees one
// subscribe frame per owner.
func (t *WSTransport) SubscribeToEvents(ctx context.Context, owner string) error {
	t.subsMu.Lock()
	_, already := t.subs[owner]

	if !already {
		t.subs[owner] = struct{}{}
	}
	t.subsMu.Unlock()

	if already {
		return nil
	}

	err := t.writeFrame(wireFrame{Type: "subscribe", Owner: owner})
	if err != nil {
		t.subsMu.Lock()
		delete(t.subs, owner)
		t.subsMu.Unlock()

		return err
	}

	t.syncSubscriptionCount()

	return nil
}

// UnsubscribeAll drops every owner subscription.
func (t *WSTransport) UnsubscribeAll() {
	t.subsMu.Lock()
	owners := make([]string, 0, len(t.subs))

	for owner := range t.subs {
		owners = append(owners, owner)
	}

	t.subs = make(map[string]struct{})
	t.subsMu.Unlock()

	for _, owner := range owners {
		err := t.writeFrame(wireFrame{Type: "unsubscribe", Owner: owner})
		if err != nil {
			slog.Warn("unsubscribe frame failed", "owner", owner, "err", err)
		}
	}

	t.syncSubscriptionCount()
}

// AddEventListener registers a handler for one event type and returns the
// function that removes exactly that handler.
func (t *WSTransport) AddEventListener(eventType string, handler func(Event)) func() {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()

	t.nextID++
	id := t.nextID

	if t.listeners[eventType] == nil {
		t.listeners[eventType] = make(map[int]func(Event))
	}

	t.listeners[eventType][id] = handler

	return func() {
		t.listenersMu.Lock()
		defer t.listenersMu.Unlock()

		delete(t.listeners[eventType], id)
	}
}

// ConnectionState returns a copy of the current connection state.
func (t *WSTransport) ConnectionState() ConnectionState {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()

	return t.state
}

// Destroy closes the connection and stops the reconnect loop.
func (t *WSTransport) Destroy() error {
	t.stopOnce.Do(func() {
		close(t.stop)
	})

	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		err := conn.Close()
		if err != nil {
			slog.Warn("event transport close failed", "err", err)
		}
	}

	t.setState(func(s *ConnectionState) {
		s.Connected = false
		s.Connecting = false
	})

	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var frame wireFrame

		err := conn.ReadJSON(&frame)
		if err != nil {
			select {
			case <-t.stop:
				return
			default:
			}

			slog.Warn("event read failed, reconnecting", "err", err)
			t.reconnect()

			return
		}

		t.dispatch(frame)
	}
}

func (t *WSTransport) dispatch(frame wireFrame) {
	event := Event{
		Type:     frame.Type,
		Owner:    frame.Owner,
		ObjectID: frame.ObjectID,
		Fields:   frame.Fields,
	}

	t.listenersMu.Lock()
	handlers := make([]func(Event), 0, len(t.listeners[frame.Type]))

	for _, handler := range t.listeners[frame.Type] {
		handlers = append(handlers, handler)
	}
	t.listenersMu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// reconnect re-dials with exponential backoff until it succeeds or the
// transport is destroyed, then replays the owner subscriptions.
func (t *WSTransport) reconnect() {
	t.connMu.Lock()
	t.conn = nil
	t.connMu.Unlock()

	t.setState(func(s *ConnectionState) {
		s.Connected = false
		s.Connecting = true
	})

	delay := reconnectBaseDelay

	for {
		select {
		case <-t.stop:
			return
		case <-time.After(delay):
		}

		t.setState(func(s *ConnectionState) {
			s.ReconnectAttempts++
			s.LastReconnectAt = time.Now().UTC()
		})

		err := t.Initialize(context.Background())
		if err == nil {
			t.resubscribe()

			return
		}

		slog.Warn("event transport reconnect failed", "err", err, "next_delay", delay)

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (t *WSTransport) resubscribe() {
	t.subsMu.Lock()
	owners := make([]string, 0, len(t.subs))

	for owner := range t.subs {
		owners = append(owners, owner)
	}
	t.subsMu.Unlock()

	for _, owner := range owners {
		err := t.writeFrame(wireFrame{Type: "subscribe", Owner: owner})
		if err != nil {
			slog.Warn("resubscribe frame failed", "owner", owner, "err", err)
		}
	}
}

func (t *WSTransport) writeFrame(frame wireFrame) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *WSTransport) setState(mutate func(*ConnectionState)) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	mutate(&t.state)
}

func (t *WSTransport) syncSubscriptionCount() {
	t.subsMu.Lock()
	count := len(t.subs)
	t.subsMu.Unlock()

	t.setState(func(s *ConnectionState) {
		s.ActiveSubscriptions = count
	})
}
