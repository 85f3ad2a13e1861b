// Package socketclient is the client side of a live connection: it owns at most one
// websocket, dispatches server events to subscribers and reconnects with backoff.
package socketclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/presence"
)

// Local lifecycle pseudo-events. They never travel over the wire.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnectFailed = "reconnect_failed"
)

var (
	// ErrMissingCredentials is returned by Connect without a user id or token.
	ErrMissingCredentials = errors.New("missing user id or token")
	// ErrNotConnected is returned by Emit while no connection is open.
	ErrNotConnected = errors.New("not connected")
)

// Handler receives the raw payload of one event. Lifecycle events carry a JSON
// string with the reason, or null.
type Handler func(payload json.RawMessage)

// Subscription identifies a handler registered with On.
type Subscription struct {
	event string
	id    uint64
}

// Options describe one explicit connection request.
type Options struct {
	URL    string // ws(s)://host/ws
	UserID string
	Token  string
	// Contacts is resent unchanged on every reconnection. Nil lets the server load
	// the stored contacts instead.
	Contacts []string
	Handlers map[string]Handler

	MaxRetries   uint64
	Backoff      time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Contacts != nil {
		o.Contacts = append([]string{}, o.Contacts...)
	}
	return o
}

type entry struct {
	id uint64
	h  Handler
}

// Manager owns a single outbound live connection. Safe for concurrent use.
type Manager struct {
	log *zap.Logger

	lifecycle sync.Mutex // serializes Connect and Disconnect

	mu       sync.Mutex
	opts     Options
	conn     *websocket.Conn
	stop     context.CancelFunc // ends the reconnection loop of the current session
	handlers map[string][]entry
	nextID   uint64
	// session holds the subscriptions made for Options.Handlers of the latest Connect.
	session []Subscription

	writeMu sync.Mutex
}

// New returns a disconnected manager.
func New(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log.Named("socket"), handlers: make(map[string][]entry)}
}

// Connect opens the connection. While a connection is already open it does nothing.
func (m *Manager) Connect(ctx context.Context, opts Options) error {
	if strings.TrimSpace(opts.UserID) == "" || strings.TrimSpace(opts.Token) == "" {
		return ErrMissingCredentials
	}
	opts = opts.withDefaults()

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if m.stop != nil {
		m.stop()
	}
	life, stop := context.WithCancel(context.Background())
	m.opts = opts
	m.stop = stop
	m.mu.Unlock()

	conn, err := m.dial(ctx, opts)
	if err != nil {
		stop()
		return err
	}
	m.dropSessionHandlers()
	subs := make([]Subscription, 0, len(opts.Handlers))
	for ev, h := range opts.Handlers {
		subs = append(subs, m.On(ev, h))
	}
	m.mu.Lock()
	m.session = subs
	m.mu.Unlock()
	m.attach(life, conn)
	return nil
}

// Disconnect closes the connection, stops any reconnection in progress and removes
// the handlers passed to Connect. Handlers added with On stay registered.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
		m.dispatch(EventDisconnect, reasonPayload(nil))
	}
	m.dropSessionHandlers()
}

// dropSessionHandlers removes the handlers registered through Options.Handlers.
func (m *Manager) dropSessionHandlers() {
	m.mu.Lock()
	subs := m.session
	m.session = nil
	m.mu.Unlock()
	for _, s := range subs {
		m.Off(s)
	}
}

// IsConnected reports whether a connection is currently open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// On registers h for event. Handlers run on the reader goroutine in registration order
// and must not call Connect or Disconnect synchronously.
func (m *Manager) On(event string, h Handler) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers[event] = append(m.handlers[event], entry{id: m.nextID, h: h})
	return Subscription{event: event, id: m.nextID}
}

// Off removes a handler registered with On.
func (m *Manager) Off(s Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.handlers[s.event]
	for i, e := range list {
		if e.id == s.id {
			m.handlers[s.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(m.handlers[s.event]) == 0 {
		delete(m.handlers, s.event)
	}
}

// Emit sends one event to the server.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn, timeout := m.conn, m.opts.WriteTimeout
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ev, err := presence.NewEvent(event, payload)
	if err != nil {
		return err
	}
	frame, err := ev.Encode()
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// SendMessage relays an already stored message to its receiver.
func (m *Manager) SendMessage(msg model.Message) error {
	return m.Emit(presence.EventSendMessage, msg)
}

// Typing tells contactID whether the user is typing.
func (m *Manager) Typing(contactID string, isTyping bool) error {
	return m.Emit(presence.EventTyping, presence.TypingPayload{ContactID: contactID, IsTyping: isTyping})
}

type statusRequest struct {
	MessageID  string              `json:"messageId"`
	Status     model.MessageStatus `json:"status"`
	SenderID   string              `json:"senderId,omitempty"`
	ReceiverID string              `json:"receiverId,omitempty"`
}

// UpdateMessageStatus announces a delivered/read change. Empty party ids make the
// server broadcast the update.
func (m *Manager) UpdateMessageStatus(messageID string, st model.MessageStatus, senderID, receiverID string) error {
	return m.Emit(presence.EventStatusUpdate, statusRequest{
		MessageID:  messageID,
		Status:     st,
		SenderID:   senderID,
		ReceiverID: receiverID,
	})
}

func (m *Manager) dial(ctx context.Context, opts Options) (*websocket.Conn, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("userId", opts.UserID)
	if opts.Contacts != nil {
		q.Set("contacts", strings.Join(opts.Contacts, ","))
	}
	u.RawQuery = q.Encode()

	hdr := http.Header{"Authorization": {"Bearer " + opts.Token}}
	conn, resp, err := opts.Dialer.DialContext(ctx, u.String(), hdr)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

// attach installs conn as the current connection unless the session ended meanwhile.
func (m *Manager) attach(life context.Context, conn *websocket.Conn) bool {
	m.mu.Lock()
	if life.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	m.mu.Unlock()

	m.log.Info("connected", zap.String("remote", conn.RemoteAddr().String()))
	m.dispatch(EventConnect, reasonPayload(nil))
	go m.readLoop(life, conn)
	return true
}

func (m *Manager) readLoop(life context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.lost(life, conn, err)
			return
		}
		var ev presence.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			m.log.Debug("malformed frame ignored")
			continue
		}
		m.dispatch(ev.Name, ev.Payload)
	}
}

// lost handles a connection that ended without Disconnect.
func (m *Manager) lost(life context.Context, conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	opts := m.opts
	m.mu.Unlock()

	_ = conn.Close()
	m.log.Warn("connection lost", zap.Error(cause))
	m.dispatch(EventDisconnect, reasonPayload(cause))

	if life.Err() != nil || websocket.IsCloseError(cause, websocket.ClosePolicyViolation) {
		return
	}
	m.reconnect(life, opts)
}

func (m *Manager) reconnect(life context.Context, opts Options) {
	b := retry.NewExponential(opts.Backoff)
	b = retry.WithCappedDuration(opts.MaxBackoff, b)
	b = retry.WithMaxRetries(opts.MaxRetries, b)

	var conn *websocket.Conn
	err := retry.Do(life, b, func(ctx context.Context) error {
		c, err := m.dial(ctx, opts)
		if err != nil {
			m.log.Debug("reconnect attempt failed", zap.Error(err))
			var he *HandshakeError
			if errors.As(err, &he) && he.Permanent() {
				return err
			}
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		if life.Err() != nil {
			return
		}
		m.log.Warn("reconnect failed", zap.Error(err))
		m.dispatch(EventReconnectFailed, reasonPayload(err))
		return
	}
	m.attach(life, conn)
}

func (m *Manager) dispatch(event string, payload json.RawMessage) {
	m.mu.Lock()
	list := append([]entry(nil), m.handlers[event]...)
	m.mu.Unlock()
	for _, e := range list {
		e.h(payload)
	}
}

func reasonPayload(err error) json.RawMessage {
	if err == nil {
		return json.RawMessage("null")
	}
	b, _ := json.Marshal(err.Error())
	return b
}

// HandshakeError is a refused upgrade.
type HandshakeError struct {
	Status int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake refused: %d %s", e.Status, http.StatusText(e.Status))
}

// Permanent reports whether retrying with the same credentials cannot succeed.
func (e *HandshakeError) Permanent() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}
