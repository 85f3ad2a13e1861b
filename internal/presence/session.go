package presence

import (
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/and161185/lexchat/internal/errs"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handshake is supplied once per connection.
type Handshake struct {
	UserID   string
	Contacts []string
}

// SessionOptions tune per-session relay behaviour.
type SessionOptions struct {
	// EchoToSender sends a receive-message copy back to the sending connection.
	EchoToSender bool
}

// Session drives one connection through Connecting -> Active -> Closed.
type Session struct {
	relay *Relay
	conn  Conn
	opts  SessionOptions
	log   *zap.Logger

	mu       sync.Mutex
	state    State
	userID   string
	contacts []string
}

// NewSession creates a session in the Connecting state.
func NewSession(relay *Relay, conn Conn, opts SessionOptions, log *zap.Logger) *Session {
	return &Session{
		relay: relay,
		conn:  conn,
		opts:  opts,
		log:   log.Named("session").With(zap.String("conn", conn.ID())),
		state: StateConnecting,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the identity bound at handshake, empty before Active.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Open performs the handshake transition. A handshake without identity closes the
// connection and returns errs.ErrHandshakeRejected.
func (s *Session) Open(hs Handshake) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return nil
	}
	if hs.UserID == "" {
		s.state = StateClosed
		s.log.Warn("handshake without user id, closing")
		s.conn.Close(errs.ErrHandshakeRejected)
		return errs.ErrHandshakeRejected
	}

	s.userID = hs.UserID
	s.contacts = normalizeContacts(hs.Contacts, hs.UserID)
	s.log = s.log.With(zap.String("user", s.userID))

	reg := s.relay.Registry()
	unlock := reg.LockTransitions(s.userID)
	defer unlock()
	reg.Register(s.userID, s.conn)
	s.state = StateActive

	online := reg.OnlineSubsetOf(s.contacts)
	if ev, err := NewEvent(EventOnlineSnapshot, online); err == nil {
		s.relay.ToConn(s.conn, ev)
	}
	if ev, err := NewEvent(EventUserOnline, s.userID); err == nil {
		for _, id := range online {
			s.relay.ToUser(id, ev)
		}
	}
	s.log.Info("session active", zap.Int("contacts", len(s.contacts)), zap.Int("online", len(online)))
	return nil
}

// Close performs the disconnect transition. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = StateClosed
	if prev != StateActive {
		return
	}

	reg := s.relay.Registry()
	unlock := reg.LockTransitions(s.userID)
	defer unlock()
	remaining := reg.Unregister(s.userID, s.conn)
	if remaining > 0 {
		s.log.Info("session closed, user still online", zap.Int("remaining", remaining))
		return
	}
	ev, err := NewEvent(EventUserOffline, s.userID)
	if err != nil {
		return
	}
	for _, id := range s.contacts {
		s.relay.ToUser(id, ev)
	}
	s.log.Info("session closed, user offline")
}

// Handle processes one inbound frame. Frames outside the Active state and malformed
// frames are dropped.
func (s *Session) Handle(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		s.log.Debug("frame outside active state dropped", zap.Stringer("state", s.state))
		return
	}
	if !gjson.ValidBytes(frame) {
		s.log.Debug("malformed frame dropped")
		return
	}
	name := gjson.GetBytes(frame, "event").String()
	payload := gjson.GetBytes(frame, "payload")

	switch name {
	case EventSendMessage:
		s.onSendMessage(payload)
	case EventTyping:
		s.onTyping(payload)
	case EventStatusUpdate:
		s.onStatusUpdate(payload)
	default:
		s.log.Warn("unknown event dropped", zap.String("event", name))
	}
}

func (s *Session) onSendMessage(payload gjson.Result) {
	receiver := payload.Get("receiverId")
	sender := payload.Get("senderId")
	if !payload.IsObject() || !nonEmptyString(receiver) || !nonEmptyString(sender) {
		s.log.Debug("send-message missing sender/receiver, dropped")
		return
	}
	ev := Event{Name: EventReceiveMessage, Payload: json.RawMessage(payload.Raw)}
	n := s.relay.ToUser(receiver.String(), ev)
	if s.opts.EchoToSender {
		s.relay.ToConn(s.conn, ev)
	}
	s.log.Debug("message relayed", zap.String("to", receiver.String()), zap.Int("deliveries", n))
}

func (s *Session) onTyping(payload gjson.Result) {
	contact := payload.Get("contactId")
	typing := payload.Get("isTyping")
	if !nonEmptyString(contact) || (typing.Type != gjson.True && typing.Type != gjson.False) {
		s.log.Debug("typing missing contactId/isTyping, dropped")
		return
	}
	ev, err := NewEvent(EventUserTyping, TypingPayload{ContactID: s.userID, IsTyping: typing.Bool()})
	if err != nil {
		return
	}
	s.relay.ToUser(contact.String(), ev)
}

func (s *Session) onStatusUpdate(payload gjson.Result) {
	msgID := payload.Get("messageId")
	status := payload.Get("status")
	if !nonEmptyString(msgID) || !status.IsObject() {
		s.log.Debug("status update missing messageId/status, dropped")
		return
	}
	st := Status{
		Delivered: status.Get("delivered").Bool(),
		Read:      status.Get("read").Bool(),
	}
	var parties []string
	for _, key := range []string{"senderId", "receiverId"} {
		if v := payload.Get(key); nonEmptyString(v) {
			parties = append(parties, v.String())
		}
	}
	n := s.relay.MessageStatus(msgID.String(), st, parties...)
	s.log.Debug("status relayed", zap.String("message", msgID.String()), zap.Int("deliveries", n))
}

func nonEmptyString(r gjson.Result) bool {
	return r.Type == gjson.String && r.Str != ""
}

// normalizeContacts drops blanks, self-references and duplicates while keeping order.
func normalizeContacts(in []string, self string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, id := range in {
		if id == "" || id == self {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
