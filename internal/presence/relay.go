package presence

import (
	"go.uber.org/zap"
)

// Relay forwards encoded events to the live connections held in a Registry.
// Delivery is fire-and-forget: a connection that cannot accept a frame is closed.
type Relay struct {
	reg *Registry
	log *zap.Logger
}

// NewRelay constructs a relay over reg.
func NewRelay(reg *Registry, log *zap.Logger) *Relay {
	return &Relay{reg: reg, log: log.Named("relay")}
}

// Registry returns the registry the relay fans out over.
func (r *Relay) Registry() *Registry { return r.reg }

// ToUser sends ev to every connection of identity and returns the number of deliveries.
func (r *Relay) ToUser(identity string, ev Event) int {
	conns := r.reg.ConnectionsFor(identity)
	if len(conns) == 0 {
		return 0
	}
	frame, err := ev.Encode()
	if err != nil {
		r.log.Warn("encode event", zap.String("event", ev.Name), zap.Error(err))
		return 0
	}
	return r.deliver(conns, frame, ev.Name)
}

// ToUsers sends ev to every connection of each distinct identity.
func (r *Relay) ToUsers(identities []string, ev Event) int {
	frame, err := ev.Encode()
	if err != nil {
		r.log.Warn("encode event", zap.String("event", ev.Name), zap.Error(err))
		return 0
	}
	n := 0
	seen := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		n += r.deliver(r.reg.ConnectionsFor(id), frame, ev.Name)
	}
	return n
}

// ToConn sends ev to a single connection.
func (r *Relay) ToConn(c Conn, ev Event) bool {
	frame, err := ev.Encode()
	if err != nil {
		r.log.Warn("encode event", zap.String("event", ev.Name), zap.Error(err))
		return false
	}
	return r.deliver([]Conn{c}, frame, ev.Name) == 1
}

// Broadcast sends ev to every open connection.
func (r *Relay) Broadcast(ev Event) int {
	frame, err := ev.Encode()
	if err != nil {
		r.log.Warn("encode event", zap.String("event", ev.Name), zap.Error(err))
		return 0
	}
	return r.deliver(r.reg.All(), frame, ev.Name)
}

// MessageStatus relays a status change to the given parties, or to everyone when none are named.
func (r *Relay) MessageStatus(messageID string, st Status, parties ...string) int {
	ev, err := NewEvent(EventMessageStatus, StatusPayload{MessageID: messageID, Status: st})
	if err != nil {
		r.log.Warn("build status event", zap.Error(err))
		return 0
	}
	if len(parties) == 0 {
		return r.Broadcast(ev)
	}
	return r.ToUsers(parties, ev)
}

func (r *Relay) deliver(conns []Conn, frame []byte, name string) int {
	n := 0
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			r.log.Debug("dropping connection on failed send",
				zap.String("conn", c.ID()),
				zap.String("event", name),
				zap.Error(err),
			)
			c.Close(err)
			continue
		}
		n++
	}
	return n
}
