// Package presence implements the in-memory presence registry and the per-connection
// relay session that moves messages, typing and status events between live connections.
package presence

import (
	"hash/fnv"
	"sync"
)

// transitionStripes is the number of locks that serialize online/offline transitions.
const transitionStripes = 64

// Conn is one live transport connection as seen by the presence layer.
type Conn interface {
	// ID is the transport-level connection id, unique per process.
	ID() string
	// Send queues a frame for delivery; it must not block.
	Send(frame []byte) error
	// Close terminates the connection; reason is reported to the peer when possible.
	Close(reason error)
}

// Registry maps user identities to their open connections.
// An identity is present iff it owns at least one connection.
type Registry struct {
	mu     sync.RWMutex
	users  map[string][]Conn // ordered by registration time
	owners map[string]string // conn id -> identity

	transitions [transitionStripes]sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string][]Conn),
		owners: make(map[string]string),
	}
}

// Register adds c to identity's set. Registering the same connection twice is a no-op;
// a connection id already owned by another identity is moved.
func (r *Registry) Register(identity string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	if owner, ok := r.owners[id]; ok {
		if owner == identity {
			return
		}
		r.removeLocked(owner, id)
	}
	r.users[identity] = append(r.users[identity], c)
	r.owners[id] = identity
}

// Unregister removes c from identity's set and reports how many connections remain.
func (r *Registry) Unregister(identity string, c Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	if owner, ok := r.owners[id]; ok && owner == identity {
		r.removeLocked(identity, id)
	}
	return len(r.users[identity])
}

func (r *Registry) removeLocked(identity, connID string) {
	delete(r.owners, connID)
	conns := r.users[identity]
	for i, c := range conns {
		if c.ID() == connID {
			conns = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	if len(conns) == 0 {
		delete(r.users, identity)
		return
	}
	r.users[identity] = conns
}

// ConnectionsFor returns a snapshot of identity's connections.
func (r *Registry) ConnectionsFor(identity string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[identity]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, len(conns))
	copy(out, conns)
	return out
}

// IsOnline reports whether identity has at least one open connection.
func (r *Registry) IsOnline(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[identity]
	return ok
}

// Count returns the number of open connections of identity.
func (r *Registry) Count(identity string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[identity])
}

// Oldest returns identity's earliest registered connection.
func (r *Registry) Oldest(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.users[identity]
	if len(conns) == 0 {
		return nil, false
	}
	return conns[0], true
}

// OnlineSubsetOf filters identities down to those currently online, keeping input order
// and dropping duplicates. The result is never nil.
func (r *Registry) OnlineSubsetOf(identities []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(identities))
	seen := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := r.users[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// All returns a snapshot of every open connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.owners))
	for _, conns := range r.users {
		out = append(out, conns...)
	}
	return out
}

// Stats returns the number of online identities and open connections.
func (r *Registry) Stats() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), len(r.owners)
}

// LockTransitions serializes the online and offline transitions of identity. Sessions
// hold it from registry change to the end of the presence fan-out, so contacts never
// observe user-offline after the user-online of a newer connection. Call the returned
// func to unlock.
func (r *Registry) LockTransitions(identity string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	mu := &r.transitions[h.Sum32()%transitionStripes]
	mu.Lock()
	return mu.Unlock
}
