package presence

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

var errFakeFull = errors.New("send buffer full")

type fakeConn struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	reason   error
	failSend bool
}

var _ Conn = (*fakeConn)(nil)

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errFakeFull
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Close(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.reason = reason
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(t *testing.T) []Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, 0, len(c.frames))
	for _, f := range c.frames {
		var ev Event
		if err := json.Unmarshal(f, &ev); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) named(t *testing.T, name string) []Event {
	t.Helper()
	var out []Event
	for _, ev := range c.events(t) {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func frame(t *testing.T, name string, payload any) []byte {
	t.Helper()
	ev, err := NewEvent(name, payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	b, err := ev.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}
