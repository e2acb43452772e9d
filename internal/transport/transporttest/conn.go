// Package transporttest provides in-process fakes of the transport
// abstractions for tests.
package transporttest

import (
	"sync"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
)

// Compile-time interface check.
var _ transport.Conn = (*Conn)(nil)

// Conn records every message sent to it. It starts open.
type Conn struct {
	name string

	mu     sync.Mutex
	sent   []protocol.Message
	state  transport.State
	closes int
}

// NewConn returns an open recording connection.
func NewConn(name string) *Conn {
	return &Conn{name: name, state: transport.StateOpen}
}

func (c *Conn) Send(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != transport.StateOpen {
		return nil
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *Conn) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) SetState(s transport.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) Remote() string { return c.name }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = transport.StateClosed
	c.closes++
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes > 0
}

// Sent returns a copy of every message sent so far.
func (c *Conn) Sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.sent...)
}

// Last returns the most recent message, or nil.
func (c *Conn) Last() protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// Reset discards recorded messages.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// OfType returns recorded messages of type T.
func OfType[T protocol.Message](c *Conn) []T {
	var out []T
	for _, m := range c.Sent() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
