// Package transport provides send-capable endpoints bound to exactly one
// remote party: WebSocket connections and WebRTC data channels, each fixed to
// a single codec.
package transport

import (
	"sync/atomic"

	"github.com/1ureka/worldlink/internal/protocol"
)

// State is the lifecycle of a connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is a reliable, ordered, bidirectional endpoint. Send on a connection
// that is not open is silently skipped.
type Conn interface {
	Send(m protocol.Message) error
	State() State
	Remote() string
	Close() error
}

// Socket is a Conn that owns its read loop. Serve blocks until the
// connection closes.
type Socket interface {
	Conn
	Serve(handle func(protocol.Message)) error
}

var _ Socket = (*WSConn)(nil)

// stateBox is an atomic State shared by the concrete connections.
type stateBox struct{ v atomic.Int32 }

func (b *stateBox) load() State   { return State(b.v.Load()) }
func (b *stateBox) store(s State) { b.v.Store(int32(s)) }

// markClosed moves to closed and reports whether this call did it.
func (b *stateBox) markClosed() bool {
	for {
		cur := b.v.Load()
		if State(cur) == StateClosed {
			return false
		}
		if b.v.CompareAndSwap(cur, int32(StateClosed)) {
			return true
		}
	}
}
