package transporttest

import (
	"sync"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
)

var _ transport.Socket = (*Socket)(nil)

// Socket is a recording Conn whose read loop is driven by Push.
type Socket struct {
	*Conn

	in   chan protocol.Message
	done chan struct{}
	once sync.Once
}

// NewSocket returns an open socket.
func NewSocket(name string) *Socket {
	return &Socket{
		Conn: NewConn(name),
		in:   make(chan protocol.Message, 64),
		done: make(chan struct{}),
	}
}

// Push delivers m to the running Serve loop.
func (s *Socket) Push(m protocol.Message) {
	select {
	case s.in <- m:
	case <-s.done:
	}
}

// Serve hands pushed messages to handle until the socket closes.
func (s *Socket) Serve(handle func(protocol.Message)) error {
	for {
		select {
		case m := <-s.in:
			handle(m)
		case <-s.done:
			return nil
		}
	}
}

// Close closes the socket and ends Serve. Safe to call twice.
func (s *Socket) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.Conn.Close()
}

// Dialer hands out queued sockets in order and records every address.
type Dialer struct {
	mu      sync.Mutex
	sockets []*Socket
	addrs   []string
	err     error
}

// Queue makes s the result of the next dial.
func (d *Dialer) Queue(s *Socket) {
	d.mu.Lock()
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()
}

// FailWith makes every later dial fail with err.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Dial returns the next queued socket, or a fresh one if none is queued.
func (d *Dialer) Dial(addr string) (transport.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = append(d.addrs, addr)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.sockets) == 0 {
		return NewSocket(addr), nil
	}
	s := d.sockets[0]
	d.sockets = d.sockets[1:]
	return s, nil
}

// Addrs returns every dialed address.
func (d *Dialer) Addrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}
