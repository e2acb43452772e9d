package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSConn is a WebSocket connection bound to one codec. Writes are serialized;
// reads happen on the single goroutine running Serve.
type WSConn struct {
	conn   *websocket.Conn
	codec  protocol.Codec
	remote string
	log    *zap.Logger

	mu    sync.Mutex
	state stateBox
}

// NewWSConn wraps an established WebSocket.
func NewWSConn(conn *websocket.Conn, codec protocol.Codec, logger *zap.Logger) *WSConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	remote := conn.RemoteAddr().String()
	c := &WSConn{
		conn:   conn,
		codec:  codec,
		remote: remote,
		log:    logger.With(zap.String("remote", remote), zap.String("codec", codec.Name())),
	}
	c.state.store(StateOpen)
	conn.SetReadLimit(protocol.MaxMessageSize)
	util.Stats.AddConn()
	return c
}

// Dial connects to a WebSocket URL.
func Dial(ctx context.Context, url string, codec protocol.Codec, logger *zap.Logger) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &errs.TransportError{Remote: url, Err: fmt.Errorf("dial: %w", err)}
	}
	return NewWSConn(conn, codec, logger), nil
}

// Upgrade accepts an inbound WebSocket on an HTTP handler.
func Upgrade(w http.ResponseWriter, r *http.Request, codec protocol.Codec, logger *zap.Logger) (*WSConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &errs.TransportError{Remote: r.RemoteAddr, Err: fmt.Errorf("upgrade: %w", err)}
	}
	return NewWSConn(conn, codec, logger), nil
}

func (c *WSConn) Remote() string { return c.remote }
func (c *WSConn) State() State   { return c.state.load() }

// Send encodes and writes one message. A closed connection skips the write.
func (c *WSConn) Send(m protocol.Message) error {
	if c.state.load() != StateOpen {
		return nil
	}

	data, err := c.codec.Encode(m)
	if err != nil {
		return err
	}

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(frame, data); err != nil {
		c.teardown()
		return &errs.TransportError{Remote: c.remote, Err: err}
	}
	util.Stats.AddSent(len(data))
	return nil
}

// Serve runs the read loop, handing each decoded message to handle. Malformed
// messages are dropped. It returns nil on a normal close and a
// *errs.TransportError otherwise.
func (c *WSConn) Serve(handle func(protocol.Message)) error {
	defer c.teardown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.state.load() == StateClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return &errs.TransportError{Remote: c.remote, Err: err}
		}
		util.Stats.AddRecv(len(data))

		m, err := c.codec.Decode(data)
		if err != nil {
			var perr *errs.ProtocolError
			if errors.As(err, &perr) {
				c.log.Debug("Dropping message", zap.Error(err))
			} else {
				c.log.Debug("Dropping undecodable message", zap.Error(err))
			}
			util.Stats.AddDropped()
			continue
		}
		handle(m)
	}
}

// Close sends a close frame and releases the socket.
func (c *WSConn) Close() error {
	if c.state.load() == StateClosed {
		return nil
	}
	c.mu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.teardown()
}

func (c *WSConn) teardown() error {
	if !c.state.markClosed() {
		return nil
	}
	util.Stats.RemoveConn()
	return c.conn.Close()
}
