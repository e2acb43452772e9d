package transport

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/util"
)

// ChannelConn binds a data channel to the binary codec.
//
// Its lifecycle follows the data channel. OnOpen and OnClose hooks fire once
// each, in registration order.
type ChannelConn struct {
	dc     DataChannel
	remote string
	log    *zap.Logger

	openSignal  chan struct{}
	closeSignal chan struct{}
	openOnce    sync.Once
	closeOnce   sync.Once
	state       stateBox

	mu      sync.Mutex
	onOpen  []func()
	onClose []func()
}

// NewChannelConn wraps dc. remote names the party on the other end, used in
// logs and errors. Register OnMessage before the channel can deliver.
func NewChannelConn(dc DataChannel, remote string, logger *zap.Logger) *ChannelConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ChannelConn{
		dc:          dc,
		remote:      remote,
		log:         logger.With(zap.String("remote", remote)),
		openSignal:  make(chan struct{}),
		closeSignal: make(chan struct{}),
	}

	dc.OnOpen(c.markOpen)
	dc.OnClose(c.markClosed)
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.markOpen()
	}
	return c
}

func (c *ChannelConn) markOpen() {
	c.openOnce.Do(func() {
		if c.state.load() == StateClosed {
			return
		}
		c.state.store(StateOpen)
		util.Stats.AddConn()
		close(c.openSignal)

		c.mu.Lock()
		fns := append([]func(){}, c.onOpen...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

func (c *ChannelConn) markClosed() {
	c.closeOnce.Do(func() {
		wasOpen := c.state.load() == StateOpen
		c.state.markClosed()
		if wasOpen {
			util.Stats.RemoveConn()
		}
		close(c.closeSignal)

		c.mu.Lock()
		fns := append([]func(){}, c.onClose...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

// OnOpen registers fn to run once the channel opens. If it is already open,
// fn runs immediately.
func (c *ChannelConn) OnOpen(fn func()) {
	c.mu.Lock()
	select {
	case <-c.openSignal:
		c.mu.Unlock()
		fn()
		return
	default:
	}
	c.onOpen = append(c.onOpen, fn)
	c.mu.Unlock()
}

// OnClose registers fn to run once the channel closes. If it is already
// closed, fn runs immediately.
func (c *ChannelConn) OnClose(fn func()) {
	c.mu.Lock()
	select {
	case <-c.closeSignal:
		c.mu.Unlock()
		fn()
		return
	default:
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *ChannelConn) Remote() string { return c.remote }
func (c *ChannelConn) State() State   { return c.state.load() }

// Send encodes m and writes it if the channel is open; otherwise the message
// is skipped.
func (c *ChannelConn) Send(m protocol.Message) error {
	if c.state.load() != StateOpen || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	data, err := protocol.Binary.Encode(m)
	if err != nil {
		return err
	}
	if err := c.dc.Send(data); err != nil {
		return &errs.TransportError{Remote: c.remote, Err: err}
	}
	util.Stats.AddSent(len(data))
	return nil
}

// OnMessage registers the receive callback. Malformed messages are dropped.
func (c *ChannelConn) OnMessage(fn func(protocol.Message)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		m, err := protocol.Binary.Decode(msg.Data)
		if err != nil {
			c.log.Debug("Dropping message", zap.Error(err))
			util.Stats.AddDropped()
			return
		}
		fn(m)
	})
}

// Close closes the data channel.
func (c *ChannelConn) Close() error {
	if c.state.load() == StateClosed {
		return nil
	}
	err := c.dc.Close()
	c.markClosed()
	return err
}
