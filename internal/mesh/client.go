package mesh

import (
	"errors"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
)

var (
	errUnknownPeer  = errors.New("no link for peer")
	errInvalidPeer  = errors.New("invalid peer id")
	errNotFromHost  = errors.New("signal not from host")
	errNotConnected = errors.New("handshake not started")
)

// Client connects a mesh client to its host. The host creates the data
// channel; the client answers and waits for it.
//
// Client is not safe for concurrent use; see Host.
type Client struct {
	p    Params
	log  *zap.Logger
	self func() protocol.PlayerInfo

	hostID string
	link   *Link
}

// NewClient creates a client orchestrator. self supplies the join
// announcement sent once the channel opens.
func NewClient(params Params, self func() protocol.PlayerInfo) *Client {
	params.defaults()
	return &Client{
		p:    params,
		log:  params.Logger.With(zap.String("component", "mesh-client")),
		self: self,
	}
}

// Link returns the link to the host, if started.
func (c *Client) Link() *Link { return c.link }

// Start creates the peer connection toward hostID and waits for its data
// channel. A previous link is closed.
func (c *Client) Start(hostID string) error {
	if c.link != nil {
		_ = c.link.close()
		c.link = nil
	}
	c.hostID = hostID

	link := &Link{slot: Assigned(hostID)}
	pc, err := c.p.Factory()
	if err != nil {
		return c.fail(StepPeer, err)
	}
	link.pc = pc
	c.link = link

	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.p.Post(func() { c.forwardCandidate(link, ci) })
	})
	pc.OnDataChannel(func(dc transport.DataChannel) {
		c.p.Post(func() { c.attach(link, dc) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			c.p.Post(func() { c.closed(link) })
		}
	})
	return nil
}

func (c *Client) forwardCandidate(link *Link, ci webrtc.ICECandidateInit) {
	if c.link != link {
		return
	}
	s, err := encodeCandidate(ci)
	if err != nil {
		return
	}
	if err := c.p.Signal.Send(protocol.Candidate{From: c.p.SelfID, To: c.hostID, Candidate: s}); err != nil {
		c.log.Debug("Candidate not forwarded", zap.Error(err))
	}
}

func (c *Client) attach(link *Link, dc transport.DataChannel) {
	if c.link != link || link.conn != nil {
		return
	}
	conn := transport.NewChannelConn(dc, c.hostID, c.p.Logger)
	link.conn = conn
	hostID := c.hostID

	conn.OnMessage(func(m protocol.Message) {
		c.p.Post(func() {
			if c.link == link {
				c.p.Callbacks.OnMessage(hostID, conn, m)
			}
		})
	})
	conn.OnOpen(func() {
		c.p.Post(func() { c.opened(link) })
	})
	conn.OnClose(func() {
		c.p.Post(func() { c.closed(link) })
	})
}

// opened announces the local player over the new channel.
func (c *Client) opened(link *Link) {
	if c.link != link || link.open {
		return
	}
	link.open = true
	if err := link.conn.Send(protocol.JoinAnnounce{Player: c.self()}); err != nil {
		c.log.Warn("Join announcement failed", zap.Error(err))
	}
	c.log.Info("Data channel open", zap.String("host", c.hostID))
	c.p.Callbacks.OnOpen(c.hostID, link.conn)
}

func (c *Client) closed(link *Link) {
	if c.link != link {
		return
	}
	c.link = nil
	_ = link.close()
	c.log.Info("Link to host closed", zap.String("host", c.hostID))
	c.p.Callbacks.OnClose(c.hostID)
}

// HandleOffer answers the host's offer.
func (c *Client) HandleOffer(m protocol.Offer) error {
	if c.link == nil {
		return c.fail(StepAnswer, errNotConnected)
	}
	if m.From != c.hostID {
		return c.fail(StepAnswer, errNotFromHost)
	}
	link := c.link
	if err := link.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}); err != nil {
		return c.abort(StepOffer, err)
	}
	answer, err := link.pc.CreateAnswer()
	if err != nil {
		return c.abort(StepAnswer, err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return c.abort(StepAnswer, err)
	}
	if err := c.p.Signal.Send(protocol.Answer{From: c.p.SelfID, To: c.hostID, SDP: answer.SDP}); err != nil {
		return c.abort(StepSignal, err)
	}
	return nil
}

// HandleCandidate applies a host candidate, before or after the offer.
func (c *Client) HandleCandidate(m protocol.Candidate) error {
	if c.link == nil {
		return c.fail(StepCandidate, errNotConnected)
	}
	if m.From != c.hostID {
		return c.fail(StepCandidate, errNotFromHost)
	}
	ci, err := decodeCandidate(m.Candidate)
	if err != nil {
		return c.abort(StepCandidate, err)
	}
	if err := c.link.addCandidate(ci); err != nil {
		return c.abort(StepCandidate, err)
	}
	return nil
}

func (c *Client) abort(step string, err error) error {
	if link := c.link; link != nil {
		c.link = nil
		_ = link.close()
	}
	return c.fail(step, err)
}

func (c *Client) fail(step string, err error) error {
	failure := &errs.SignalingFailure{PlayerID: c.hostID, Step: step, Err: err}
	c.log.Warn("Handshake aborted", zap.Error(failure))
	c.p.Callbacks.OnFailure(failure)
	return failure
}

// Close tears down the link to the host without reporting OnClose.
func (c *Client) Close() error {
	if c.link == nil {
		return nil
	}
	link := c.link
	c.link = nil
	return link.close()
}
