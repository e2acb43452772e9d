package mesh

import (
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
)

// Host accepts peers for a hosted game. One unassigned slot is kept ready
// for the next peer; it is renamed when the broker names that peer.
//
// Host is not safe for concurrent use. Transport callbacks are funneled
// through Params.Post onto the owner's event loop.
type Host struct {
	p   Params
	log *zap.Logger

	pending *Link
	links   map[string]*Link
}

// NewHost creates a host orchestrator holding one pending slot.
func NewHost(params Params) *Host {
	params.defaults()
	h := &Host{
		p:     params,
		log:   params.Logger.With(zap.String("component", "mesh-host")),
		links: make(map[string]*Link),
	}
	h.ensurePending()
	return h
}

// Pending returns the pending slot, if one exists.
func (h *Host) Pending() (Slot, bool) {
	if h.pending == nil {
		return Slot{}, false
	}
	return h.pending.slot, true
}

// Link returns the link for a player.
func (h *Host) Link(playerID string) (*Link, bool) {
	l, ok := h.links[playerID]
	return l, ok
}

// Peers returns the ids of every assigned link.
func (h *Host) Peers() []string {
	out := make([]string, 0, len(h.links))
	for id := range h.links {
		out = append(out, id)
	}
	return out
}

func (h *Host) ensurePending() {
	if h.pending == nil {
		h.pending = &Link{slot: Unassigned()}
	}
}

// HandleMakeOffer starts the handshake for playerID: the pending slot is
// renamed, a peer connection and data channel are created, and an offer is
// sent through the broker.
func (h *Host) HandleMakeOffer(playerID string) error {
	if playerID == "" || playerID == h.p.SelfID {
		return h.fail(playerID, StepOffer, errInvalidPeer)
	}
	if old, ok := h.links[playerID]; ok {
		// a peer that rejoins replaces its previous link
		h.log.Info("Replacing link", zap.String("peer", playerID))
		delete(h.links, playerID)
		_ = old.close()
	}

	h.ensurePending()
	link := h.pending
	h.pending = nil
	if err := link.assign(playerID); err != nil {
		return h.fail(playerID, StepOffer, err)
	}
	h.links[playerID] = link

	pc, err := h.p.Factory()
	if err != nil {
		return h.abort(link, StepPeer, err)
	}
	link.pc = pc

	dc, err := pc.CreateDataChannel(transport.ChannelLabel)
	if err != nil {
		return h.abort(link, StepChannel, err)
	}
	link.conn = transport.NewChannelConn(dc, playerID, h.p.Logger)
	h.wire(link, playerID)

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		h.p.Post(func() { h.forwardCandidate(link, playerID, c) })
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			h.p.Post(func() { h.closed(link, playerID) })
		}
	})

	offer, err := pc.CreateOffer()
	if err != nil {
		return h.abort(link, StepOffer, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return h.abort(link, StepOffer, err)
	}
	if err := h.p.Signal.Send(protocol.Offer{From: h.p.SelfID, To: playerID, SDP: offer.SDP}); err != nil {
		return h.abort(link, StepSignal, err)
	}

	h.log.Debug("Offer sent", zap.String("peer", playerID))
	return nil
}

func (h *Host) wire(link *Link, playerID string) {
	conn := link.conn
	conn.OnMessage(func(m protocol.Message) {
		h.p.Post(func() {
			if h.links[playerID] == link {
				h.p.Callbacks.OnMessage(playerID, conn, m)
			}
		})
	})
	conn.OnOpen(func() {
		h.p.Post(func() { h.opened(link, playerID) })
	})
	conn.OnClose(func() {
		h.p.Post(func() { h.closed(link, playerID) })
	})
}

func (h *Host) forwardCandidate(link *Link, playerID string, c webrtc.ICECandidateInit) {
	if h.links[playerID] != link {
		return
	}
	s, err := encodeCandidate(c)
	if err != nil {
		h.log.Debug("Dropping local candidate", zap.Error(err))
		return
	}
	if err := h.p.Signal.Send(protocol.Candidate{From: h.p.SelfID, To: playerID, Candidate: s}); err != nil {
		h.log.Debug("Candidate not forwarded", zap.String("peer", playerID), zap.Error(err))
	}
}

// HandleAnswer applies a peer's answer.
func (h *Host) HandleAnswer(m protocol.Answer) error {
	link, ok := h.links[m.From]
	if !ok {
		return h.fail(m.From, StepAnswer, errUnknownPeer)
	}
	if err := link.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
		return h.abort(link, StepAnswer, err)
	}
	return nil
}

// HandleCandidate applies a peer's candidate, before or after its answer.
func (h *Host) HandleCandidate(m protocol.Candidate) error {
	link, ok := h.links[m.From]
	if !ok {
		return h.fail(m.From, StepCandidate, errUnknownPeer)
	}
	c, err := decodeCandidate(m.Candidate)
	if err != nil {
		return h.abort(link, StepCandidate, err)
	}
	if err := link.addCandidate(c); err != nil {
		return h.abort(link, StepCandidate, err)
	}
	return nil
}

func (h *Host) opened(link *Link, playerID string) {
	if h.links[playerID] != link || link.open {
		return
	}
	link.open = true
	h.ensurePending()
	h.log.Info("Data channel open", zap.String("peer", playerID))
	h.p.Callbacks.OnOpen(playerID, link.conn)
}

func (h *Host) closed(link *Link, playerID string) {
	if h.links[playerID] != link {
		return
	}
	delete(h.links, playerID)
	_ = link.close()
	h.ensurePending()
	h.log.Info("Link closed", zap.String("peer", playerID))
	h.p.Callbacks.OnClose(playerID)
}

// Drop closes the link to playerID without reporting OnClose.
func (h *Host) Drop(playerID string) {
	link, ok := h.links[playerID]
	if !ok {
		return
	}
	delete(h.links, playerID)
	_ = link.close()
	h.ensurePending()
}

// abort tears down a failed handshake. Other links are untouched.
func (h *Host) abort(link *Link, step string, err error) error {
	playerID, _ := link.slot.PlayerID()
	if h.links[playerID] == link {
		delete(h.links, playerID)
	}
	_ = link.close()
	h.ensurePending()
	return h.fail(playerID, step, err)
}

func (h *Host) fail(playerID, step string, err error) error {
	failure := &errs.SignalingFailure{PlayerID: playerID, Step: step, Err: err}
	h.log.Warn("Handshake aborted", zap.Error(failure))
	h.p.Callbacks.OnFailure(failure)
	return failure
}

// Close tears down every link, including the pending slot.
func (h *Host) Close() error {
	var err error
	links := h.links
	h.links = make(map[string]*Link)
	for _, link := range links {
		err = multierr.Append(err, link.close())
	}
	h.pending = nil
	return err
}
