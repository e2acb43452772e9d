// Package mesh drives the offer/answer/candidate exchange that sets up one
// data channel per peer, relayed through the signaling broker.
package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
)

// Slot identifies a peer link: Unassigned before the peer's player id is
// known, Assigned afterwards. A slot is assigned at most once.
type Slot struct {
	playerID string
}

// Unassigned returns the pending slot value.
func Unassigned() Slot { return Slot{} }

// Assigned returns a slot bound to a player.
func Assigned(playerID string) Slot { return Slot{playerID: playerID} }

// PlayerID returns the bound player id, if any.
func (s Slot) PlayerID() (string, bool) { return s.playerID, s.playerID != "" }

func (s Slot) String() string {
	if s.playerID == "" {
		return "pending"
	}
	return s.playerID
}

// Link pairs a negotiated peer connection with its game data channel.
type Link struct {
	slot Slot
	pc   transport.PeerConnection
	conn *transport.ChannelConn

	remoteSet bool
	early     []webrtc.ICECandidateInit
	open      bool
}

func (l *Link) Slot() Slot                   { return l.slot }
func (l *Link) Conn() *transport.ChannelConn { return l.conn }
func (l *Link) Open() bool                   { return l.open }

// assign renames an unassigned slot.
func (l *Link) assign(playerID string) error {
	if _, ok := l.slot.PlayerID(); ok {
		return fmt.Errorf("slot already assigned to %s", l.slot)
	}
	l.slot = Assigned(playerID)
	return nil
}

// addCandidate applies c, or holds it until a remote description is set.
func (l *Link) addCandidate(c webrtc.ICECandidateInit) error {
	if !l.remoteSet {
		l.early = append(l.early, c)
		return nil
	}
	return l.pc.AddICECandidate(c)
}

// setRemote applies sdp and flushes held candidates.
func (l *Link) setRemote(sdp webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}
	l.remoteSet = true
	early := l.early
	l.early = nil
	for _, c := range early {
		if err := l.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (l *Link) close() error {
	var err error
	if l.conn != nil {
		err = l.conn.Close()
	}
	if l.pc != nil {
		if cerr := l.pc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Signaler carries signaling messages to the broker.
type Signaler interface {
	Send(m protocol.Message) error
}

// Callbacks receive link events. Every callback runs through Post.
type Callbacks struct {
	// OnOpen fires when a peer's data channel opens.
	OnOpen func(playerID string, conn *transport.ChannelConn)
	// OnMessage fires for every decoded message on an open link.
	OnMessage func(playerID string, conn *transport.ChannelConn, m protocol.Message)
	// OnClose fires once when an established or pending link goes away.
	OnClose func(playerID string)
	// OnFailure fires when a handshake step fails and the link is aborted.
	OnFailure func(err *errs.SignalingFailure)
}

// Params are shared by the host and client orchestrators.
type Params struct {
	SelfID  string
	Factory transport.PeerFactory
	Signal  Signaler
	// Post runs fn on the owner's event loop. Defaults to calling fn inline.
	Post      func(fn func())
	Callbacks Callbacks
	Logger    *zap.Logger
}

func (p *Params) defaults() {
	if p.Post == nil {
		p.Post = func(fn func()) { fn() }
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	cb := &p.Callbacks
	if cb.OnOpen == nil {
		cb.OnOpen = func(string, *transport.ChannelConn) {}
	}
	if cb.OnMessage == nil {
		cb.OnMessage = func(string, *transport.ChannelConn, protocol.Message) {}
	}
	if cb.OnClose == nil {
		cb.OnClose = func(string) {}
	}
	if cb.OnFailure == nil {
		cb.OnFailure = func(*errs.SignalingFailure) {}
	}
}

func encodeCandidate(c webrtc.ICECandidateInit) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeCandidate(s string) (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(s), &init); err != nil {
		return init, fmt.Errorf("parse candidate: %w", err)
	}
	return init, nil
}

// Handshake step names reported in SignalingFailure.
const (
	StepPeer      = "create-peer"
	StepChannel   = "create-channel"
	StepOffer     = "offer"
	StepAnswer    = "answer"
	StepCandidate = "candidate"
	StepSignal    = "signal"
)
