package transport

import (
	"github.com/pion/webrtc/v4"
)

// Default STUN servers for ICE candidate gathering.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ChannelLabel names the single game data channel of a peer link.
const ChannelLabel = "game"

// PeerConnection is the subset of a WebRTC peer connection the handshake
// needs. Implemented by pion; faked in tests.
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(fn func(DataChannel))
	// OnICECandidate fires once per gathered local candidate. The end of
	// gathering is not reported.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// DataChannel is the subset of a WebRTC data channel used for game traffic.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	Send(data []byte) error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(webrtc.DataChannelMessage))
	Close() error
}

// PeerFactory creates a new peer connection.
type PeerFactory func() (PeerConnection, error)

// NewPionFactory returns a PeerFactory backed by pion with the given STUN
// servers. No TURN is configured.
func NewPionFactory(stunServers []string) PeerFactory {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return func() (PeerConnection, error) {
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, err
		}
		return &pionPeer{pc: pc}, nil
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

// CreateDataChannel creates a reliable, ordered channel.
func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (p *pionPeer) OnDataChannel(fn func(DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) { fn(dc) })
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *pionPeer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
