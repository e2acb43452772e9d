package transporttest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/worldlink/internal/transport"
)

// Compile-time interface checks.
var (
	_ transport.DataChannel    = (*Channel)(nil)
	_ transport.PeerConnection = (*Peer)(nil)
)

// ErrClosed is returned by Send on a closed fake channel.
var ErrClosed = errors.New("fake channel closed")

// Channel is a fake data channel. Two linked channels deliver to each other
// synchronously on the sender's goroutine.
type Channel struct {
	label string

	mu        sync.Mutex
	state     webrtc.DataChannelState
	peer      *Channel
	onOpen    []func()
	onClose   []func()
	onMessage func(webrtc.DataChannelMessage)
	sent      [][]byte
}

// NewChannel returns a fake channel in the connecting state.
func NewChannel(label string) *Channel {
	return &Channel{label: label, state: webrtc.DataChannelStateConnecting}
}

// Link connects a and b so each receives what the other sends.
func Link(a, b *Channel) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (c *Channel) Label() string { return c.label }

func (c *Channel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	if c.state != webrtc.DataChannelStateOpen {
		c.mu.Unlock()
		return ErrClosed
	}
	c.sent = append(c.sent, data)
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.Deliver(data)
	}
	return nil
}

// Deliver hands data to the registered OnMessage callback.
func (c *Channel) Deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(webrtc.DataChannelMessage{IsString: false, Data: data})
	}
}

func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = append(c.onOpen, fn)
	c.mu.Unlock()
}

func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Channel) OnMessage(fn func(webrtc.DataChannelMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Open moves the channel to open and fires OnOpen callbacks.
func (c *Channel) Open() {
	c.mu.Lock()
	c.state = webrtc.DataChannelStateOpen
	fns := append([]func(){}, c.onOpen...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == webrtc.DataChannelStateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = webrtc.DataChannelStateClosed
	fns := append([]func(){}, c.onClose...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

// SentCount returns how many frames were sent.
func (c *Channel) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// Step names a fallible peer-connection operation.
type Step string

const (
	StepCreateOffer  Step = "create-offer"
	StepCreateAnswer Step = "create-answer"
	StepSetLocal     Step = "set-local"
	StepSetRemote    Step = "set-remote"
	StepAddCandidate Step = "add-candidate"
	StepDataChannel  Step = "data-channel"
)

// Peer is a scripted fake peer connection.
type Peer struct {
	id int

	mu            sync.Mutex
	failures      map[Step]error
	channels      []*Channel
	local         *webrtc.SessionDescription
	remote        *webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	onDataChannel func(transport.DataChannel)
	onCandidate   func(webrtc.ICECandidateInit)
	onStateChange func(webrtc.PeerConnectionState)
	closed        bool
}

// Fail makes step return err from now on.
func (p *Peer) Fail(step Step, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures == nil {
		p.failures = make(map[Step]error)
	}
	p.failures[step] = err
}

func (p *Peer) failure(step Step) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures[step]
}

func (p *Peer) CreateDataChannel(label string) (transport.DataChannel, error) {
	if err := p.failure(StepDataChannel); err != nil {
		return nil, err
	}
	ch := NewChannel(label)
	p.mu.Lock()
	p.channels = append(p.channels, ch)
	p.mu.Unlock()
	return ch, nil
}

func (p *Peer) OnDataChannel(fn func(transport.DataChannel)) {
	p.mu.Lock()
	p.onDataChannel = fn
	p.mu.Unlock()
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onStateChange = fn
	p.mu.Unlock()
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	if err := p.failure(StepCreateOffer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.id)}, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	if err := p.failure(StepCreateAnswer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.id)}, nil
}

func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	if err := p.failure(StepSetLocal); err != nil {
		return err
	}
	p.mu.Lock()
	p.local = &sdp
	p.mu.Unlock()
	return nil
}

func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := p.failure(StepSetRemote); err != nil {
		return err
	}
	p.mu.Lock()
	p.remote = &sdp
	p.mu.Unlock()
	return nil
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.failure(StepAddCandidate); err != nil {
		return err
	}
	p.mu.Lock()
	p.candidates = append(p.candidates, candidate)
	p.mu.Unlock()
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closed = true
	chans := append([]*Channel(nil), p.channels...)
	p.mu.Unlock()
	for _, ch := range chans {
		ch.Close()
	}
	return nil
}

// EmitCandidate simulates local ICE gathering.
func (p *Peer) EmitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// AnnounceChannel simulates the remote side opening a data channel.
func (p *Peer) AnnounceChannel(ch *Channel) {
	p.mu.Lock()
	p.channels = append(p.channels, ch)
	fn := p.onDataChannel
	p.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

// SetConnectionState fires the state-change callback.
func (p *Peer) SetConnectionState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onStateChange
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Channels returns channels created on or announced to this peer.
func (p *Peer) Channels() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Channel(nil), p.channels...)
}

func (p *Peer) Local() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *Peer) Remote() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Factory hands out fake peers and remembers them.
type Factory struct {
	mu    sync.Mutex
	peers []*Peer
	err   error
}

// New implements transport.PeerFactory.
func (f *Factory) New() (transport.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &Peer{id: len(f.peers) + 1}
	f.peers = append(f.peers, p)
	return p, nil
}

// FailWith makes New fail.
func (f *Factory) FailWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Peers returns every peer created so far.
func (f *Factory) Peers() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Peer(nil), f.peers...)
}

// Last returns the most recently created peer, or nil.
func (f *Factory) Last() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}
