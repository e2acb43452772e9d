package mesh

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/transport/transporttest"
)

// events records every callback.
type events struct {
	opened   []string
	closed   []string
	failures []*errs.SignalingFailure
	messages []protocol.Message
	conns    map[string]*transport.ChannelConn
}

func (e *events) callbacks() Callbacks {
	e.conns = make(map[string]*transport.ChannelConn)
	return Callbacks{
		OnOpen: func(id string, conn *transport.ChannelConn) {
			e.opened = append(e.opened, id)
			e.conns[id] = conn
		},
		OnMessage: func(id string, _ *transport.ChannelConn, m protocol.Message) {
			e.messages = append(e.messages, m)
		},
		OnClose:   func(id string) { e.closed = append(e.closed, id) },
		OnFailure: func(err *errs.SignalingFailure) { e.failures = append(e.failures, err) },
	}
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func candidateMsg(t *testing.T, from, to, s string) protocol.Candidate {
	t.Helper()
	data, err := json.Marshal(candidate(s))
	require.NoError(t, err)
	return protocol.Candidate{From: from, To: to, Candidate: string(data)}
}

type hostFixture struct {
	host    *Host
	factory *transporttest.Factory
	broker  *transporttest.Conn
	ev      *events
}

func newHostFixture() *hostFixture {
	f := &hostFixture{
		factory: &transporttest.Factory{},
		broker:  transporttest.NewConn("broker"),
		ev:      &events{},
	}
	f.host = NewHost(Params{
		SelfID:    "p1",
		Factory:   f.factory.New,
		Signal:    f.broker,
		Callbacks: f.ev.callbacks(),
	})
	return f
}

func TestSlot(t *testing.T) {
	_, ok := Unassigned().PlayerID()
	assert.False(t, ok)
	assert.Equal(t, "pending", Unassigned().String())

	id, ok := Assigned("p2").PlayerID()
	assert.True(t, ok)
	assert.Equal(t, "p2", id)

	l := &Link{slot: Unassigned()}
	require.NoError(t, l.assign("p2"))
	assert.Error(t, l.assign("p3"))
}

func TestHostStartsWithPendingSlot(t *testing.T) {
	f := newHostFixture()
	slot, ok := f.host.Pending()
	require.True(t, ok)
	assert.Equal(t, Unassigned(), slot)
	assert.Empty(t, f.host.Peers())
}

func TestHostMakeOfferRenamesPendingAndSendsOffer(t *testing.T) {
	f := newHostFixture()

	require.NoError(t, f.host.HandleMakeOffer("p2"))

	_, ok := f.host.Pending()
	assert.False(t, ok, "pending slot is consumed until the channel opens")

	link, ok := f.host.Link("p2")
	require.True(t, ok)
	assert.Equal(t, Assigned("p2"), link.Slot())

	peer := f.factory.Last()
	require.NotNil(t, peer.Local())
	assert.Equal(t, webrtc.SDPTypeOffer, peer.Local().Type)
	require.Len(t, peer.Channels(), 1)
	assert.Equal(t, transport.ChannelLabel, peer.Channels()[0].Label())

	offers := transporttest.OfType[protocol.Offer](f.broker)
	require.Len(t, offers, 1)
	assert.Equal(t, protocol.Offer{From: "p1", To: "p2", SDP: peer.Local().SDP}, offers[0])
}

func TestHostForwardsLocalCandidates(t *testing.T) {
	f := newHostFixture()
	require.NoError(t, f.host.HandleMakeOffer("p2"))

	f.factory.Last().EmitCandidate(candidate("candidate:1"))

	got := transporttest.OfType[protocol.Candidate](f.broker)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].From)
	assert.Equal(t, "p2", got[0].To)
	ci, err := decodeCandidate(got[0].Candidate)
	require.NoError(t, err)
	assert.Equal(t, "candidate:1", ci.Candidate)
}

func TestHostAppliesCandidatesInAnyOrder(t *testing.T) {
	f := newHostFixture()
	require.NoError(t, f.host.HandleMakeOffer("p2"))
	peer := f.factory.Last()

	require.NoError(t, f.host.HandleCandidate(candidateMsg(t, "p2", "p1", "early")))
	assert.Empty(t, peer.Candidates(), "held until the answer arrives")

	require.NoError(t, f.host.HandleAnswer(protocol.Answer{From: "p2", To: "p1", SDP: "answer"}))
	require.NotNil(t, peer.Remote())
	assert.Equal(t, webrtc.SDPTypeAnswer, peer.Remote().Type)

	require.NoError(t, f.host.HandleCandidate(candidateMsg(t, "p2", "p1", "late")))
	got := peer.Candidates()
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].Candidate)
	assert.Equal(t, "late", got[1].Candidate)
}

func TestHostRecreatesPendingOnOpen(t *testing.T) {
	f := newHostFixture()
	require.NoError(t, f.host.HandleMakeOffer("p2"))
	require.NoError(t, f.host.HandleAnswer(protocol.Answer{From: "p2", SDP: "answer"}))

	f.factory.Last().Channels()[0].Open()

	assert.Equal(t, []string{"p2"}, f.ev.opened)
	slot, ok := f.host.Pending()
	require.True(t, ok)
	assert.Equal(t, Unassigned(), slot)

	link, _ := f.host.Link("p2")
	assert.True(t, link.Open())
}

func TestHostDeliversMessagesAndClose(t *testing.T) {
	f := newHostFixture()
	require.NoError(t, f.host.HandleMakeOffer("p2"))

	hostSide := f.factory.Last().Channels()[0]
	peerSide := transporttest.NewChannel(transport.ChannelLabel)
	transporttest.Link(hostSide, peerSide)
	hostSide.Open()
	peerSide.Open()

	data, err := protocol.Binary.Encode(protocol.Chat{PlayerID: "p2", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, peerSide.Send(data))
	require.Len(t, f.ev.messages, 1)
	assert.Equal(t, protocol.Chat{PlayerID: "p2", Text: "hi"}, f.ev.messages[0])

	hostSide.Close()
	assert.Equal(t, []string{"p2"}, f.ev.closed)
	_, ok := f.host.Link("p2")
	assert.False(t, ok)
	assert.True(t, f.factory.Last().Closed())
}

func TestHostFailureAbortsOnlyThatPeer(t *testing.T) {
	f := newHostFixture()
	require.NoError(t, f.host.HandleMakeOffer("p2"))
	require.NoError(t, f.host.HandleMakeOffer("p3"))
	peers := f.factory.Peers()
	require.Len(t, peers, 2)

	peers[1].Fail(transporttest.StepSetRemote, errors.New("bad sdp"))
	err := f.host.HandleAnswer(protocol.Answer{From: "p3", SDP: "garbage"})

	var failure *errs.SignalingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "p3", failure.PlayerID)
	assert.Equal(t, StepAnswer, failure.Step)
	require.Len(t, f.ev.failures, 1)

	_, ok := f.host.Link("p3")
	assert.False(t, ok)
	assert.True(t, peers[1].Closed())
	assert.Empty(t, f.ev.closed, "aborted handshakes are failures, not closes")

	_, ok = f.host.Link("p2")
	assert.True(t, ok)
	assert.False(t, peers[0].Closed())
	require.NoError(t, f.host.HandleAnswer(protocol.Answer{From: "p2", SDP: "answer"}))

	_, ok = f.host.Pending()
	assert.True(t, ok)
}

func TestHostOfferFailure(t *testing.T) {
	f := newHostFixture()
	f.factory.FailWith(errors.New("no ice"))

	err := f.host.HandleMakeOffer("p2")
	var failure *errs.SignalingFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StepPeer, failure.Step)

	_, ok := f.host.Link("p2")
	assert.False(t, ok)
	_, ok = f.host.Pending()
	assert.True(t, ok)
}

func TestHostUnknownPeerSignals(t *testing.T) {
	f := newHostFixture()
	assert.Error(t, f.host.HandleAnswer(protocol.Answer{From: "ghost"}))
	assert.Error(t, f.host.HandleCandidate(candidateMsg(t, "ghost", "p1", "c")))
	assert.Error(t, f.host.HandleMakeOffer("p1"))
	assert.Error(t, f.host.HandleMakeOffer(""))
}

func TestHostRejoinReplacesLink(t *testing.T) {
	f := newHostFixture()
	require.NoError(t, f.host.HandleMakeOffer("p2"))
	first := f.factory.Last()
	require.NoError(t, f.host.HandleMakeOffer("p2"))

	assert.True(t, first.Closed())
	assert.Len(t, f.host.Peers(), 1)
	assert.Empty(t, f.ev.closed)
}

func TestHostClose(t *testing.T) {
	f := newHostFixture()
	require.NoError(t, f.host.HandleMakeOffer("p2"))
	require.NoError(t, f.host.HandleMakeOffer("p3"))
	f.factory.Peers()[0].Channels()[0].Open()

	require.NoError(t, f.host.Close())
	for _, p := range f.factory.Peers() {
		assert.True(t, p.Closed())
	}
	assert.Empty(t, f.host.Peers())
	assert.Empty(t, f.ev.closed)
}

type clientFixture struct {
	client  *Client
	factory *transporttest.Factory
	broker  *transporttest.Conn
	ev      *events
}

func newClientFixture() *clientFixture {
	f := &clientFixture{
		factory: &transporttest.Factory{},
		broker:  transporttest.NewConn("broker"),
		ev:      &events{},
	}
	f.client = NewClient(Params{
		SelfID:    "p2",
		Factory:   f.factory.New,
		Signal:    f.broker,
		Callbacks: f.ev.callbacks(),
	}, func() protocol.PlayerInfo {
		return protocol.PlayerInfo{ID: "p2", Name: "Bob"}
	})
	return f
}

func TestClientAnswersOffer(t *testing.T) {
	f := newClientFixture()
	require.NoError(t, f.client.Start("p1"))
	peer := f.factory.Last()

	require.NoError(t, f.client.HandleCandidate(candidateMsg(t, "p1", "p2", "early")))
	assert.Empty(t, peer.Candidates())

	require.NoError(t, f.client.HandleOffer(protocol.Offer{From: "p1", To: "p2", SDP: "offer"}))
	assert.Equal(t, webrtc.SDPTypeOffer, peer.Remote().Type)
	assert.Equal(t, webrtc.SDPTypeAnswer, peer.Local().Type)
	require.Len(t, peer.Candidates(), 1)

	answers := transporttest.OfType[protocol.Answer](f.broker)
	require.Len(t, answers, 1)
	assert.Equal(t, protocol.Answer{From: "p2", To: "p1", SDP: peer.Local().SDP}, answers[0])

	peer.EmitCandidate(candidate("mine"))
	cands := transporttest.OfType[protocol.Candidate](f.broker)
	require.Len(t, cands, 1)
	assert.Equal(t, "p1", cands[0].To)
}

func TestClientRejectsForeignOffer(t *testing.T) {
	f := newClientFixture()
	err := f.client.HandleOffer(protocol.Offer{From: "p1"})
	assert.Error(t, err, "not started")

	require.NoError(t, f.client.Start("p1"))
	err = f.client.HandleOffer(protocol.Offer{From: "p9", SDP: "x"})
	var failure *errs.SignalingFailure
	require.ErrorAs(t, err, &failure)
	assert.Nil(t, f.factory.Last().Remote())
}

func TestClientAnswerFailureAborts(t *testing.T) {
	f := newClientFixture()
	require.NoError(t, f.client.Start("p1"))
	f.factory.Last().Fail(transporttest.StepCreateAnswer, errors.New("boom"))

	err := f.client.HandleOffer(protocol.Offer{From: "p1", SDP: "offer"})
	require.Error(t, err)
	assert.Nil(t, f.client.Link())
	assert.True(t, f.factory.Last().Closed())
	assert.Len(t, f.ev.failures, 1)
	assert.Empty(t, f.ev.closed)
}

func TestClientAnnouncesOnOpen(t *testing.T) {
	f := newClientFixture()
	require.NoError(t, f.client.Start("p1"))

	hostSide := transporttest.NewChannel(transport.ChannelLabel)
	hostConn := transport.NewChannelConn(hostSide, "p2", nil)
	var atHost []protocol.Message
	hostConn.OnMessage(func(m protocol.Message) { atHost = append(atHost, m) })

	clientSide := transporttest.NewChannel(transport.ChannelLabel)
	transporttest.Link(hostSide, clientSide)
	f.factory.Last().AnnounceChannel(clientSide)
	hostSide.Open()
	clientSide.Open()

	assert.Equal(t, []string{"p1"}, f.ev.opened)
	require.Len(t, atHost, 1)
	assert.Equal(t, protocol.JoinAnnounce{Player: protocol.PlayerInfo{ID: "p2", Name: "Bob"}}, atHost[0])
	assert.Empty(t, transporttest.OfType[protocol.JoinAnnounce](f.broker), "announcement bypasses the broker")

	clientSide.Close()
	assert.Equal(t, []string{"p1"}, f.ev.closed)
	assert.Nil(t, f.client.Link())
}

func TestClientPeerFailureCloses(t *testing.T) {
	f := newClientFixture()
	require.NoError(t, f.client.Start("p1"))
	f.factory.Last().SetConnectionState(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, []string{"p1"}, f.ev.closed)
}

// Full handshake between a host and a client orchestrator with the broker
// replaced by direct routing on the To field.
func TestHandshakeEndToEnd(t *testing.T) {
	hostFactory := &transporttest.Factory{}
	clientFactory := &transporttest.Factory{}
	hostEv, clientEv := &events{}, &events{}

	var host *Host
	var client *Client
	route := &router{}

	host = NewHost(Params{SelfID: "p1", Factory: hostFactory.New, Signal: route.to("p2"), Callbacks: hostEv.callbacks()})
	client = NewClient(Params{SelfID: "p2", Factory: clientFactory.New, Signal: route.to("p1"), Callbacks: clientEv.callbacks()},
		func() protocol.PlayerInfo { return protocol.PlayerInfo{ID: "p2", Name: "Bob"} })
	route.host, route.client = host, client

	require.NoError(t, client.Start("p1"))
	require.NoError(t, host.HandleMakeOffer("p2"))

	hostPeer, clientPeer := hostFactory.Last(), clientFactory.Last()
	require.NotNil(t, clientPeer.Remote(), "offer reached the client")
	require.NotNil(t, hostPeer.Remote(), "answer reached the host")

	hostPeer.EmitCandidate(candidate("h1"))
	clientPeer.EmitCandidate(candidate("c1"))
	assert.Len(t, clientPeer.Candidates(), 1)
	assert.Len(t, hostPeer.Candidates(), 1)

	hostSide := hostPeer.Channels()[0]
	clientSide := transporttest.NewChannel(transport.ChannelLabel)
	transporttest.Link(hostSide, clientSide)
	clientPeer.AnnounceChannel(clientSide)
	hostSide.Open()
	clientSide.Open()

	assert.Equal(t, []string{"p2"}, hostEv.opened)
	assert.Equal(t, []string{"p1"}, clientEv.opened)
	require.Len(t, hostEv.messages, 1)
	announce, ok := hostEv.messages[0].(protocol.JoinAnnounce)
	require.True(t, ok)
	assert.Equal(t, "p2", announce.Player.ID)

	_, ok = host.Pending()
	assert.True(t, ok)
}

// router delivers signaling messages straight to the addressed orchestrator.
type router struct {
	host   *Host
	client *Client
}

type routed struct {
	r  *router
	to string
}

func (r *router) to(id string) Signaler { return routed{r: r, to: id} }

func (s routed) Send(m protocol.Message) error {
	switch v := m.(type) {
	case protocol.Offer:
		return s.r.client.HandleOffer(v)
	case protocol.Answer:
		return s.r.host.HandleAnswer(v)
	case protocol.Candidate:
		if v.To == "p1" {
			return s.r.host.HandleCandidate(v)
		}
		return s.r.client.HandleCandidate(v)
	}
	return nil
}
