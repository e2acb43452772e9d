package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/transport/transporttest"
)

func linkedConns(t *testing.T) (a, b *transport.ChannelConn, rawA, rawB *transporttest.Channel) {
	t.Helper()
	rawA = transporttest.NewChannel(transport.ChannelLabel)
	rawB = transporttest.NewChannel(transport.ChannelLabel)
	transporttest.Link(rawA, rawB)
	return transport.NewChannelConn(rawA, "b", nil), transport.NewChannelConn(rawB, "a", nil), rawA, rawB
}

// signal returns a channel closed by the hook it is registered with.
func signal(register func(func())) <-chan struct{} {
	ch := make(chan struct{})
	register(func() { close(ch) })
	return ch
}

func TestChannelConnDeliversDecodedMessages(t *testing.T) {
	a, b, rawA, rawB := linkedConns(t)

	var got []protocol.Message
	b.OnMessage(func(m protocol.Message) { got = append(got, m) })
	opened := signal(a.OnOpen)

	rawA.Open()
	rawB.Open()
	<-opened
	assert.Equal(t, transport.StateOpen, a.State())

	require.NoError(t, a.Send(protocol.Chat{PlayerID: "p1", Name: "Ann", Text: "hi"}))
	require.NoError(t, a.Send(protocol.PlayerLeft{PlayerID: "p1"}))

	require.Len(t, got, 2)
	assert.Equal(t, protocol.Chat{PlayerID: "p1", Name: "Ann", Text: "hi"}, got[0])
	assert.Equal(t, protocol.PlayerLeft{PlayerID: "p1"}, got[1])
}

func TestChannelConnSkipsSendBeforeOpen(t *testing.T) {
	a, _, rawA, _ := linkedConns(t)

	assert.Equal(t, transport.StateConnecting, a.State())
	require.NoError(t, a.Send(protocol.Chat{Text: "early"}))
	assert.Zero(t, rawA.SentCount())
}

func TestChannelConnSkipsSendAfterClose(t *testing.T) {
	a, _, rawA, _ := linkedConns(t)
	rawA.Open()
	closed := signal(a.OnClose)

	require.NoError(t, a.Close())
	<-closed
	assert.Equal(t, transport.StateClosed, a.State())

	require.NoError(t, a.Send(protocol.Chat{Text: "late"}))
	assert.Zero(t, rawA.SentCount())
	require.NoError(t, a.Close())
}

func TestChannelConnRemoteCloseRunsOnClose(t *testing.T) {
	a, _, rawA, _ := linkedConns(t)
	rawA.Open()
	closed := signal(a.OnClose)

	rawA.Close()
	select {
	case <-closed:
	default:
		t.Fatal("OnClose did not run")
	}

	late := signal(a.OnClose)
	select {
	case <-late:
	default:
		t.Fatal("OnClose after close did not run immediately")
	}
}

func TestChannelConnDropsMalformed(t *testing.T) {
	_, b, _, rawB := linkedConns(t)

	calls := 0
	b.OnMessage(func(protocol.Message) { calls++ })
	rawB.Deliver([]byte("not zlib"))
	assert.Zero(t, calls)
}

func TestChannelConnAlreadyOpen(t *testing.T) {
	raw := transporttest.NewChannel(transport.ChannelLabel)
	raw.Open()
	c := transport.NewChannelConn(raw, "x", nil)
	assert.Equal(t, transport.StateOpen, c.State())

	select {
	case <-signal(c.OnOpen):
	default:
		t.Fatal("OnOpen on an open channel did not run immediately")
	}
}
