package latency

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/worldlink/internal/protocol"
)

func newTestProber(t *testing.T, mock *clock.Mock) (*Prober, chan protocol.Ping) {
	t.Helper()
	pings := make(chan protocol.Ping, 16)
	p := NewProber(ProberParams{
		Clock:    mock,
		PlayerID: func() string { return "p1" },
		Emit:     func(m protocol.Ping) { pings <- m },
	})
	t.Cleanup(p.Stop)
	return p, pings
}

func waitPing(t *testing.T, pings chan protocol.Ping) protocol.Ping {
	t.Helper()
	select {
	case m := <-pings:
		return m
	case <-time.After(time.Second):
		t.Fatal("no ping emitted")
		return protocol.Ping{}
	}
}

func TestProberEmitsOnInterval(t *testing.T) {
	mock := clock.NewMock()
	p, pings := newTestProber(t, mock)

	p.Start()
	mock.Add(DefaultInterval)

	m := waitPing(t, pings)
	assert.Equal(t, "p1", m.PlayerID)
	assert.Equal(t, int64(DefaultInterval), m.Timestamp)
	assert.Zero(t, m.Ping)
}

func TestProberEchoComputesRTT(t *testing.T) {
	mock := clock.NewMock()
	p, _ := newTestProber(t, mock)

	sent := p.Now()
	mock.Add(30 * time.Millisecond)
	mean, ok := p.HandleEcho(sent)
	require.True(t, ok)
	assert.Equal(t, 30*time.Millisecond, mean)

	sent = p.Now()
	mock.Add(10 * time.Millisecond)
	mean, _ = p.HandleEcho(sent)
	assert.Equal(t, 20*time.Millisecond, mean)
	assert.Equal(t, 20*time.Millisecond, p.Ping())
}

func TestProberIgnoresFutureEcho(t *testing.T) {
	mock := clock.NewMock()
	p, _ := newTestProber(t, mock)

	_, ok := p.HandleEcho(p.Now() + int64(time.Second))
	assert.False(t, ok)
	assert.Equal(t, time.Duration(0), p.Ping())
}

func TestProberReportsKnownPing(t *testing.T) {
	mock := clock.NewMock()
	p, pings := newTestProber(t, mock)

	sent := p.Now()
	mock.Add(8 * time.Millisecond)
	p.HandleEcho(sent)

	p.Probe()
	m := waitPing(t, pings)
	assert.InDelta(t, 8.0, m.Ping, 1e-9)
}

func TestProberRestartResetsInterval(t *testing.T) {
	mock := clock.NewMock()
	p, pings := newTestProber(t, mock)

	p.Start()
	mock.Add(4 * time.Second)
	p.Start()
	assert.True(t, p.Running())

	// the first timer would have fired here
	mock.Add(2 * time.Second)
	select {
	case <-pings:
		t.Fatal("restart stacked a second timer")
	case <-time.After(20 * time.Millisecond):
	}

	mock.Add(3 * time.Second)
	waitPing(t, pings)

	select {
	case <-pings:
		t.Fatal("more than one ping per interval")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestProberStop(t *testing.T) {
	mock := clock.NewMock()
	p, pings := newTestProber(t, mock)

	p.Start()
	p.Stop()
	p.Stop()
	assert.False(t, p.Running())

	mock.Add(2 * DefaultInterval)
	select {
	case <-pings:
		t.Fatal("stopped prober emitted")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestProberSharedWindow(t *testing.T) {
	mock := clock.NewMock()
	w := &Window{}
	p := NewProber(ProberParams{Clock: mock, Window: w})

	sent := p.Now()
	mock.Add(12 * time.Millisecond)
	p.HandleEcho(sent)
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 12*time.Millisecond, w.Mean())
}
