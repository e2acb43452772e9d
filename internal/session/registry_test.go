package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport/transporttest"
	"github.com/1ureka/worldlink/internal/world"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("p%d", n)
	}
}

func TestAddPlayerGeneratesID(t *testing.T) {
	r := NewRegistry(sequentialIDs())

	p, err := r.AddPlayer(protocol.PlayerInfo{ID: "spoofed", Name: "Ann"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "Ann", p.Name)

	_, ok := r.Get("spoofed")
	assert.False(t, ok)
}

func TestAddPlayerTrustsRemoteID(t *testing.T) {
	r := NewRegistry(sequentialIDs())

	p, err := r.AddPlayer(protocol.PlayerInfo{ID: "remote-7", Name: "Bob"}, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "remote-7", p.ID)

	_, err = r.AddPlayer(protocol.PlayerInfo{Name: "Nobody"}, nil, true)
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = r.AddPlayer(protocol.PlayerInfo{ID: "remote-7"}, nil, true)
	assert.ErrorIs(t, err, ErrDuplicatePlayer)
}

func TestAddPlayerDefaultIDsAreUnique(t *testing.T) {
	r := NewRegistry(nil)
	a, err := r.AddPlayer(protocol.PlayerInfo{Name: "a"}, nil, false)
	require.NoError(t, err)
	b, err := r.AddPlayer(protocol.PlayerInfo{Name: "b"}, nil, false)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAddPlayerAttachesConnection(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	conn := transporttest.NewConn("ann")

	p, err := r.AddPlayer(protocol.PlayerInfo{Name: "Ann"}, conn, false)
	require.NoError(t, err)
	assert.Same(t, conn, p.Conn)
	require.NotNil(t, p.Control)

	found, ok := r.Get(p.ID)
	require.True(t, ok)
	assert.Same(t, conn, found.Conn)

	local, _ := r.AddPlayer(protocol.PlayerInfo{Name: "Local"}, nil, false)
	assert.Nil(t, local.Control)
}

func TestRemovePlayer(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	r.AddPlayer(protocol.PlayerInfo{Name: "a"}, nil, false)
	r.AddPlayer(protocol.PlayerInfo{Name: "b"}, nil, false)

	removed, ok := r.RemovePlayer("p1")
	require.True(t, ok)
	assert.Equal(t, "a", removed.Name)
	assert.Equal(t, 1, r.Len())

	_, ok = r.RemovePlayer("p1")
	assert.False(t, ok)
}

func TestListPlayersIsPublicProjection(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	r.AddPlayer(protocol.PlayerInfo{Name: "a", Color: "#f00", Rotation: protocol.IdentityQuat}, transporttest.NewConn("a"), false)
	r.AddPlayer(protocol.PlayerInfo{Name: "b"}, nil, false)

	list := r.ListPlayers()
	require.Len(t, list, 2)
	assert.Equal(t, protocol.PlayerInfo{ID: "p1", Name: "a", Color: "#f00", Rotation: protocol.IdentityQuat}, list[0])
	assert.Equal(t, "p2", list[1].ID)
}

func TestPlayerPingIsMeanOfRecentSamples(t *testing.T) {
	p := &Player{ID: "p1"}
	assert.Equal(t, time.Duration(0), p.Ping())

	for _, ms := range []int{100, 10, 20, 30, 40, 50} {
		p.RecordRTT(time.Duration(ms) * time.Millisecond)
	}
	assert.Equal(t, 30*time.Millisecond, p.Ping())

	p.SetReportedPing(42.5)
	assert.Equal(t, 42.5, p.ReportedPing())
}

func TestPlayerRTTWindowIsShared(t *testing.T) {
	r := NewRegistry(sequentialIDs())
	first, err := r.AddPlayer(protocol.PlayerInfo{Name: "a"}, nil, false)
	require.NoError(t, err)

	first.RTT().Push(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, first.Ping())

	second, err := r.AddPlayer(protocol.PlayerInfo{ID: "s1", Name: "a"}, nil, true)
	require.NoError(t, err)
	second.AdoptRTT(first)
	second.RecordRTT(40 * time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, second.Ping())
	assert.Equal(t, 2, first.RTT().Len())
}

func TestSetPoseCountsControlUpdates(t *testing.T) {
	now := time.Unix(100, 0)
	p := &Player{ID: "p1", Control: &Control{}}
	p.SetPose(protocol.Vec3{X: 1}, protocol.IdentityQuat, now)
	p.SetPose(protocol.Vec3{X: 2}, protocol.IdentityQuat, now)

	assert.Equal(t, 2.0, p.Position.X)
	assert.Equal(t, uint64(2), p.Control.Updates)
	assert.Equal(t, now, p.Control.LastUpdate)
}

func TestGameSessionInfo(t *testing.T) {
	g := NewGameSession("G1", "", world.NewScene(), sequentialIDs())
	assert.Equal(t, "G1", g.Name)

	g.Roster.AddPlayer(protocol.PlayerInfo{Name: "a"}, nil, false)
	g.Roster.AddPlayer(protocol.PlayerInfo{Name: "b"}, nil, false)
	g.SelfID = "p2"

	assert.Len(t, g.Info().Players, 2)
	except := g.InfoExcept("p2")
	require.Len(t, except.Players, 1)
	assert.Equal(t, "p1", except.Players[0].ID)

	self, ok := g.Self()
	require.True(t, ok)
	assert.Equal(t, "b", self.Name)
}
