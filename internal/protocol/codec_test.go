package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/1ureka/worldlink/internal/errs"
)

var (
	samplePlayer = PlayerInfo{
		ID:       "p1",
		Name:     "Ann",
		Color:    "#ff8800",
		Position: Vec3{X: 1.5, Y: 0, Z: -3.25},
		Rotation: Quat{X: 0, Y: 0.7071, Z: 0, W: 0.7071},
	}
	sampleObject = ObjectState{
		ID:       "o-42",
		Kind:     "crate",
		Position: Vec3{X: 4, Y: 1, Z: 2},
		Rotation: IdentityQuat,
		Scale:    Vec3{X: 1, Y: 1, Z: 1},
		Color:    "#00ff00",
	}
)

// sampleMessages holds one populated value per variant.
func sampleMessages() []Message {
	return []Message{
		Ping{PlayerID: "p1", Timestamp: 123456789, Ping: 42.5},
		Pong{PlayerID: "p1", Timestamp: 123456789},
		Error{Reason: "game not found"},
		DedicatedJoin{GameID: "G1", Player: PlayerInfo{Name: "Ann", Rotation: IdentityQuat}},
		DedicatedJoined{Game: GameInfo{ID: "G1", Name: "G1", Players: []PlayerInfo{}}, Player: samplePlayer},
		JoinRequest{GameID: "G2", PlayerID: "p2"},
		Joined{GameID: "G2", IsHost: false, HostID: "p1"},
		HostRequest{GameID: "G2", PlayerID: "p1"},
		HostConfirmed{GameID: "G2", IsHost: true},
		HostDeparted{HostID: "p1"},
		MakeOffer{PlayerID: "p2"},
		Offer{From: "p1", To: "p2", SDP: "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"},
		Answer{From: "p2", To: "p1", SDP: "v=0\r\n"},
		Candidate{From: "p1", To: "p2", Candidate: `{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}`},
		Chat{PlayerID: "p1", Name: "Ann", Text: "hello ✓"},
		PlayerJoined{Player: samplePlayer},
		PlayerUpdated{PlayerID: "p1", Position: Vec3{X: 1}, Rotation: IdentityQuat},
		PlayerLeft{PlayerID: "p1"},
		ObjectAdded{PlayerID: "p1", Object: sampleObject},
		ObjectUpdated{PlayerID: "p1", Object: sampleObject},
		ObjectRemoved{PlayerID: "p1", ObjectID: "o-42"},
		PlayerPing{PlayerID: "p2", Ping: 17.25},
		JoinedGame{Game: GameInfo{ID: "G2", Name: "G2", Players: []PlayerInfo{samplePlayer}}, Player: samplePlayer},
		JoinAnnounce{Player: samplePlayer},
		UpdatePlayer{PlayerID: "p2", Position: Vec3{Y: 2}, Rotation: IdentityQuat},
		AddObject{PlayerID: "p2", Object: sampleObject},
		UpdateObject{PlayerID: "p2", Object: sampleObject},
		RemoveObject{PlayerID: "p2", ObjectID: "o-42"},
		Leave{PlayerID: "p2"},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []Codec{Binary, Text} {
		for _, m := range sampleMessages() {
			t.Run(codec.Name()+"/"+m.Type().String(), func(t *testing.T) {
				data, err := codec.Encode(m)
				require.NoError(t, err)

				got, err := codec.Decode(data)
				require.NoError(t, err)
				assert.Equal(t, m, got)
			})
		}
	}
}

func TestEveryVariantIsCatalogued(t *testing.T) {
	seen := make(map[Type]bool)
	for _, m := range sampleMessages() {
		require.False(t, seen[m.Type()], "duplicate code %d", m.Type())
		seen[m.Type()] = true
		assert.NotContains(t, m.Type().String(), "type(", "code %d has no name", m.Type())
		assert.NotEqual(t, NamespaceUnknown, m.Type().Namespace())
	}
	assert.Len(t, seen, len(typeNames))
}

func TestTextCodecIsFlatJSON(t *testing.T) {
	data, err := Text.Encode(JoinRequest{GameID: "G2", PlayerID: "p2"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, float64(TypeJoinRequest), fields["type"])
	assert.Equal(t, "G2", fields["game_id"])
	assert.Equal(t, "p2", fields["player_id"])
}

func TestBinaryCodecIsCompressedMsgpack(t *testing.T) {
	m := Chat{PlayerID: "p1", Name: "Ann", Text: strings.Repeat("spam ", 200)}

	data, err := Binary.Encode(m)
	require.NoError(t, err)

	plain, err := msgpack.Marshal(m)
	require.NoError(t, err)
	assert.Less(t, len(data), len(plain), "compressed frame should be smaller than the raw pack")

	// zlib header: CMF byte 0x78.
	assert.Equal(t, byte(0x78), data[0])
}

func TestBinaryEncodingIsDeterministic(t *testing.T) {
	m := JoinedGame{Game: GameInfo{ID: "G", Players: []PlayerInfo{samplePlayer}}, Player: samplePlayer}

	a, err := Binary.Encode(m)
	require.NoError(t, err)
	b, err := Binary.Encode(m)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestDecodeUnknownTypeIsProtocolError(t *testing.T) {
	var pe *errs.ProtocolError

	_, err := Text.Decode([]byte(`{"type":250,"foo":1}`))
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 250, pe.Code)

	_, err = Text.Decode([]byte(`{"foo":1}`))
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, -1, pe.Code)
}

func TestDecodeMalformedIsProtocolError(t *testing.T) {
	var pe *errs.ProtocolError

	cases := map[string]struct {
		codec Codec
		data  []byte
	}{
		"binary empty":       {Binary, nil},
		"binary not zlib":    {Binary, []byte{0x01, 0x02, 0x03}},
		"text empty":         {Text, nil},
		"text not json":      {Text, []byte("not json")},
		"text wrong shape":   {Text, []byte(`{"type":40,"text":12}`)},
		"text type not code": {Text, []byte(`{"type":"chat"}`)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.codec.Decode(tc.data)
			require.Error(t, err)
			assert.True(t, errors.As(err, &pe), "got %T", err)
		})
	}
}

func TestRetag(t *testing.T) {
	up := UpdatePlayer{PlayerID: "p2", Position: Vec3{X: 3}}
	assert.Equal(t, PlayerUpdated{PlayerID: "p2", Position: Vec3{X: 3}}, AsBroadcast(up))
	assert.Equal(t, up, AsAction(AsBroadcast(up)))

	assert.Equal(t, ObjectAdded{PlayerID: "p", Object: sampleObject}, AsBroadcast(AddObject{PlayerID: "p", Object: sampleObject}))
	assert.Equal(t, ObjectUpdated{PlayerID: "p"}, AsBroadcast(UpdateObject{PlayerID: "p"}))
	assert.Equal(t, ObjectRemoved{ObjectID: "o"}, AsBroadcast(RemoveObject{ObjectID: "o"}))
	assert.Equal(t, PlayerLeft{PlayerID: "p"}, AsBroadcast(Leave{PlayerID: "p"}))

	// Messages without a counterpart pass through.
	chat := Chat{Text: "hi"}
	assert.Equal(t, chat, AsBroadcast(chat))
	assert.Equal(t, chat, AsAction(chat))
}

func TestWithSenderCopies(t *testing.T) {
	orig := UpdatePlayer{PlayerID: "p3"}
	var a Attributed = orig
	replaced := a.WithSender("p2")

	assert.Equal(t, "p3", orig.PlayerID)
	assert.Equal(t, "p2", replaced.(Attributed).Sender())
}
