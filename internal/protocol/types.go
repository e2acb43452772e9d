// Package protocol defines the message catalogue exchanged between clients,
// the dedicated server and the signaling broker, together with its two codecs.
package protocol

import "fmt"

// Type is the wire discriminator carried in the "type" key of every envelope.
type Type uint8

// Control.
const (
	TypePing  Type = 1
	TypePong  Type = 2
	TypeError Type = 3
)

// Dedicated-server join.
const (
	TypeDedicatedJoin   Type = 10
	TypeDedicatedJoined Type = 11
)

// Mesh join/host.
const (
	TypeJoinRequest   Type = 20
	TypeJoined        Type = 21
	TypeHostRequest   Type = 22
	TypeHostConfirmed Type = 23
	TypeHostDeparted  Type = 24
)

// Connection signals, relayed by the broker.
const (
	TypeMakeOffer Type = 30
	TypeOffer     Type = 31
	TypeAnswer    Type = 32
	TypeCandidate Type = 33
)

// In-game broadcasts.
const (
	TypeChat          Type = 40
	TypePlayerJoined  Type = 41
	TypePlayerUpdated Type = 42
	TypePlayerLeft    Type = 43
	TypeObjectAdded   Type = 44
	TypeObjectUpdated Type = 45
	TypeObjectRemoved Type = 46
	TypePlayerPing    Type = 47
	TypeJoinedGame    Type = 48
)

// In-game actions: client-to-authority requests.
const (
	TypeJoinAnnounce Type = 60
	TypeUpdatePlayer Type = 61
	TypeAddObject    Type = 62
	TypeUpdateObject Type = 63
	TypeRemoveObject Type = 64
	TypeLeave        Type = 65
)

// Namespace groups type codes by the range they belong to.
type Namespace uint8

const (
	NamespaceUnknown Namespace = iota
	NamespaceControl
	NamespaceDedicated
	NamespaceMesh
	NamespaceSignal
	NamespaceBroadcast
	NamespaceAction
)

// Namespace reports which range t falls in.
func (t Type) Namespace() Namespace {
	switch {
	case t >= 1 && t <= 9:
		return NamespaceControl
	case t >= 10 && t <= 19:
		return NamespaceDedicated
	case t >= 20 && t <= 29:
		return NamespaceMesh
	case t >= 30 && t <= 39:
		return NamespaceSignal
	case t >= 40 && t <= 59:
		return NamespaceBroadcast
	case t >= 60 && t <= 79:
		return NamespaceAction
	}
	return NamespaceUnknown
}

var typeNames = map[Type]string{
	TypePing:            "ping",
	TypePong:            "pong",
	TypeError:           "error",
	TypeDedicatedJoin:   "dedicated-join",
	TypeDedicatedJoined: "dedicated-joined",
	TypeJoinRequest:     "join-request",
	TypeJoined:          "joined",
	TypeHostRequest:     "host-request",
	TypeHostConfirmed:   "host-confirmed",
	TypeHostDeparted:    "host-departed",
	TypeMakeOffer:       "make-offer",
	TypeOffer:           "offer",
	TypeAnswer:          "answer",
	TypeCandidate:       "candidate",
	TypeChat:            "chat",
	TypePlayerJoined:    "player-joined",
	TypePlayerUpdated:   "player-updated",
	TypePlayerLeft:      "player-left",
	TypeObjectAdded:     "object-added",
	TypeObjectUpdated:   "object-updated",
	TypeObjectRemoved:   "object-removed",
	TypePlayerPing:      "player-ping",
	TypeJoinedGame:      "joined-game",
	TypeJoinAnnounce:    "join-announce",
	TypeUpdatePlayer:    "update-player",
	TypeAddObject:       "add-object",
	TypeUpdateObject:    "update-object",
	TypeRemoveObject:    "remove-object",
	TypeLeave:           "leave",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}
