package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/worldlink/internal/latency"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/util"
)

var (
	// ErrDuplicatePlayer is returned when an id is already on the roster.
	ErrDuplicatePlayer = errors.New("player already registered")
	// ErrMissingID is returned when a trusted descriptor carries no id.
	ErrMissingID = errors.New("trusted descriptor has no id")
)

// Registry is the in-memory roster. It is not safe for concurrent use; the
// owning event loop serializes every call.
type Registry struct {
	players map[string]*Player
	order   []string
	newID   func() string
}

// NewRegistry returns an empty roster. newID generates ids for untrusted
// registrations and defaults to random UUIDs.
func NewRegistry(newID func() string) *Registry {
	if newID == nil {
		newID = util.NewID
	}
	return &Registry{
		players: make(map[string]*Player),
		newID:   newID,
	}
}

// AddPlayer constructs a Player from desc's public fields. With trustRemoteID
// the descriptor's id is kept; otherwise a fresh id is generated. A non-nil
// conn is attached together with an input control.
func (r *Registry) AddPlayer(desc protocol.PlayerInfo, conn transport.Conn, trustRemoteID bool) (*Player, error) {
	id := desc.ID
	if trustRemoteID {
		if id == "" {
			return nil, ErrMissingID
		}
	} else {
		id = r.newID()
	}
	if _, ok := r.players[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePlayer, id)
	}

	p := &Player{
		ID:       id,
		Name:     desc.Name,
		Color:    desc.Color,
		Position: desc.Position,
		Rotation: desc.Rotation,
		rtt:      &latency.Window{},
	}
	if conn != nil {
		p.Conn = conn
		p.Control = &Control{}
	}

	r.players[id] = p
	r.order = append(r.order, id)
	return p, nil
}

// RemovePlayer deletes the entry unconditionally and returns what was removed.
func (r *Registry) RemovePlayer(id string) (*Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return nil, false
	}
	delete(r.players, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, true
}

// Get returns the player with the given id.
func (r *Registry) Get(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Len returns the roster size.
func (r *Registry) Len() int {
	return len(r.players)
}

// ListPlayers returns the public projection of every player in join order.
func (r *Registry) ListPlayers() []protocol.PlayerInfo {
	out := make([]protocol.PlayerInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id].Info())
	}
	return out
}

// Players returns the entries in join order. For in-process bookkeeping only.
func (r *Registry) Players() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}
