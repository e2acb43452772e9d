package session

import (
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/world"
)

// GameSession is one running game: its roster and the world it mutates.
// It exists from hosting or joining until disconnect.
type GameSession struct {
	ID     string
	Name   string
	Roster *Registry
	World  world.World

	// SelfID is the local player's id, empty on a dedicated server.
	SelfID string
	// HostID names the mesh host; empty outside mesh mode.
	HostID string
}

// NewGameSession creates a session with an empty roster.
func NewGameSession(id, name string, w world.World, newID func() string) *GameSession {
	if name == "" {
		name = id
	}
	return &GameSession{
		ID:     id,
		Name:   name,
		Roster: NewRegistry(newID),
		World:  w,
	}
}

// Info returns the public game description with the full roster.
func (g *GameSession) Info() protocol.GameInfo {
	return protocol.GameInfo{ID: g.ID, Name: g.Name, Players: g.Roster.ListPlayers()}
}

// InfoExcept returns the game description without the given player.
func (g *GameSession) InfoExcept(id string) protocol.GameInfo {
	players := make([]protocol.PlayerInfo, 0, g.Roster.Len())
	for _, p := range g.Roster.ListPlayers() {
		if p.ID != id {
			players = append(players, p)
		}
	}
	return protocol.GameInfo{ID: g.ID, Name: g.Name, Players: players}
}

// Self returns the local player.
func (g *GameSession) Self() (*Player, bool) {
	if g.SelfID == "" {
		return nil, false
	}
	return g.Roster.Get(g.SelfID)
}
