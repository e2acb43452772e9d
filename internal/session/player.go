// Package session holds the authoritative roster of connected players and
// the game session that owns it.
package session

import (
	"time"

	"github.com/1ureka/worldlink/internal/latency"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
)

// Player is a roster entry. Conn and Control are set only on the server or
// host side and never leave this process.
type Player struct {
	ID       string
	Name     string
	Color    string
	Position protocol.Vec3
	Rotation protocol.Quat

	Conn    transport.Conn
	Control *Control

	rtt          *latency.Window
	reportedPing float64
}

// Control tracks the pose stream driving a remotely controlled avatar.
type Control struct {
	Updates    uint64
	LastUpdate time.Time
}

// Info returns the public projection of p.
func (p *Player) Info() protocol.PlayerInfo {
	return protocol.PlayerInfo{
		ID:       p.ID,
		Name:     p.Name,
		Color:    p.Color,
		Position: p.Position,
		Rotation: p.Rotation,
	}
}

// SetPose moves the player and counts the update on its control, if any.
func (p *Player) SetPose(pos protocol.Vec3, rot protocol.Quat, now time.Time) {
	p.Position = pos
	p.Rotation = rot
	if p.Control != nil {
		p.Control.Updates++
		p.Control.LastUpdate = now
	}
}

// RTT returns the window holding the RTT samples measured against this
// player. The window may be shared with a latency.Prober.
func (p *Player) RTT() *latency.Window {
	if p.rtt == nil {
		p.rtt = &latency.Window{}
	}
	return p.rtt
}

// AdoptRTT makes p continue the sample history of prev. Used when the local
// player is re-registered under an id the authority assigned.
func (p *Player) AdoptRTT(prev *Player) {
	p.rtt = prev.RTT()
}

// RecordRTT adds a round-trip sample and returns the new rolling mean.
func (p *Player) RecordRTT(rtt time.Duration) time.Duration {
	return p.RTT().Push(rtt)
}

// Ping is the arithmetic mean of the most recent RTT samples measured
// against this player, or 0 before the first sample.
func (p *Player) Ping() time.Duration {
	return p.RTT().Mean()
}

// SetReportedPing stores the ping the player measured and announced itself,
// in milliseconds.
func (p *Player) SetReportedPing(ms float64) {
	p.reportedPing = ms
}

// ReportedPing returns the self-announced ping in milliseconds.
func (p *Player) ReportedPing() float64 {
	return p.reportedPing
}
