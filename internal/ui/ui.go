// Package ui defines what the sync layer reports to the user interface and
// provides a terminal implementation.
package ui

import "github.com/1ureka/worldlink/internal/protocol"

// UI receives display updates. Implementations must tolerate calls from any
// goroutine.
type UI interface {
	AppendChat(from, text string)
	RefreshRoster(players []protocol.PlayerInfo)
	ReportPing(playerID string, ms float64)
	ReportConnectFailure(reason string)
}

// Nop discards every update.
type Nop struct{}

func (Nop) AppendChat(string, string)           {}
func (Nop) RefreshRoster([]protocol.PlayerInfo) {}
func (Nop) ReportPing(string, float64)          {}
func (Nop) ReportConnectFailure(string)         {}
