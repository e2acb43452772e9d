// Package uitest provides a recording UI for tests.
package uitest

import (
	"sync"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/ui"
)

var _ ui.UI = (*Recorder)(nil)

// Chat is one recorded chat entry.
type Chat struct {
	From string
	Text string
}

// Recorder keeps every update it receives.
type Recorder struct {
	mu       sync.Mutex
	chats    []Chat
	rosters  [][]protocol.PlayerInfo
	pings    map[string]float64
	failures []string
}

func (r *Recorder) AppendChat(from, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, Chat{From: from, Text: text})
}

func (r *Recorder) RefreshRoster(players []protocol.PlayerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rosters = append(r.rosters, append([]protocol.PlayerInfo(nil), players...))
}

func (r *Recorder) ReportPing(playerID string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pings == nil {
		r.pings = make(map[string]float64)
	}
	r.pings[playerID] = ms
}

func (r *Recorder) ReportConnectFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func (r *Recorder) Chats() []Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chat(nil), r.chats...)
}

// Roster returns the most recent roster, or nil.
func (r *Recorder) Roster() []protocol.PlayerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rosters) == 0 {
		return nil
	}
	return r.rosters[len(r.rosters)-1]
}

func (r *Recorder) Ping(playerID string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.pings[playerID]
	return ms, ok
}

func (r *Recorder) Failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.failures...)
}
