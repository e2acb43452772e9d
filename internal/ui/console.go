package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/util"
)

// Console renders updates to the terminal with pterm.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	pings  map[string]float64
	roster []protocol.PlayerInfo
}

// NewConsole writes to out, or stdout when nil.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, pings: make(map[string]float64)}
}

func (c *Console) AppendChat(from, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s\n", pterm.FgCyan.Sprintf("<%s>", from), text)
}

func (c *Console) RefreshRoster(players []protocol.PlayerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = append(c.roster[:0], players...)
	live := make(map[string]bool, len(players))
	for _, p := range players {
		live[p.ID] = true
	}
	for id := range c.pings {
		if !live[id] {
			delete(c.pings, id)
		}
	}
}

func (c *Console) ReportPing(playerID string, ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings[playerID] = ms
}

func (c *Console) ReportConnectFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, pterm.Error.Sprint(reason))
}

// PrintRoster renders the last roster with known pings as a table.
func (c *Console) PrintRoster() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := pterm.TableData{{"ID", "Name", "Color", "Position", "Ping"}}
	for _, p := range c.roster {
		ping := "-"
		if ms, ok := c.pings[p.ID]; ok {
			ping = fmt.Sprintf("%.1f ms", ms)
		}
		data = append(data, []string{
			util.ShortID(p.ID),
			p.Name,
			p.Color,
			fmt.Sprintf("%.1f, %.1f, %.1f", p.Position.X, p.Position.Y, p.Position.Z),
			ping,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(c.out).WithData(data).Render()
}

// Ping returns the last reported ping for a player.
func (c *Console) Ping(playerID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.pings[playerID]
	return ms, ok
}
