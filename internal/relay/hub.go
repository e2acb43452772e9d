// Package relay routes messages between local state and connected parties.
// A Hub runs in one of three roles: the dedicated server and the mesh host
// apply inbound messages and fan them out; a client applies what its
// authority sends and forwards local actions upstream.
package relay

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/latency"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/ratelimit"
	"github.com/1ureka/worldlink/internal/session"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/ui"
	"github.com/1ureka/worldlink/internal/util"
)

// Role selects how a Hub treats inbound and local messages.
type Role int

const (
	RoleServer Role = iota // dedicated authoritative server
	RoleHost               // mesh host, authoritative for the mesh
	RoleClient             // dedicated or mesh client
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	}
	return "unknown"
}

// Authoritative reports whether the role applies and relays inbound traffic.
func (r Role) Authoritative() bool { return r == RoleServer || r == RoleHost }

var (
	// ErrUnknownPlayer is returned when a message names a player that is not
	// on the roster.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrNoAuthority is returned when a client has no upstream connection.
	ErrNoAuthority = errors.New("no authority connection")
)

// Params configures a Hub.
type Params struct {
	Role    Role
	Game    *session.GameSession
	Limiter *ratelimit.Limiter // gates local transmissions; nil disables gating
	Prober  *latency.Prober    // client only; consumes Pong echoes
	UI      ui.UI
	Clock   clock.Clock
	Logger  *zap.Logger
}

// Hub is the relay for one game session. It is not safe for concurrent use;
// the owning event loop serializes every call.
type Hub struct {
	role      Role
	game      *session.GameSession
	limiter   *ratelimit.Limiter
	prober    *latency.Prober
	ui        ui.UI
	clock     clock.Clock
	log       *zap.Logger
	authority transport.Conn
}

// New creates a Hub.
func New(params Params) *Hub {
	u := params.UI
	if u == nil {
		u = ui.Nop{}
	}
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		role:    params.Role,
		game:    params.Game,
		limiter: params.Limiter,
		prober:  params.Prober,
		ui:      u,
		clock:   c,
		log: logger.With(
			zap.String("component", "relay"),
			zap.String("role", params.Role.String()),
			zap.String("game", params.Game.ID),
		),
	}
}

func (h *Hub) Role() Role                 { return h.role }
func (h *Hub) Game() *session.GameSession { return h.game }

// SetAuthority sets the upstream connection of a client hub.
func (h *Hub) SetAuthority(conn transport.Conn) { h.authority = conn }

// Authority returns the upstream connection, if any.
func (h *Hub) Authority() transport.Conn { return h.authority }

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

// BroadcastExcept sends m to every connected roster entry other than exclude
// and returns how many sends were attempted. An exclude id that is not on the
// roster excludes nobody.
func (h *Hub) BroadcastExcept(m protocol.Message, exclude string) int {
	n := 0
	for _, p := range h.game.Roster.Players() {
		if p.ID == exclude || p.Conn == nil {
			continue
		}
		h.send(p.Conn, m)
		n++
	}
	util.Stats.AddRelayed(n)
	return n
}

// Unicast sends m to one player. Unknown ids are ignored.
func (h *Hub) Unicast(id string, m protocol.Message) bool {
	p, ok := h.game.Roster.Get(id)
	if !ok || p.Conn == nil {
		return false
	}
	h.send(p.Conn, m)
	return true
}

func (h *Hub) send(conn transport.Conn, m protocol.Message) {
	if err := conn.Send(m); err != nil {
		h.log.Warn("Send failed",
			zap.String("remote", conn.Remote()),
			zap.Stringer("type", m.Type()),
			zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

// Admit registers a newly joined remote player on an authority, confirms the
// join to that player alone and announces it to everyone else. A server
// assigns the id; a host trusts the id bound to the channel.
func (h *Hub) Admit(desc protocol.PlayerInfo, conn transport.Conn) (*session.Player, error) {
	trust := h.role == RoleHost
	p, err := h.game.Roster.AddPlayer(desc, conn, trust)
	if err != nil {
		return nil, err
	}
	if err := h.game.World.SetPlayerPose(p.ID, p.Position, p.Rotation); err != nil {
		h.log.Debug("World rejected pose", zap.String("player", p.ID), zap.Error(err))
	}

	info := p.Info()
	game := h.game.InfoExcept(p.ID)
	switch h.role {
	case RoleServer:
		h.send(conn, protocol.DedicatedJoined{Game: game, Player: info})
	default:
		h.send(conn, protocol.JoinedGame{Game: game, Player: info})
	}
	h.BroadcastExcept(protocol.PlayerJoined{Player: info}, p.ID)

	h.log.Info("Player joined", zap.String("player", p.ID), zap.String("name", p.Name))
	h.ui.RefreshRoster(h.game.Roster.ListPlayers())
	return p, nil
}

// Drop removes a player and, on an authority, tells everyone else. Dropping
// an unknown id is a no-op.
func (h *Hub) Drop(id string) bool {
	p, ok := h.game.Roster.RemovePlayer(id)
	if !ok {
		return false
	}
	h.game.World.RemovePlayer(id)
	if h.role.Authoritative() {
		h.BroadcastExcept(protocol.PlayerLeft{PlayerID: id}, id)
	}
	h.log.Info("Player left", zap.String("player", id), zap.String("name", p.Name))
	h.ui.RefreshRoster(h.game.Roster.ListPlayers())
	return true
}

// ---------------------------------------------------------------------------
// Inbound on an authority
// ---------------------------------------------------------------------------

// bind applies the identity policy: a join announcement must claim exactly
// the bound id, every other attributed message is rewritten to carry it.
func bind(bound string, m protocol.Message) (protocol.Message, error) {
	if ja, ok := m.(protocol.JoinAnnounce); ok {
		if ja.Player.ID != bound {
			return nil, &errs.IdentityMismatchError{Claimed: ja.Player.ID, Bound: bound}
		}
		return m, nil
	}
	if a, ok := m.(protocol.Attributed); ok && a.Sender() != bound {
		return a.WithSender(bound), nil
	}
	return m, nil
}

// Receive handles a message that arrived on conn, which is bound to the
// player id bound. Failures are logged here; the returned error is for
// callers that need the outcome.
func (h *Hub) Receive(bound string, conn transport.Conn, m protocol.Message) error {
	err := h.receive(bound, conn, m)
	if err != nil {
		util.Stats.AddDropped()
		var mismatch *errs.IdentityMismatchError
		var perr *errs.ProtocolError
		switch {
		case errors.As(err, &mismatch):
			h.log.Warn("Rejected message", zap.String("bound", bound), zap.Error(err))
		case errors.As(err, &perr):
			h.log.Debug("Dropped message", zap.String("bound", bound), zap.Error(err))
		default:
			h.log.Debug("Ignored message", zap.String("bound", bound), zap.Stringer("type", m.Type()), zap.Error(err))
		}
	}
	return err
}

func (h *Hub) receive(bound string, conn transport.Conn, m protocol.Message) error {
	if !h.role.Authoritative() {
		return h.Apply(m)
	}
	switch m.Type().Namespace() {
	case protocol.NamespaceControl, protocol.NamespaceBroadcast, protocol.NamespaceAction:
	default:
		return &errs.ProtocolError{Code: int(m.Type()), Reason: "not a game message"}
	}

	m, err := bind(bound, m)
	if err != nil {
		return err
	}

	if ja, ok := m.(protocol.JoinAnnounce); ok {
		if h.role != RoleHost {
			return &errs.ProtocolError{Code: int(m.Type()), Reason: "join announcement outside a mesh"}
		}
		_, err := h.Admit(ja.Player, conn)
		return err
	}

	sender, ok := h.game.Roster.Get(bound)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, bound)
	}

	switch v := m.(type) {
	case protocol.Ping:
		sender.SetReportedPing(v.Ping)
		h.send(conn, protocol.Pong{PlayerID: bound, Timestamp: v.Timestamp})
		h.BroadcastExcept(protocol.PlayerPing{PlayerID: bound, Ping: v.Ping}, bound)
		h.ui.ReportPing(bound, v.Ping)
		return nil

	case protocol.Leave, protocol.PlayerLeft:
		h.Drop(bound)
		return nil

	case protocol.Chat:
		v.Name = sender.Name
		h.ui.AppendChat(v.Name, v.Text)
		h.BroadcastExcept(v, bound)
		return nil

	case protocol.UpdatePlayer, protocol.PlayerUpdated,
		protocol.AddObject, protocol.ObjectAdded,
		protocol.UpdateObject, protocol.ObjectUpdated,
		protocol.RemoveObject, protocol.ObjectRemoved:
		out := protocol.AsBroadcast(m)
		if err := h.apply(out); err != nil {
			return err
		}
		h.BroadcastExcept(out, bound)
		return nil
	}

	return &errs.ProtocolError{Code: int(m.Type()), Reason: "not accepted by " + h.role.String()}
}

// ---------------------------------------------------------------------------
// Inbound on a client
// ---------------------------------------------------------------------------

// Apply applies a message from the authority to local state. Nothing is
// relayed.
func (h *Hub) Apply(m protocol.Message) error {
	switch v := m.(type) {
	case protocol.DedicatedJoined:
		h.bootstrap(v.Game, v.Player)
		return nil
	case protocol.JoinedGame:
		h.bootstrap(v.Game, v.Player)
		return nil
	case protocol.Pong:
		if h.prober == nil {
			return nil
		}
		mean, ok := h.prober.HandleEcho(v.Timestamp)
		if ok && h.game.SelfID != "" {
			h.ui.ReportPing(h.game.SelfID, latency.Millis(mean))
		}
		return nil
	case protocol.Error:
		h.ui.ReportConnectFailure(v.Reason)
		return nil
	}
	return h.apply(m)
}

// bootstrap adopts the roster and identity the authority confirmed.
func (h *Hub) bootstrap(game protocol.GameInfo, self protocol.PlayerInfo) {
	roster := h.game.Roster
	var prev *session.Player
	if h.game.SelfID != "" && h.game.SelfID != self.ID {
		prev, _ = roster.RemovePlayer(h.game.SelfID)
		h.game.World.RemovePlayer(h.game.SelfID)
	}
	if game.ID != "" {
		h.game.ID = game.ID
	}
	if game.Name != "" {
		h.game.Name = game.Name
	}

	entries := make([]protocol.PlayerInfo, 0, len(game.Players)+1)
	entries = append(entries, game.Players...)
	entries = append(entries, self)
	for _, info := range entries {
		if _, ok := roster.Get(info.ID); ok {
			continue
		}
		if _, err := roster.AddPlayer(info, nil, true); err != nil {
			h.log.Debug("Skipping roster entry", zap.String("player", info.ID), zap.Error(err))
			continue
		}
		_ = h.game.World.SetPlayerPose(info.ID, info.Position, info.Rotation)
	}
	h.game.SelfID = self.ID
	if p, ok := roster.Get(self.ID); ok && prev != nil {
		p.AdoptRTT(prev)
	}

	h.log.Info("Joined game", zap.String("game", h.game.ID), zap.String("self", self.ID), zap.Int("players", roster.Len()))
	h.ui.RefreshRoster(roster.ListPlayers())
}

// apply is the state-mutation step shared by every role.
func (h *Hub) apply(m protocol.Message) error {
	roster := h.game.Roster
	w := h.game.World

	switch v := m.(type) {
	case protocol.PlayerJoined:
		if _, ok := roster.Get(v.Player.ID); ok {
			return nil
		}
		if _, err := roster.AddPlayer(v.Player, nil, true); err != nil {
			return err
		}
		_ = w.SetPlayerPose(v.Player.ID, v.Player.Position, v.Player.Rotation)
		h.ui.RefreshRoster(roster.ListPlayers())

	case protocol.PlayerUpdated:
		p, ok := roster.Get(v.PlayerID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlayer, v.PlayerID)
		}
		p.SetPose(v.Position, v.Rotation, h.clock.Now())
		return w.SetPlayerPose(v.PlayerID, v.Position, v.Rotation)

	case protocol.PlayerLeft:
		if _, ok := roster.RemovePlayer(v.PlayerID); ok {
			w.RemovePlayer(v.PlayerID)
			h.ui.RefreshRoster(roster.ListPlayers())
		}

	case protocol.ObjectAdded:
		return w.AddObject(v.Object)

	case protocol.ObjectUpdated:
		return w.UpdateObject(v.Object)

	case protocol.ObjectRemoved:
		return w.RemoveObject(v.ObjectID)

	case protocol.Chat:
		h.ui.AppendChat(v.Name, v.Text)

	case protocol.PlayerPing:
		if p, ok := roster.Get(v.PlayerID); ok {
			p.SetReportedPing(v.Ping)
		}
		h.ui.ReportPing(v.PlayerID, v.Ping)

	default:
		return &errs.ProtocolError{Code: int(m.Type()), Reason: "not applicable to game state"}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Local origin
// ---------------------------------------------------------------------------

// Local applies a locally originated mutation immediately, then transmits it
// if the rate limiter admits it. m is given in its broadcast form. It reports
// whether a transmission happened.
func (h *Hub) Local(m protocol.Message) (bool, error) {
	if a, ok := m.(protocol.Attributed); ok && h.game.SelfID != "" {
		m = a.WithSender(h.game.SelfID)
	}
	m = protocol.AsBroadcast(m)

	if err := h.apply(m); err != nil {
		return false, err
	}

	if h.limiter != nil && !h.limiter.AllowMessage(m) {
		return false, nil
	}

	switch h.role {
	case RoleClient:
		if h.authority == nil {
			return false, ErrNoAuthority
		}
		if err := h.authority.Send(protocol.AsAction(m)); err != nil {
			return false, err
		}
	default:
		h.BroadcastExcept(m, h.game.SelfID)
	}
	return true, nil
}

// Ping sends a probe upstream. Used as the prober's emit function.
func (h *Hub) Ping(m protocol.Ping) {
	if h.authority == nil {
		return
	}
	h.send(h.authority, m)
}
