// Package coordinator owns the active connection topology and composes the
// codecs, registry, relay, handshake, limiter and prober into one client or
// server process.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/errs"
	"github.com/1ureka/worldlink/internal/latency"
	"github.com/1ureka/worldlink/internal/mesh"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/ratelimit"
	"github.com/1ureka/worldlink/internal/relay"
	"github.com/1ureka/worldlink/internal/server"
	"github.com/1ureka/worldlink/internal/session"
	"github.com/1ureka/worldlink/internal/signaling"
	"github.com/1ureka/worldlink/internal/static"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/ui"
	"github.com/1ureka/worldlink/internal/util"
	"github.com/1ureka/worldlink/internal/world"
)

var (
	ErrBusy          = errors.New("coordinator is already active")
	ErrNotConnected  = errors.New("not connected")
	ErrSessionActive = errors.New("a game session is already active")
	ErrNoSession     = errors.New("no game session")
	ErrStopped       = errors.New("coordinator stopped")
)

// Dialer opens a socket to an opaque connection target using codec.
type Dialer func(ctx context.Context, addr string, codec protocol.Codec) (transport.Socket, error)

// WebSocketDialer dials with gorilla/websocket.
func WebSocketDialer(logger *zap.Logger) Dialer {
	return func(ctx context.Context, addr string, codec protocol.Codec) (transport.Socket, error) {
		return transport.Dial(ctx, addr, codec, logger)
	}
}

// Params configures a Coordinator. Zero values select production defaults.
type Params struct {
	// Player describes the local user. Its id is ignored.
	Player protocol.PlayerInfo

	Dialer   Dialer
	Factory  transport.PeerFactory
	NewWorld func() world.World
	NewID    func() string
	UI       ui.UI
	Clock    clock.Clock

	PingInterval         time.Duration
	PlayerUpdateInterval time.Duration
	ObjectUpdateInterval time.Duration

	Logger *zap.Logger
}

// Status is a snapshot of the coordinator.
type Status struct {
	State   State
	GameID  string
	SelfID  string
	HostID  string
	Players []protocol.PlayerInfo
	Pings   map[string]float64 // ms; own RTT mean for self, announced value for others
	Peers   []string           // mesh host only
	Pending bool               // mesh host holds a pending slot
}

// Coordinator is the top-level service object. Every state change runs on
// the Run loop; public methods post onto it and wait.
type Coordinator struct {
	inbox chan func()
	done  chan struct{}

	p      Params
	logger *zap.Logger
	log    *zap.Logger

	state    State
	dialing  bool
	topology Topology
	sock     transport.Socket

	game     *session.GameSession
	hub      *relay.Hub
	limiter  *ratelimit.Limiter
	prober   *latency.Prober
	host     *mesh.Host
	client   *mesh.Client
	hostID   string
	awaiting bool // join or host request sent, not yet confirmed
}

// New creates a coordinator in the Inactive mode. Call Run to start it.
func New(params Params) *Coordinator {
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Dialer == nil {
		params.Dialer = WebSocketDialer(params.Logger)
	}
	if params.Factory == nil {
		params.Factory = transport.NewPionFactory(transport.DefaultSTUNServers)
	}
	if params.NewWorld == nil {
		params.NewWorld = func() world.World { return world.NewScene() }
	}
	if params.NewID == nil {
		params.NewID = util.NewID
	}
	if params.UI == nil {
		params.UI = ui.Nop{}
	}
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Player.Rotation == (protocol.Quat{}) {
		params.Player.Rotation = protocol.IdentityQuat
	}
	return &Coordinator{
		inbox:  make(chan func(), 1024),
		done:   make(chan struct{}),
		p:      params,
		logger: params.Logger,
		log:    params.Logger.With(zap.String("component", "coordinator")),
	}
}

// Run processes events until ctx is cancelled, then disconnects.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			if err := c.teardown(); err != nil {
				c.log.Warn("Teardown failed", zap.Error(err))
			}
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

func (c *Coordinator) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// do runs fn on the loop and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	select {
	case c.inbox <- func() { result <- fn() }:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot. A stopped coordinator reports Inactive.
func (c *Coordinator) Status() Status {
	var st Status
	_ = c.do(context.Background(), func() error {
		st.State = c.state
		st.HostID = c.hostID
		if c.game != nil {
			st.GameID = c.game.ID
			st.SelfID = c.game.SelfID
			st.Players = c.game.Roster.ListPlayers()
			st.Pings = pings(c.game)
		}
		if c.host != nil {
			st.Peers = c.host.Peers()
			_, st.Pending = c.host.Pending()
		}
		return nil
	})
	return st
}

func pings(game *session.GameSession) map[string]float64 {
	out := make(map[string]float64)
	for _, p := range game.Roster.Players() {
		switch {
		case p.ID == game.SelfID:
			if p.RTT().Len() > 0 {
				out[p.ID] = latency.Millis(p.Ping())
			}
		case p.ReportedPing() > 0:
			out[p.ID] = p.ReportedPing()
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// Connect dials addr and enters DedicatedClient or MeshClient. The dedicated
// socket uses the binary codec, the broker socket the text codec.
func (c *Coordinator) Connect(ctx context.Context, addr string, topology Topology) error {
	err := c.do(ctx, func() error {
		if c.state.Mode != ModeInactive || c.dialing {
			return ErrBusy
		}
		c.dialing = true
		return nil
	})
	if err != nil {
		return err
	}

	codec := protocol.Binary
	if topology == TopologyMesh {
		codec = protocol.Text
	}
	sock, dialErr := c.p.Dialer(ctx, addr, codec)

	err = c.do(ctx, func() error {
		c.dialing = false
		if dialErr != nil {
			c.p.UI.ReportConnectFailure(dialErr.Error())
			return dialErr
		}
		c.sock = sock
		c.topology = topology
		if topology == TopologyMesh {
			c.state = State{Mode: ModeMeshClient}
		} else {
			c.state = State{Mode: ModeDedicatedClient}
		}
		go c.read(sock)
		c.log.Info("Connected", zap.String("addr", addr), zap.Stringer("topology", topology))
		return nil
	})
	if err != nil && dialErr == nil && sock != nil {
		_ = sock.Close()
	}
	return err
}

func (c *Coordinator) read(sock transport.Socket) {
	err := sock.Serve(func(m protocol.Message) {
		c.post(func() { c.handleSocket(sock, m) })
	})
	c.post(func() { c.socketClosed(sock, err) })
}

// HostGame starts a session and announces it. In mesh mode the broker's
// confirmation elects this process host. An empty gameID lets the remote
// side pick one.
func (c *Coordinator) HostGame(ctx context.Context, gameID string) error {
	return c.do(ctx, func() error {
		if err := c.readyForSession(); err != nil {
			return err
		}
		if c.topology == TopologyMesh {
			c.startSession(gameID, relay.RoleHost)
			return c.sendUpstream(protocol.HostRequest{GameID: gameID, PlayerID: c.game.SelfID})
		}
		if gameID == "" {
			gameID = c.p.NewID()
		}
		c.startSession(gameID, relay.RoleClient)
		c.hub.SetAuthority(c.sock)
		return c.sendUpstream(protocol.DedicatedJoin{GameID: gameID, Player: c.selfInfo()})
	})
}

// JoinGame starts a session and sends the mode-appropriate join request.
func (c *Coordinator) JoinGame(ctx context.Context, gameID string) error {
	return c.do(ctx, func() error {
		if err := c.readyForSession(); err != nil {
			return err
		}
		c.startSession(gameID, relay.RoleClient)
		if c.topology == TopologyMesh {
			return c.sendUpstream(protocol.JoinRequest{GameID: gameID, PlayerID: c.game.SelfID})
		}
		c.hub.SetAuthority(c.sock)
		return c.sendUpstream(protocol.DedicatedJoin{GameID: gameID, Player: c.selfInfo()})
	})
}

// LeaveGame ends the session but keeps the connection.
func (c *Coordinator) LeaveGame(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.game == nil {
			return ErrNoSession
		}
		c.notifyLeave()
		return c.endSession()
	})
}

// Disconnect stops every timer, closes every transport and returns to
// Inactive.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	return c.do(ctx, c.teardown)
}

// Serve runs one of the server roles on listener until ctx is cancelled.
// dir is only used by the static host.
func (c *Coordinator) Serve(ctx context.Context, kind ServerKind, listener net.Listener, dir string) error {
	err := c.do(ctx, func() error {
		if c.state.Mode != ModeInactive || c.dialing {
			return ErrBusy
		}
		c.state = State{Mode: ModeServer, Server: kind}
		return nil
	})
	if err != nil {
		return err
	}
	defer c.post(func() { c.state = State{} })

	c.log.Info("Serving", zap.Stringer("role", kind), zap.String("addr", listener.Addr().String()))
	switch kind {
	case ServerDedicated:
		return server.Serve(ctx, listener, c.logger)
	case ServerSignaling:
		return signaling.Serve(ctx, listener, c.logger)
	case ServerStaticHost:
		return static.Serve(ctx, listener, dir, c.logger)
	}
	return fmt.Errorf("unknown server kind %v", kind)
}

// ---------------------------------------------------------------------------
// Local actions
// ---------------------------------------------------------------------------

// Move updates the local avatar. It reports whether an update went out.
func (c *Coordinator) Move(ctx context.Context, pos protocol.Vec3, rot protocol.Quat) (bool, error) {
	return c.local(ctx, protocol.PlayerUpdated{Position: pos, Rotation: rot})
}

// Spawn adds an object at pos and returns its id.
func (c *Coordinator) Spawn(ctx context.Context, kind string, pos protocol.Vec3) (string, error) {
	id := c.p.NewID()
	_, err := c.local(ctx, protocol.ObjectAdded{Object: protocol.ObjectState{
		ID:       id,
		Kind:     kind,
		Position: pos,
		Rotation: protocol.IdentityQuat,
		Scale:    protocol.Vec3{X: 1, Y: 1, Z: 1},
		Color:    c.p.Player.Color,
	}})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateObject replaces an object's full state.
func (c *Coordinator) UpdateObject(ctx context.Context, obj protocol.ObjectState) (bool, error) {
	return c.local(ctx, protocol.ObjectUpdated{Object: obj})
}

// RemoveObject deletes an object.
func (c *Coordinator) RemoveObject(ctx context.Context, id string) error {
	_, err := c.local(ctx, protocol.ObjectRemoved{ObjectID: id})
	return err
}

// Chat sends a chat line to the session.
func (c *Coordinator) Chat(ctx context.Context, text string) error {
	_, err := c.local(ctx, protocol.Chat{Name: c.p.Player.Name, Text: text})
	return err
}

func (c *Coordinator) local(ctx context.Context, m protocol.Message) (bool, error) {
	var sent bool
	err := c.do(ctx, func() error {
		if c.hub == nil {
			return ErrNoSession
		}
		var err error
		sent, err = c.hub.Local(m)
		return err
	})
	return sent, err
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func (c *Coordinator) readyForSession() error {
	switch {
	case c.sock == nil:
		return ErrNotConnected
	case c.game != nil:
		return ErrSessionActive
	}
	return nil
}

func (c *Coordinator) startSession(gameID string, role relay.Role) {
	game := session.NewGameSession(gameID, gameID, c.p.NewWorld(), c.p.NewID)
	self, err := game.Roster.AddPlayer(c.p.Player, nil, false)
	if err != nil {
		c.log.Error("Self registration failed", zap.Error(err))
	} else {
		game.SelfID = self.ID
		_ = game.World.SetPlayerPose(self.ID, self.Position, self.Rotation)
	}

	c.limiter = ratelimit.New(ratelimit.Params{
		Clock:               c.p.Clock,
		PlayerPoseInterval:  c.p.PlayerUpdateInterval,
		ObjectStateInterval: c.p.ObjectUpdateInterval,
	})

	var hub *relay.Hub
	if role == relay.RoleClient {
		var window *latency.Window
		if self != nil {
			window = self.RTT()
		}
		c.prober = latency.NewProber(latency.ProberParams{
			Clock:    c.p.Clock,
			Interval: c.p.PingInterval,
			Window:   window,
			Emit: func(p protocol.Ping) {
				c.post(func() {
					if c.hub == hub && hub != nil {
						p.PlayerID = game.SelfID
						hub.Ping(p)
					}
				})
			},
			Logger: c.logger,
		})
	}

	hub = relay.New(relay.Params{
		Role:    role,
		Game:    game,
		Limiter: c.limiter,
		Prober:  c.prober,
		UI:      c.p.UI,
		Clock:   c.p.Clock,
		Logger:  c.logger,
	})
	c.game = game
	c.hub = hub
	c.awaiting = true
}

func (c *Coordinator) selfInfo() protocol.PlayerInfo {
	if c.game != nil {
		if p, ok := c.game.Self(); ok {
			return p.Info()
		}
	}
	return c.p.Player
}

// notifyLeave tells the authority this client is leaving. A mesh host has
// nobody to tell; its peers see their links close.
func (c *Coordinator) notifyLeave() {
	if c.hub == nil || c.hub.Role() != relay.RoleClient || c.awaiting {
		return
	}
	if auth := c.hub.Authority(); auth != nil {
		_ = auth.Send(protocol.Leave{PlayerID: c.game.SelfID})
	}
}

// endSession stops the prober and every peer link and forgets the game. On
// a mesh the broker is told to unregister this socket so it can host or join
// again; a departing host takes its broker game with it.
func (c *Coordinator) endSession() error {
	var err error
	if c.game != nil && c.topology == TopologyMesh && c.sock != nil {
		if serr := c.sock.Send(protocol.Leave{PlayerID: c.game.SelfID}); serr != nil {
			c.log.Debug("Broker leave not sent", zap.Error(serr))
		}
	}
	if c.prober != nil {
		c.prober.Stop()
	}
	if c.host != nil {
		err = multierr.Append(err, c.host.Close())
	}
	if c.client != nil {
		err = multierr.Append(err, c.client.Close())
	}
	if c.game != nil {
		c.log.Info("Session ended", zap.String("game", c.game.ID))
	}
	c.game, c.hub, c.limiter, c.prober = nil, nil, nil, nil
	c.host, c.client = nil, nil
	c.hostID = ""
	c.awaiting = false
	c.state.IsHost = false
	return err
}

func (c *Coordinator) teardown() error {
	if c.game != nil {
		c.notifyLeave()
	}
	err := c.endSession()
	if c.sock != nil {
		err = multierr.Append(err, c.sock.Close())
		c.sock = nil
	}
	c.state = State{}
	return err
}

func (c *Coordinator) sendUpstream(m protocol.Message) error {
	if c.sock == nil {
		return ErrNotConnected
	}
	return c.sock.Send(m)
}

// ---------------------------------------------------------------------------
// Socket events
// ---------------------------------------------------------------------------

func (c *Coordinator) handleSocket(sock transport.Socket, m protocol.Message) {
	if sock != c.sock {
		return
	}
	if e, ok := m.(protocol.Error); ok {
		c.log.Warn("Remote error", zap.String("reason", e.Reason))
		c.p.UI.ReportConnectFailure(e.Reason)
		if c.awaiting {
			_ = c.endSession()
		}
		return
	}
	if c.topology == TopologyMesh {
		c.handleBroker(m)
		return
	}

	if c.hub == nil {
		c.log.Debug("Message outside a session", zap.Stringer("type", m.Type()))
		return
	}
	if err := c.hub.Apply(m); err != nil {
		c.log.Debug("Not applied", zap.Stringer("type", m.Type()), zap.Error(err))
	}
	if _, ok := m.(protocol.DedicatedJoined); ok && c.awaiting {
		c.awaiting = false
		c.prober.Start()
	}
}

func (c *Coordinator) handleBroker(m protocol.Message) {
	switch v := m.(type) {
	case protocol.HostConfirmed:
		if !c.awaiting || c.hub == nil || c.hub.Role() != relay.RoleHost {
			return
		}
		c.awaiting = false
		c.game.ID = v.GameID
		c.game.HostID = c.game.SelfID
		c.hostID = c.game.SelfID
		c.state.IsHost = true
		c.host = mesh.NewHost(c.meshParams(c.hostCallbacks()))
		c.log.Info("Hosting", zap.String("game", v.GameID))

	case protocol.Joined:
		if !c.awaiting || c.hub == nil || c.hub.Role() != relay.RoleClient {
			return
		}
		c.awaiting = false
		c.hostID = v.HostID
		c.game.HostID = v.HostID
		c.client = mesh.NewClient(c.meshParams(c.clientCallbacks()), c.selfInfo)
		if err := c.client.Start(v.HostID); err != nil {
			c.log.Debug("Handshake not started", zap.Error(err))
		}

	case protocol.MakeOffer:
		if c.host != nil {
			_ = c.host.HandleMakeOffer(v.PlayerID)
		}
	case protocol.Answer:
		if c.host != nil {
			_ = c.host.HandleAnswer(v)
		}
	case protocol.Offer:
		if c.client != nil {
			_ = c.client.HandleOffer(v)
		}
	case protocol.Candidate:
		switch {
		case c.host != nil:
			_ = c.host.HandleCandidate(v)
		case c.client != nil:
			_ = c.client.HandleCandidate(v)
		}

	case protocol.HostDeparted:
		if c.client != nil && v.HostID == c.hostID {
			c.hostLost()
		}

	case protocol.Pong:
	default:
		c.log.Debug("Unexpected broker message", zap.Stringer("type", m.Type()))
	}
}

func (c *Coordinator) socketClosed(sock transport.Socket, err error) {
	if sock != c.sock {
		return
	}
	c.sock = nil
	if err != nil {
		c.log.Warn("Connection lost", zap.Error(err))
	}

	if c.topology == TopologyMesh && c.game != nil && !c.awaiting {
		if !c.state.IsHost {
			// The link to the host keeps running without the broker.
			c.p.UI.ReportConnectFailure("connection to broker closed")
			return
		}
		// The broker announces a host whose socket closed as departed, so
		// the hosted game ends here too.
		c.p.UI.ReportConnectFailure("connection to broker closed, hosted game ended")
	} else {
		c.p.UI.ReportConnectFailure("connection closed")
	}
	if err := c.teardown(); err != nil {
		c.log.Debug("Teardown after close", zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Mesh wiring
// ---------------------------------------------------------------------------

func (c *Coordinator) meshParams(cb mesh.Callbacks) mesh.Params {
	return mesh.Params{
		SelfID:    c.game.SelfID,
		Factory:   c.p.Factory,
		Signal:    brokerSignal{c},
		Post:      c.post,
		Callbacks: cb,
		Logger:    c.logger,
	}
}

// brokerSignal sends through whatever broker socket is current.
type brokerSignal struct{ c *Coordinator }

func (s brokerSignal) Send(m protocol.Message) error { return s.c.sendUpstream(m) }

func (c *Coordinator) hostCallbacks() mesh.Callbacks {
	hub := c.hub
	return mesh.Callbacks{
		OnMessage: func(id string, conn *transport.ChannelConn, m protocol.Message) {
			if c.hub != hub {
				return
			}
			_ = hub.Receive(id, conn, m)
			switch m.(type) {
			case protocol.Leave, protocol.PlayerLeft:
				if c.host != nil {
					c.host.Drop(id)
				}
			}
		},
		OnClose: func(id string) {
			if c.hub == hub {
				hub.Drop(id)
			}
		},
	}
}

func (c *Coordinator) clientCallbacks() mesh.Callbacks {
	hub := c.hub
	return mesh.Callbacks{
		OnOpen: func(_ string, conn *transport.ChannelConn) {
			if c.hub != hub {
				return
			}
			hub.SetAuthority(conn)
			c.prober.Start()
		},
		OnMessage: func(_ string, _ *transport.ChannelConn, m protocol.Message) {
			if c.hub != hub {
				return
			}
			if err := hub.Apply(m); err != nil {
				c.log.Debug("Not applied", zap.Stringer("type", m.Type()), zap.Error(err))
			}
		},
		OnClose: func(string) {
			if c.hub == hub {
				c.hostLost()
			}
		},
		OnFailure: func(err *errs.SignalingFailure) {
			if c.hub == hub {
				c.p.UI.ReportConnectFailure(err.Error())
				_ = c.endSession()
			}
		},
	}
}

// hostLost ends a mesh client's session. The broker connection stays and
// may host or join again.
func (c *Coordinator) hostLost() {
	c.log.Warn("Host departed", zap.String("host", c.hostID))
	c.p.UI.ReportConnectFailure((&errs.HostDeparted{HostID: c.hostID}).Error())
	_ = c.endSession()
}
