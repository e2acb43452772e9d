// Package server implements the dedicated authoritative game server. Each
// game is created on the first join and dropped when its last player leaves.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/relay"
	"github.com/1ureka/worldlink/internal/session"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/util"
	"github.com/1ureka/worldlink/internal/world"
)

// DefaultGameID is used when a join names no game.
const DefaultGameID = "lobby"

type (
	connOpened  struct{ conn transport.Conn }
	connMessage struct {
		conn transport.Conn
		msg  protocol.Message
	}
	connClosed struct{ conn transport.Conn }
)

// binding records which game and player a socket joined as.
type binding struct {
	gameID   string
	playerID string
}

// Params configures a Server.
type Params struct {
	Clock  clock.Clock
	Logger *zap.Logger
	// NewID generates player ids. Defaults to random UUIDs.
	NewID func() string
	// NewWorld creates the world of a new game. Defaults to an empty scene.
	NewWorld func(gameID string) world.World
}

// Server owns every game on this process. All state is mutated on the Run
// loop.
type Server struct {
	Inbox chan any

	games    map[string]*relay.Hub
	bindings map[transport.Conn]binding
	sockets  map[transport.Conn]struct{}

	clock    clock.Clock
	newID    func() string
	newWorld func(string) world.World
	logger   *zap.Logger
	log      *zap.Logger
	done     chan struct{}
}

// New creates a server. Call Run to start processing.
func New(params Params) *Server {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := params.Clock
	if c == nil {
		c = clock.New()
	}
	newID := params.NewID
	if newID == nil {
		newID = util.NewID
	}
	newWorld := params.NewWorld
	if newWorld == nil {
		newWorld = func(string) world.World { return world.NewScene() }
	}
	return &Server{
		Inbox:    make(chan any, 256),
		games:    make(map[string]*relay.Hub),
		bindings: make(map[transport.Conn]binding),
		sockets:  make(map[transport.Conn]struct{}),
		clock:    c,
		newID:    newID,
		newWorld: newWorld,
		logger:   logger,
		log:      logger.With(zap.String("component", "server")),
		done:     make(chan struct{}),
	}
}

// Run processes inbox commands until ctx is cancelled, then closes every
// socket still open.
func (s *Server) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			for conn := range s.sockets {
				_ = conn.Close()
			}
			return
		case cmd := <-s.Inbox:
			s.handleCommand(cmd)
		}
	}
}

func (s *Server) post(cmd any) {
	select {
	case s.Inbox <- cmd:
	case <-s.done:
	}
}

// Game returns the hub of a running game. Only for use on the Run loop or
// after it has stopped.
func (s *Server) Game(id string) (*relay.Hub, bool) {
	h, ok := s.games[id]
	return h, ok
}

// ServeHTTP upgrades a game socket and feeds it into the inbox.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, protocol.Binary, s.log)
	if err != nil {
		s.log.Warn("Upgrade failed", zap.Error(err))
		return
	}
	s.post(connOpened{conn: conn})

	err = conn.Serve(func(m protocol.Message) {
		s.post(connMessage{conn: conn, msg: m})
	})
	if err != nil {
		s.log.Warn("Socket closed with error", zap.Error(err))
	}
	s.post(connClosed{conn: conn})
}

func (s *Server) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case connOpened:
		s.sockets[c.conn] = struct{}{}
	case connMessage:
		s.handleMessage(c.conn, c.msg)
	case connClosed:
		delete(s.sockets, c.conn)
		s.handleClose(c.conn)
	}
}

func (s *Server) handleMessage(conn transport.Conn, m protocol.Message) {
	b, bound := s.bindings[conn]

	if join, ok := m.(protocol.DedicatedJoin); ok {
		if bound {
			s.reject(conn, "already joined")
			return
		}
		s.handleJoin(conn, join)
		return
	}

	if !bound {
		if ping, ok := m.(protocol.Ping); ok {
			_ = conn.Send(protocol.Pong{PlayerID: ping.PlayerID, Timestamp: ping.Timestamp})
			return
		}
		s.reject(conn, "join a game first")
		return
	}

	hub, ok := s.games[b.gameID]
	if !ok {
		return
	}
	_ = hub.Receive(b.playerID, conn, m)

	if _, left := m.(protocol.Leave); left {
		delete(s.bindings, conn)
		s.dropIfEmpty(b.gameID)
	}
}

func (s *Server) handleJoin(conn transport.Conn, join protocol.DedicatedJoin) {
	gameID := join.GameID
	if gameID == "" {
		gameID = DefaultGameID
	}

	hub, ok := s.games[gameID]
	if !ok {
		game := session.NewGameSession(gameID, gameID, s.newWorld(gameID), s.newID)
		hub = relay.New(relay.Params{
			Role:   relay.RoleServer,
			Game:   game,
			Clock:  s.clock,
			Logger: s.logger,
		})
		s.games[gameID] = hub
		s.log.Info("Game created", zap.String("game", gameID))
	}

	p, err := hub.Admit(join.Player, conn)
	if err != nil {
		s.reject(conn, err.Error())
		s.dropIfEmpty(gameID)
		return
	}
	s.bindings[conn] = binding{gameID: gameID, playerID: p.ID}
}

func (s *Server) handleClose(conn transport.Conn) {
	b, ok := s.bindings[conn]
	if !ok {
		return
	}
	delete(s.bindings, conn)
	if hub, ok := s.games[b.gameID]; ok {
		hub.Drop(b.playerID)
	}
	s.dropIfEmpty(b.gameID)
}

func (s *Server) dropIfEmpty(gameID string) {
	hub, ok := s.games[gameID]
	if !ok || hub.Game().Roster.Len() > 0 {
		return
	}
	delete(s.games, gameID)
	s.log.Info("Game dropped", zap.String("game", gameID))
}

func (s *Server) reject(conn transport.Conn, reason string) {
	if err := conn.Send(protocol.Error{Reason: reason}); err != nil {
		s.log.Warn("Send failed", zap.String("remote", conn.Remote()), zap.Error(err))
	}
}

// Handler returns the HTTP surface: the game socket at /ws and Prometheus
// metrics at /metrics.
func Handler(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.Handle("/metrics", promhttp.HandlerFor(util.NewRegistry(), promhttp.HandlerOpts{}))
	return mux
}

// Serve runs a dedicated server on listener until ctx is cancelled.
func Serve(ctx context.Context, listener net.Listener, logger *zap.Logger) error {
	s := New(Params{Logger: logger})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return transport.Serve(ctx, listener, Handler(s), logger)
	})
	return g.Wait()
}
