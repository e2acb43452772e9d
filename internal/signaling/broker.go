// Package signaling implements the rendezvous broker. It pairs mesh hosts
// with joining peers and relays offer/answer/candidate messages between
// them; it never carries game data.
package signaling

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/util"
)

// Commands accepted on the broker inbox.
type (
	connOpened  struct{ conn transport.Conn }
	connMessage struct {
		conn transport.Conn
		msg  protocol.Message
	}
	connClosed struct{ conn transport.Conn }
)

// member is a registered broker socket.
type member struct {
	id     string
	gameID string
	conn   transport.Conn
	host   bool
}

// game is one hosted mesh: its host and the peers that asked to join.
type game struct {
	id      string
	host    *member
	members map[string]*member
}

// Params configures a Broker.
type Params struct {
	Logger *zap.Logger
	// NewGameID names games hosted without an id. Defaults to random UUIDs.
	NewGameID func() string
}

// Broker owns all rendezvous state. Every mutation runs on the Run loop.
type Broker struct {
	Inbox chan any

	games     map[string]*game
	conns     map[transport.Conn]*member
	sockets   map[transport.Conn]struct{}
	newGameID func() string
	log       *zap.Logger
	done      chan struct{}
}

// NewBroker creates a broker. Call Run to start processing.
func NewBroker(params Params) *Broker {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newGameID := params.NewGameID
	if newGameID == nil {
		newGameID = util.NewID
	}
	return &Broker{
		Inbox:     make(chan any, 256),
		games:     make(map[string]*game),
		conns:     make(map[transport.Conn]*member),
		sockets:   make(map[transport.Conn]struct{}),
		newGameID: newGameID,
		log:       logger.With(zap.String("component", "broker")),
		done:      make(chan struct{}),
	}
}

// Run processes inbox commands until ctx is cancelled, then closes every
// socket still open.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			for conn := range b.sockets {
				_ = conn.Close()
			}
			return
		case cmd := <-b.Inbox:
			b.handleCommand(cmd)
		}
	}
}

// post enqueues cmd unless the run loop has stopped.
func (b *Broker) post(cmd any) {
	select {
	case b.Inbox <- cmd:
	case <-b.done:
	}
}

// Games returns the number of hosted games.
func (b *Broker) Games() int { return len(b.games) }

// ServeHTTP upgrades a signaling socket and feeds it into the inbox.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, protocol.Text, b.log)
	if err != nil {
		b.log.Warn("Upgrade failed", zap.Error(err))
		return
	}
	b.post(connOpened{conn: conn})

	err = conn.Serve(func(m protocol.Message) {
		b.post(connMessage{conn: conn, msg: m})
	})
	if err != nil {
		b.log.Warn("Socket closed with error", zap.Error(err))
	}
	b.post(connClosed{conn: conn})
}

func (b *Broker) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case connOpened:
		b.sockets[c.conn] = struct{}{}
		b.log.Debug("Socket opened", zap.String("remote", c.conn.Remote()))
	case connMessage:
		b.handleMessage(c.conn, c.msg)
	case connClosed:
		delete(b.sockets, c.conn)
		b.unregister(c.conn)
	}
}

func (b *Broker) handleMessage(conn transport.Conn, m protocol.Message) {
	switch v := m.(type) {
	case protocol.HostRequest:
		b.handleHost(conn, v)
	case protocol.JoinRequest:
		b.handleJoin(conn, v)
	case protocol.Offer:
		b.relay(conn, v.To, func(from string) protocol.Message { v.From = from; return v })
	case protocol.Answer:
		b.relay(conn, v.To, func(from string) protocol.Message { v.From = from; return v })
	case protocol.Candidate:
		b.relay(conn, v.To, func(from string) protocol.Message { v.From = from; return v })
	case protocol.Leave:
		b.unregister(conn)
	case protocol.Ping:
		b.send(conn, protocol.Pong{PlayerID: v.PlayerID, Timestamp: v.Timestamp})
	default:
		b.log.Debug("Ignoring message", zap.Stringer("type", m.Type()), zap.String("remote", conn.Remote()))
		util.Stats.AddDropped()
	}
}

func (b *Broker) handleHost(conn transport.Conn, req protocol.HostRequest) {
	if _, ok := b.conns[conn]; ok {
		b.reject(conn, "already registered")
		return
	}
	if req.PlayerID == "" {
		b.reject(conn, "missing player id")
		return
	}
	gameID := req.GameID
	if gameID == "" {
		gameID = b.newGameID()
	}
	if _, ok := b.games[gameID]; ok {
		b.reject(conn, "game "+gameID+" is already hosted")
		return
	}

	host := &member{id: req.PlayerID, gameID: gameID, conn: conn, host: true}
	b.games[gameID] = &game{id: gameID, host: host, members: make(map[string]*member)}
	b.conns[conn] = host

	b.log.Info("Game hosted", zap.String("game", gameID), zap.String("host", host.id))
	b.send(conn, protocol.HostConfirmed{GameID: gameID, IsHost: true})
}

func (b *Broker) handleJoin(conn transport.Conn, req protocol.JoinRequest) {
	if _, ok := b.conns[conn]; ok {
		b.reject(conn, "already registered")
		return
	}
	g, ok := b.games[req.GameID]
	if !ok {
		b.reject(conn, "unknown game "+req.GameID)
		return
	}
	if req.PlayerID == "" || req.PlayerID == g.host.id {
		b.reject(conn, "invalid player id")
		return
	}
	if _, taken := g.members[req.PlayerID]; taken {
		b.reject(conn, "player id already in game")
		return
	}

	m := &member{id: req.PlayerID, gameID: g.id, conn: conn}
	g.members[m.id] = m
	b.conns[conn] = m

	b.log.Info("Peer joining", zap.String("game", g.id), zap.String("peer", m.id))
	b.send(conn, protocol.Joined{GameID: g.id, IsHost: false, HostID: g.host.id})
	b.send(g.host.conn, protocol.MakeOffer{PlayerID: m.id})
}

// relay forwards a connection signal to its addressee within the sender's
// game. The sender id is always the one the socket registered with.
func (b *Broker) relay(conn transport.Conn, to string, stamp func(from string) protocol.Message) {
	from, ok := b.conns[conn]
	if !ok {
		b.reject(conn, "not registered")
		return
	}
	g, ok := b.games[from.gameID]
	if !ok {
		return
	}

	var target *member
	if g.host.id == to {
		target = g.host
	} else {
		target = g.members[to]
	}
	if target == nil || target == from {
		b.reject(conn, "unknown peer "+to)
		return
	}
	b.send(target.conn, stamp(from.id))
	util.Stats.AddRelayed(1)
}

// unregister forgets the member registered on conn, leaving the socket open
// for a later host or join request. A departing host takes its game with it.
func (b *Broker) unregister(conn transport.Conn) {
	m, ok := b.conns[conn]
	if !ok {
		return
	}
	delete(b.conns, conn)

	g, ok := b.games[m.gameID]
	if !ok {
		return
	}
	if !m.host {
		delete(g.members, m.id)
		b.log.Debug("Peer left broker", zap.String("game", g.id), zap.String("peer", m.id))
		return
	}

	// the host is gone; every peer of this game is orphaned
	for _, peer := range g.members {
		b.send(peer.conn, protocol.HostDeparted{HostID: m.id})
		delete(b.conns, peer.conn)
	}
	delete(b.games, g.id)
	b.log.Info("Host departed", zap.String("game", g.id), zap.String("host", m.id))
}

// reject sends an Error to the one socket it concerns.
func (b *Broker) reject(conn transport.Conn, reason string) {
	b.log.Debug("Rejecting request", zap.String("remote", conn.Remote()), zap.String("reason", reason))
	b.send(conn, protocol.Error{Reason: reason})
}

func (b *Broker) send(conn transport.Conn, m protocol.Message) {
	if err := conn.Send(m); err != nil {
		b.log.Warn("Send failed", zap.String("remote", conn.Remote()), zap.Error(err))
	}
}
