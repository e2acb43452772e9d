package protocol

// Message is one variant of the envelope union. Each variant owns only the
// fields its type code carries; the code itself is supplied by Type().
type Message interface {
	Type() Type
	isMessage()
}

// Attributed is implemented by variants that name the player they originate
// from. WithSender returns a copy with that id replaced.
type Attributed interface {
	Message
	Sender() string
	WithSender(id string) Message
}

// Vec3 is a position or scale in world space.
type Vec3 struct {
	X float64 `msgpack:"x" json:"x"`
	Y float64 `msgpack:"y" json:"y"`
	Z float64 `msgpack:"z" json:"z"`
}

// Quat is a rotation quaternion.
type Quat struct {
	X float64 `msgpack:"x" json:"x"`
	Y float64 `msgpack:"y" json:"y"`
	Z float64 `msgpack:"z" json:"z"`
	W float64 `msgpack:"w" json:"w"`
}

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{W: 1}

// PlayerInfo is the public projection of a player.
type PlayerInfo struct {
	ID       string `msgpack:"id" json:"id"`
	Name     string `msgpack:"name" json:"name"`
	Color    string `msgpack:"color" json:"color"`
	Position Vec3   `msgpack:"position" json:"position"`
	Rotation Quat   `msgpack:"rotation" json:"rotation"`
}

// GameInfo describes a session and its roster.
type GameInfo struct {
	ID      string       `msgpack:"id" json:"id"`
	Name    string       `msgpack:"name" json:"name"`
	Players []PlayerInfo `msgpack:"players" json:"players"`
}

// ObjectState is a full-state snapshot of one dynamic scene object.
type ObjectState struct {
	ID       string `msgpack:"id" json:"id"`
	Kind     string `msgpack:"kind" json:"kind"`
	Position Vec3   `msgpack:"position" json:"position"`
	Rotation Quat   `msgpack:"rotation" json:"rotation"`
	Scale    Vec3   `msgpack:"scale" json:"scale"`
	Color    string `msgpack:"color" json:"color"`
}

// ---------------------------------------------------------------------------
// Control
// ---------------------------------------------------------------------------

// Ping is a latency probe. Timestamp is the sender's monotonic clock in
// nanoseconds and is echoed back unchanged; Ping is the sender's current
// rolling mean in milliseconds.
type Ping struct {
	PlayerID  string  `msgpack:"player_id" json:"player_id"`
	Timestamp int64   `msgpack:"timestamp" json:"timestamp"`
	Ping      float64 `msgpack:"ping" json:"ping"`
}

// Pong echoes a Ping's timestamp back to the prober.
type Pong struct {
	PlayerID  string `msgpack:"player_id" json:"player_id"`
	Timestamp int64  `msgpack:"timestamp" json:"timestamp"`
}

// Error carries a short human-readable reason to the single party it concerns.
type Error struct {
	Reason string `msgpack:"reason" json:"reason"`
}

// ---------------------------------------------------------------------------
// Dedicated-server join
// ---------------------------------------------------------------------------

// DedicatedJoin asks a dedicated server to admit Player into GameID. The
// server assigns the id; any id in Player is ignored.
type DedicatedJoin struct {
	GameID string     `msgpack:"game_id" json:"game_id"`
	Player PlayerInfo `msgpack:"player" json:"player"`
}

// DedicatedJoined confirms a dedicated join. Game lists the players already
// present; Player carries the id the server assigned.
type DedicatedJoined struct {
	Game   GameInfo   `msgpack:"game" json:"game"`
	Player PlayerInfo `msgpack:"player" json:"player"`
}

// ---------------------------------------------------------------------------
// Mesh join/host
// ---------------------------------------------------------------------------

// JoinRequest asks the broker to join a hosted mesh game as PlayerID.
type JoinRequest struct {
	GameID   string `msgpack:"game_id" json:"game_id"`
	PlayerID string `msgpack:"player_id" json:"player_id"`
}

// Joined tells a joining peer which host to expect an offer from.
type Joined struct {
	GameID string `msgpack:"game_id" json:"game_id"`
	IsHost bool   `msgpack:"is_host" json:"is_host"`
	HostID string `msgpack:"host_id" json:"host_id"`
}

// HostRequest asks the broker to register a mesh game hosted by PlayerID.
// An empty GameID lets the broker pick one.
type HostRequest struct {
	GameID   string `msgpack:"game_id" json:"game_id"`
	PlayerID string `msgpack:"player_id" json:"player_id"`
}

// HostConfirmed elects the requester as host of GameID.
type HostConfirmed struct {
	GameID string `msgpack:"game_id" json:"game_id"`
	IsHost bool   `msgpack:"is_host" json:"is_host"`
}

// HostDeparted tells the members of a game that its host left the broker.
type HostDeparted struct {
	HostID string `msgpack:"host_id" json:"host_id"`
}

// ---------------------------------------------------------------------------
// Connection signals
// ---------------------------------------------------------------------------

// MakeOffer instructs a host to start a handshake with PlayerID.
type MakeOffer struct {
	PlayerID string `msgpack:"player_id" json:"player_id"`
}

// Offer carries a host's session description to a peer via the broker.
type Offer struct {
	From string `msgpack:"from" json:"from"`
	To   string `msgpack:"to" json:"to"`
	SDP  string `msgpack:"sdp" json:"sdp"`
}

// Answer carries a peer's session description back to its host.
type Answer struct {
	From string `msgpack:"from" json:"from"`
	To   string `msgpack:"to" json:"to"`
	SDP  string `msgpack:"sdp" json:"sdp"`
}

// Candidate carries one network path descriptor between handshake parties.
type Candidate struct {
	From      string `msgpack:"from" json:"from"`
	To        string `msgpack:"to" json:"to"`
	Candidate string `msgpack:"candidate" json:"candidate"` // JSON-encoded ICECandidateInit
}

// ---------------------------------------------------------------------------
// Broadcasts
// ---------------------------------------------------------------------------

// Chat is a chat line. Name is the display name of PlayerID.
type Chat struct {
	PlayerID string `msgpack:"player_id" json:"player_id"`
	Name     string `msgpack:"name" json:"name"`
	Text     string `msgpack:"text" json:"text"`
}

// PlayerJoined announces a newly admitted player to everyone else.
type PlayerJoined struct {
	Player PlayerInfo `msgpack:"player" json:"player"`
}

// PlayerUpdated carries a player's new pose.
type PlayerUpdated struct {
	PlayerID string `msgpack:"player_id" json:"player_id"`
	Position Vec3   `msgpack:"position" json:"position"`
	Rotation Quat   `msgpack:"rotation" json:"rotation"`
}

// PlayerLeft announces a player's removal from the session.
type PlayerLeft struct {
	PlayerID string `msgpack:"player_id" json:"player_id"`
}

// ObjectAdded announces an object spawned by PlayerID.
type ObjectAdded struct {
	PlayerID string      `msgpack:"player_id" json:"player_id"`
	Object   ObjectState `msgpack:"object" json:"object"`
}

// ObjectUpdated replaces an object's full state.
type ObjectUpdated struct {
	PlayerID string      `msgpack:"player_id" json:"player_id"`
	Object   ObjectState `msgpack:"object" json:"object"`
}

// ObjectRemoved announces the deletion of ObjectID.
type ObjectRemoved struct {
	PlayerID string `msgpack:"player_id" json:"player_id"`
	ObjectID string `msgpack:"object_id" json:"object_id"`
}

// PlayerPing relays a player's self-reported ping in milliseconds.
type PlayerPing struct {
	PlayerID string  `msgpack:"player_id" json:"player_id"`
	Ping     float64 `msgpack:"ping" json:"ping"`
}

// JoinedGame is unicast by a mesh host to a peer whose join it accepted.
type JoinedGame struct {
	Game   GameInfo   `msgpack:"game" json:"game"`
	Player PlayerInfo `msgpack:"player" json:"player"`
}

// ---------------------------------------------------------------------------
// Actions. Field-identical to their broadcast counterparts so that
// re-tagging is a plain conversion.
// ---------------------------------------------------------------------------

// JoinAnnounce is a mesh peer's first message on a fresh data channel.
type JoinAnnounce struct {
	Player PlayerInfo `msgpack:"player" json:"player"`
}

// UpdatePlayer asks the authority to move the sender.
type UpdatePlayer PlayerUpdated

// AddObject asks the authority to spawn an object.
type AddObject ObjectAdded

// UpdateObject asks the authority to replace an object's state.
type UpdateObject ObjectUpdated

// RemoveObject asks the authority to delete an object.
type RemoveObject ObjectRemoved

// Leave tells the authority, or the broker, that the sender is leaving.
type Leave PlayerLeft

func (Ping) Type() Type            { return TypePing }
func (Pong) Type() Type            { return TypePong }
func (Error) Type() Type           { return TypeError }
func (DedicatedJoin) Type() Type   { return TypeDedicatedJoin }
func (DedicatedJoined) Type() Type { return TypeDedicatedJoined }
func (JoinRequest) Type() Type     { return TypeJoinRequest }
func (Joined) Type() Type          { return TypeJoined }
func (HostRequest) Type() Type     { return TypeHostRequest }
func (HostConfirmed) Type() Type   { return TypeHostConfirmed }
func (HostDeparted) Type() Type    { return TypeHostDeparted }
func (MakeOffer) Type() Type       { return TypeMakeOffer }
func (Offer) Type() Type           { return TypeOffer }
func (Answer) Type() Type          { return TypeAnswer }
func (Candidate) Type() Type       { return TypeCandidate }
func (Chat) Type() Type            { return TypeChat }
func (PlayerJoined) Type() Type    { return TypePlayerJoined }
func (PlayerUpdated) Type() Type   { return TypePlayerUpdated }
func (PlayerLeft) Type() Type      { return TypePlayerLeft }
func (ObjectAdded) Type() Type     { return TypeObjectAdded }
func (ObjectUpdated) Type() Type   { return TypeObjectUpdated }
func (ObjectRemoved) Type() Type   { return TypeObjectRemoved }
func (PlayerPing) Type() Type      { return TypePlayerPing }
func (JoinedGame) Type() Type      { return TypeJoinedGame }
func (JoinAnnounce) Type() Type    { return TypeJoinAnnounce }
func (UpdatePlayer) Type() Type    { return TypeUpdatePlayer }
func (AddObject) Type() Type       { return TypeAddObject }
func (UpdateObject) Type() Type    { return TypeUpdateObject }
func (RemoveObject) Type() Type    { return TypeRemoveObject }
func (Leave) Type() Type           { return TypeLeave }

func (Ping) isMessage()            {}
func (Pong) isMessage()            {}
func (Error) isMessage()           {}
func (DedicatedJoin) isMessage()   {}
func (DedicatedJoined) isMessage() {}
func (JoinRequest) isMessage()     {}
func (Joined) isMessage()          {}
func (HostRequest) isMessage()     {}
func (HostConfirmed) isMessage()   {}
func (HostDeparted) isMessage()    {}
func (MakeOffer) isMessage()       {}
func (Offer) isMessage()           {}
func (Answer) isMessage()          {}
func (Candidate) isMessage()       {}
func (Chat) isMessage()            {}
func (PlayerJoined) isMessage()    {}
func (PlayerUpdated) isMessage()   {}
func (PlayerLeft) isMessage()      {}
func (ObjectAdded) isMessage()     {}
func (ObjectUpdated) isMessage()   {}
func (ObjectRemoved) isMessage()   {}
func (PlayerPing) isMessage()      {}
func (JoinedGame) isMessage()      {}
func (JoinAnnounce) isMessage()    {}
func (UpdatePlayer) isMessage()    {}
func (AddObject) isMessage()       {}
func (UpdateObject) isMessage()    {}
func (RemoveObject) isMessage()    {}
func (Leave) isMessage()           {}

// ---------------------------------------------------------------------------
// Sender attribution
// ---------------------------------------------------------------------------

func (m Ping) Sender() string          { return m.PlayerID }
func (m Pong) Sender() string          { return m.PlayerID }
func (m Chat) Sender() string          { return m.PlayerID }
func (m JoinAnnounce) Sender() string  { return m.Player.ID }
func (m UpdatePlayer) Sender() string  { return m.PlayerID }
func (m AddObject) Sender() string     { return m.PlayerID }
func (m UpdateObject) Sender() string  { return m.PlayerID }
func (m RemoveObject) Sender() string  { return m.PlayerID }
func (m Leave) Sender() string         { return m.PlayerID }
func (m PlayerUpdated) Sender() string { return m.PlayerID }
func (m ObjectAdded) Sender() string   { return m.PlayerID }
func (m ObjectUpdated) Sender() string { return m.PlayerID }
func (m ObjectRemoved) Sender() string { return m.PlayerID }
func (m PlayerLeft) Sender() string    { return m.PlayerID }

func (m Ping) WithSender(id string) Message          { m.PlayerID = id; return m }
func (m Pong) WithSender(id string) Message          { m.PlayerID = id; return m }
func (m Chat) WithSender(id string) Message          { m.PlayerID = id; return m }
func (m JoinAnnounce) WithSender(id string) Message  { m.Player.ID = id; return m }
func (m UpdatePlayer) WithSender(id string) Message  { m.PlayerID = id; return m }
func (m AddObject) WithSender(id string) Message     { m.PlayerID = id; return m }
func (m UpdateObject) WithSender(id string) Message  { m.PlayerID = id; return m }
func (m RemoveObject) WithSender(id string) Message  { m.PlayerID = id; return m }
func (m Leave) WithSender(id string) Message         { m.PlayerID = id; return m }
func (m PlayerUpdated) WithSender(id string) Message { m.PlayerID = id; return m }
func (m ObjectAdded) WithSender(id string) Message   { m.PlayerID = id; return m }
func (m ObjectUpdated) WithSender(id string) Message { m.PlayerID = id; return m }
func (m ObjectRemoved) WithSender(id string) Message { m.PlayerID = id; return m }
func (m PlayerLeft) WithSender(id string) Message    { m.PlayerID = id; return m }
