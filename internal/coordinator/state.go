package coordinator

import "fmt"

// Mode is the coarse connection mode. Exactly one is active at a time.
type Mode int

const (
	ModeInactive Mode = iota
	ModeServer
	ModeDedicatedClient
	ModeMeshClient
)

func (m Mode) String() string {
	switch m {
	case ModeInactive:
		return "inactive"
	case ModeServer:
		return "server"
	case ModeDedicatedClient:
		return "dedicated-client"
	case ModeMeshClient:
		return "mesh-client"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ServerKind selects which server a ModeServer process runs.
type ServerKind int

const (
	ServerDedicated ServerKind = iota
	ServerSignaling
	ServerStaticHost
)

func (k ServerKind) String() string {
	switch k {
	case ServerDedicated:
		return "dedicated"
	case ServerSignaling:
		return "signaling"
	case ServerStaticHost:
		return "static"
	}
	return fmt.Sprintf("server(%d)", int(k))
}

// State is the active topology: a mode plus its qualifier.
type State struct {
	Mode   Mode
	Server ServerKind // ModeServer only
	IsHost bool       // ModeMeshClient only
}

func (s State) String() string {
	switch s.Mode {
	case ModeServer:
		return "server(" + s.Server.String() + ")"
	case ModeMeshClient:
		if s.IsHost {
			return "mesh-client(host)"
		}
	}
	return s.Mode.String()
}

// Topology is what Connect dials into.
type Topology int

const (
	TopologyDedicated Topology = iota
	TopologyMesh
)

func (t Topology) String() string {
	if t == TopologyMesh {
		return "mesh"
	}
	return "dedicated"
}
