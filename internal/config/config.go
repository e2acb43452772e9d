// Package config holds the process configuration gathered from an optional
// .env file, WORLDLINK_* environment variables and CLI flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/1ureka/worldlink/internal/latency"
	"github.com/1ureka/worldlink/internal/ratelimit"
	"github.com/1ureka/worldlink/internal/transport"
)

// Role is the process role chosen at startup.
type Role string

const (
	RoleServer Role = "server" // dedicated authoritative server
	RoleBroker Role = "broker" // signaling broker
	RoleStatic Role = "static" // static file host
	RoleClient Role = "client" // interactive client
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleServer, RoleBroker, RoleStatic, RoleClient:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q: must be server, broker, static or client", s)
}

// Mode is the topology a client connects with.
type Mode string

const (
	ModeDedicated Mode = "dedicated"
	ModeMesh      Mode = "mesh"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDedicated, ModeMesh:
		return m, nil
	}
	return "", fmt.Errorf("invalid mode %q: must be dedicated or mesh", s)
}

// Config stores every runtime parameter.
type Config struct {
	Role Role
	Mode Mode

	ServerAddr string // dedicated server: listen address, or URL for clients
	BrokerAddr string // broker: listen address, or URL for clients
	StaticAddr string // static host listen address
	StaticDir  string // directory served by the static host

	PlayerName  string
	PlayerColor string
	GameID      string
	HostGame    bool // host GameID instead of joining it

	STUNServers []string

	PingInterval         time.Duration
	PlayerUpdateInterval time.Duration
	ObjectUpdateInterval time.Duration

	Debug bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Role:                 RoleClient,
		Mode:                 ModeDedicated,
		ServerAddr:           ":8080",
		BrokerAddr:           ":8081",
		StaticAddr:           ":8000",
		StaticDir:            ".",
		PlayerName:           "player",
		PlayerColor:          "#4f8cff",
		STUNServers:          append([]string(nil), transport.DefaultSTUNServers...),
		PingInterval:         latency.DefaultInterval,
		PlayerUpdateInterval: ratelimit.DefaultPlayerPoseInterval,
		ObjectUpdateInterval: ratelimit.DefaultObjectStateInterval,
	}
}

// Load reads an optional .env file at path into the environment, then
// returns FromEnv. A missing file is not an error.
func Load(path string) (Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv maps WORLDLINK_* variables onto the defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup("WORLDLINK_" + key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	var err error
	if v, ok := get("ROLE"); ok {
		if cfg.Role, err = ParseRole(v); err != nil {
			return Config{}, err
		}
	}
	if v, ok := get("MODE"); ok {
		if cfg.Mode, err = ParseMode(v); err != nil {
			return Config{}, err
		}
	}

	strs := map[string]*string{
		"SERVER_ADDR":  &cfg.ServerAddr,
		"BROKER_ADDR":  &cfg.BrokerAddr,
		"STATIC_ADDR":  &cfg.StaticAddr,
		"STATIC_DIR":   &cfg.StaticDir,
		"PLAYER_NAME":  &cfg.PlayerName,
		"PLAYER_COLOR": &cfg.PlayerColor,
		"GAME_ID":      &cfg.GameID,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	if v, ok := get("STUN"); ok {
		cfg.STUNServers = splitList(v)
	}

	durations := map[string]*time.Duration{
		"PING_INTERVAL":          &cfg.PingInterval,
		"PLAYER_UPDATE_INTERVAL": &cfg.PlayerUpdateInterval,
		"OBJECT_UPDATE_INTERVAL": &cfg.ObjectUpdateInterval,
	}
	for key, dst := range durations {
		v, ok := get(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid WORLDLINK_%s %q: must be a positive duration", key, v)
		}
		*dst = d
	}

	if v, ok := get("HOST"); ok {
		if cfg.HostGame, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid WORLDLINK_HOST %q: %w", v, err)
		}
	}
	if v, ok := get("DEBUG"); ok {
		if cfg.Debug, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid WORLDLINK_DEBUG %q: %w", v, err)
		}
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NormalizeWSURL validates and normalizes a raw WebSocket URL string. A
// bare host gets the wss scheme, a bare :port means a local plain socket;
// the path is always /ws.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, ":") {
		raw = "ws://localhost" + raw
	}
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
