package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, RoleClient, cfg.Role)
	assert.Equal(t, ModeDedicated, cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 16*time.Millisecond, cfg.PlayerUpdateInterval)
	assert.Equal(t, 42*time.Millisecond, cfg.ObjectUpdateInterval)
	assert.NotEmpty(t, cfg.STUNServers)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"WORLDLINK_ROLE":                   "Broker",
		"WORLDLINK_MODE":                   "mesh",
		"WORLDLINK_BROKER_ADDR":            ":9000",
		"WORLDLINK_PLAYER_NAME":            " Ann ",
		"WORLDLINK_GAME_ID":                "G2",
		"WORLDLINK_STUN":                   "stun:a:1, ,stun:b:2",
		"WORLDLINK_PING_INTERVAL":          "250ms",
		"WORLDLINK_OBJECT_UPDATE_INTERVAL": "100ms",
		"WORLDLINK_DEBUG":                  "true",
		"WORLDLINK_HOST":                   "1",
	}))
	require.NoError(t, err)
	assert.Equal(t, RoleBroker, cfg.Role)
	assert.Equal(t, ModeMesh, cfg.Mode)
	assert.Equal(t, ":9000", cfg.BrokerAddr)
	assert.Equal(t, "Ann", cfg.PlayerName)
	assert.Equal(t, "G2", cfg.GameID)
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, cfg.STUNServers)
	assert.Equal(t, 250*time.Millisecond, cfg.PingInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ObjectUpdateInterval)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.HostGame)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"WORLDLINK_ROLE":          "observer",
		"WORLDLINK_MODE":          "p2p",
		"WORLDLINK_PING_INTERVAL": "-1s",
		"WORLDLINK_DEBUG":         "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := FromEnv(lookupFrom(map[string]string{key: value}))
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WORLDLINK_PLAYER_COLOR=#ff0000\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("WORLDLINK_PLAYER_COLOR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", cfg.PlayerColor)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestNormalizeWSURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ws://localhost:8080", "ws://localhost:8080/ws"},
		{"wss://example.com/anything", "wss://example.com/ws"},
		{"http://127.0.0.1:9000", "ws://127.0.0.1:9000/ws"},
		{"https://example.com", "wss://example.com/ws"},
		{"example.com:443", "wss://example.com:443/ws"},
		{":8080", "ws://localhost:8080/ws"},
	}
	for _, tc := range cases {
		got, err := NormalizeWSURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := NormalizeWSURL("")
	assert.Error(t, err)
}
