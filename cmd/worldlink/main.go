// Command worldlink runs a WorldLink client, dedicated server, signaling broker or static host.
//
// One binary runs every role of a shared 3D world: the dedicated
// authoritative server, the signaling broker for peer meshes, the static
// asset host, and an interactive console client.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -mode, -addr, -name, -game, -host).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/worldlink/internal/config"
	"github.com/1ureka/worldlink/internal/coordinator"
	"github.com/1ureka/worldlink/internal/protocol"
	"github.com/1ureka/worldlink/internal/transport"
	"github.com/1ureka/worldlink/internal/ui"
	"github.com/1ureka/worldlink/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	envFile := flag.String("env", ".env", "Optional .env file with WORLDLINK_* settings")
	role := flag.String("role", "", "Role: server, broker, static or client")
	mode := flag.String("mode", "", "Client topology: dedicated or mesh")
	addr := flag.String("addr", "", "Listen address (server roles) or server/broker URL (client)")
	dir := flag.String("dir", "", "Directory served by the static role")
	name := flag.String("name", "", "Player name (client only)")
	color := flag.String("color", "", "Player color (client only)")
	game := flag.String("game", "", "Game id to join, or to host with -host")
	host := flag.Bool("host", false, "Host a game instead of joining one (client only)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	interactive := *role == "" && os.Getenv("WORLDLINK_ROLE") == ""
	if err := applyFlags(&cfg, *role, *mode, *addr, *dir, *name, *color, *game, *host, *debugMode); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		util.EnableDebug()
	}
	logger, err := util.NewLogger(cfg.Debug)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer logger.Sync()

	pterm.Info.Println(fmt.Sprintf("WorldLink — v%s", version))
	pterm.Println()

	if interactive {
		askConfig(&cfg)
	}

	switch cfg.Role {
	case config.RoleServer:
		err = runServer(ctx, coordinator.ServerDedicated, cfg.ServerAddr, cfg, logger)
	case config.RoleBroker:
		err = runServer(ctx, coordinator.ServerSignaling, cfg.BrokerAddr, cfg, logger)
	case config.RoleStatic:
		err = runServer(ctx, coordinator.ServerStaticHost, cfg.StaticAddr, cfg, logger)
	case config.RoleClient:
		err = runClient(ctx, cfg, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully shut down")
}

// applyFlags lays explicitly given flags over the environment configuration.
func applyFlags(cfg *config.Config, role, mode, addr, dir, name, color, game string, host, debug bool) error {
	var err error
	if role != "" {
		if cfg.Role, err = config.ParseRole(role); err != nil {
			return err
		}
	}
	if mode != "" {
		if cfg.Mode, err = config.ParseMode(mode); err != nil {
			return err
		}
	}
	if addr != "" {
		switch cfg.Role {
		case config.RoleBroker:
			cfg.BrokerAddr = addr
		case config.RoleStatic:
			cfg.StaticAddr = addr
		case config.RoleClient:
			if cfg.Mode == config.ModeMesh {
				cfg.BrokerAddr = addr
			} else {
				cfg.ServerAddr = addr
			}
		default:
			cfg.ServerAddr = addr
		}
	}
	if dir != "" {
		cfg.StaticDir = dir
	}
	if name != "" {
		cfg.PlayerName = name
	}
	if color != "" {
		cfg.PlayerColor = color
	}
	if game != "" {
		cfg.GameID = game
	}
	cfg.HostGame = cfg.HostGame || host
	cfg.Debug = cfg.Debug || debug

	if cfg.Role == config.RoleClient && !cfg.HostGame && cfg.GameID == "" {
		// Nothing to join: host a fresh game.
		cfg.HostGame = true
	}
	return nil
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runServer hosts one of the server roles until ctx is cancelled.
func runServer(ctx context.Context, kind coordinator.ServerKind, addr string, cfg config.Config, logger *zap.Logger) error {
	listener, err := transport.Listen(addr)
	if err != nil {
		return err
	}

	c := coordinator.New(coordinator.Params{Logger: logger})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return c.Serve(ctx, kind, listener, cfg.StaticDir)
	})

	util.StartStatsReporter(ctx)
	util.LogSuccess("%s listening on %s", kind, listener.Addr())
	if kind != coordinator.ServerStaticHost {
		util.LogInfo("metrics at http://%s/metrics", listener.Addr())
	}
	return g.Wait()
}

// runClient connects, hosts or joins a game, then drives it from stdin.
func runClient(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	topology, target := coordinator.TopologyDedicated, cfg.ServerAddr
	if cfg.Mode == config.ModeMesh {
		topology, target = coordinator.TopologyMesh, cfg.BrokerAddr
	}
	wsURL, err := config.NormalizeWSURL(target)
	if err != nil {
		return err
	}

	console := ui.NewConsole(os.Stdout)
	c := coordinator.New(coordinator.Params{
		Player:               protocol.PlayerInfo{Name: cfg.PlayerName, Color: cfg.PlayerColor},
		Factory:              transport.NewPionFactory(cfg.STUNServers),
		UI:                   console,
		PingInterval:         cfg.PingInterval,
		PlayerUpdateInterval: cfg.PlayerUpdateInterval,
		ObjectUpdateInterval: cfg.ObjectUpdateInterval,
		Logger:               logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		c.Run(runCtx)
		return nil
	})

	util.LogInfo("connecting to %s (%s)", wsURL, topology)
	if err := c.Connect(ctx, wsURL, topology); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("failed to connect: %w", err)
	}

	if cfg.HostGame {
		err = c.HostGame(ctx, cfg.GameID)
	} else {
		err = c.JoinGame(ctx, cfg.GameID)
	}
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	util.LogSuccess("connected — type /chat, /move x y z, /spawn kind, /remove id, /roster or /quit")

	g.Go(func() error {
		defer cancel()
		return ui.ReadCommands(runCtx, os.Stdin, func(cmd ui.Command) {
			if err := dispatch(runCtx, c, console, cmd); err != nil {
				util.LogWarning("%v", err)
			}
		}, func(err error) {
			util.LogWarning("%v", err)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dispatch runs one console command against the coordinator.
func dispatch(ctx context.Context, c *coordinator.Coordinator, console *ui.Console, cmd ui.Command) error {
	switch cmd.Kind {
	case ui.CmdChat:
		return c.Chat(ctx, cmd.Text)
	case ui.CmdMove:
		_, err := c.Move(ctx, cmd.Position, protocol.IdentityQuat)
		return err
	case ui.CmdSpawn:
		id, err := c.Spawn(ctx, cmd.Text, cmd.Position)
		if err == nil {
			util.LogInfo("spawned %s %s", cmd.Text, id)
		}
		return err
	case ui.CmdRemove:
		return c.RemoveObject(ctx, cmd.Text)
	case ui.CmdRoster:
		st := c.Status()
		util.LogInfo("%s game %s as %s", st.State, st.GameID, util.ShortID(st.SelfID))
		if ms, ok := st.Pings[st.SelfID]; ok {
			util.LogInfo("ping %.1f ms", ms)
		}
		return console.PrintRoster()
	case ui.CmdQuit:
		return c.Disconnect(ctx)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askConfig fills the configuration from prompts when no -role flag is given.
func askConfig(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Client — Join or host a world",
			"Server — Dedicated authoritative server",
			"Broker — Signaling broker for peer meshes",
			"Static — Serve client assets over HTTP",
		}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Server"):
		cfg.Role = config.RoleServer
		cfg.ServerAddr = askText("Listen address", cfg.ServerAddr)
		return
	case strings.HasPrefix(role, "Broker"):
		cfg.Role = config.RoleBroker
		cfg.BrokerAddr = askText("Listen address", cfg.BrokerAddr)
		return
	case strings.HasPrefix(role, "Static"):
		cfg.Role = config.RoleStatic
		cfg.StaticAddr = askText("Listen address", cfg.StaticAddr)
		cfg.StaticDir = askText("Directory to serve", cfg.StaticDir)
		return
	}

	cfg.Role = config.RoleClient
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Dedicated — Connect to a server", "Mesh — Peer-to-peer through a broker"}).
		WithDefaultText("Select topology").
		Show()
	pterm.Println()

	if strings.HasPrefix(mode, "Mesh") {
		cfg.Mode = config.ModeMesh
		cfg.BrokerAddr = askURL("Broker URL (e.g. wss://***.asse.devtunnels.ms/ws)")
	} else {
		cfg.Mode = config.ModeDedicated
		cfg.ServerAddr = askURL("Server URL (e.g. ws://localhost:8080/ws)")
	}

	cfg.PlayerName = askText("Player name", cfg.PlayerName)
	cfg.GameID = askText("Game id (empty to host a new game)", "")
	if cfg.GameID == "" {
		cfg.HostGame = true
		return
	}
	cfg.HostGame, _ = pterm.DefaultInteractiveConfirm.
		WithDefaultText("Host this game id instead of joining it?").
		WithDefaultValue(false).
		Show()
	pterm.Println()
}

// askText prompts once, keeping def when the answer is empty.
func askText(prompt, def string) string {
	text := prompt
	if def != "" {
		text = fmt.Sprintf("%s [%s]", prompt, def)
	}
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(text).
		Show()
	pterm.Println()

	if raw = strings.TrimSpace(raw); raw == "" {
		return def
	}
	return raw
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		wsURL, err := config.NormalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
