package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/1ureka/worldlink/internal/protocol"
)

// CommandKind identifies a console command.
type CommandKind int

const (
	CmdChat CommandKind = iota
	CmdMove
	CmdSpawn
	CmdRemove
	CmdRoster
	CmdQuit
)

// Command is one parsed console line.
type Command struct {
	Kind     CommandKind
	Text     string // chat text, spawn kind, or object id
	Position protocol.Vec3
}

// ErrUnknownCommand is returned for an unrecognized slash command.
var ErrUnknownCommand = errors.New("unknown command")

// ParseCommand parses a console line. A line without a leading slash is chat.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, errors.New("empty line")
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CmdChat, Text: line}, nil
	}

	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/chat":
		text := strings.TrimSpace(strings.TrimPrefix(line, "/chat"))
		if text == "" {
			return Command{}, errors.New("usage: /chat <text>")
		}
		return Command{Kind: CmdChat, Text: text}, nil
	case "/move":
		pos, err := parseVec3(args)
		if err != nil {
			return Command{}, fmt.Errorf("usage: /move <x> <y> <z>: %w", err)
		}
		return Command{Kind: CmdMove, Position: pos}, nil
	case "/spawn":
		if len(args) < 1 {
			return Command{}, errors.New("usage: /spawn <kind> [x y z]")
		}
		cmd := Command{Kind: CmdSpawn, Text: args[0]}
		if len(args) > 1 {
			pos, err := parseVec3(args[1:])
			if err != nil {
				return Command{}, fmt.Errorf("usage: /spawn <kind> [x y z]: %w", err)
			}
			cmd.Position = pos
		}
		return cmd, nil
	case "/remove":
		if len(args) != 1 {
			return Command{}, errors.New("usage: /remove <object-id>")
		}
		return Command{Kind: CmdRemove, Text: args[0]}, nil
	case "/roster":
		return Command{Kind: CmdRoster}, nil
	case "/quit":
		return Command{Kind: CmdQuit}, nil
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
}

func parseVec3(args []string) (protocol.Vec3, error) {
	if len(args) != 3 {
		return protocol.Vec3{}, fmt.Errorf("want 3 coordinates, got %d", len(args))
	}
	var v [3]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return protocol.Vec3{}, err
		}
		v[i] = f
	}
	return protocol.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

// ReadCommands parses lines from r until EOF, ctx cancellation, or a quit
// command. Parse errors go to onError.
func ReadCommands(ctx context.Context, r io.Reader, handle func(Command), onError func(error)) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			handle(cmd)
			if cmd.Kind == CmdQuit {
				return nil
			}
		}
	}
}
