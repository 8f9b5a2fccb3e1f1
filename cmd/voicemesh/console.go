package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicemesh/internal/adapters/http"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

const consoleHelp = `commands:
  rooms             list active rooms
  create <title>    create a room
  delete <id>       delete a room
  join <id>         join a room
  leave             leave the room
  mic               start capture (muted)
  mute              toggle mute
  say <text>        send a chat message
  state             print participants and links
  help`

// runConsole reads line commands until stdin closes or ctx ends.
func runConsole(ctx context.Context, in io.Reader, s router.SessionAPI, rooms core.RoomsAPI) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		arg = strings.TrimSpace(arg)
		if err := runCommand(ctx, os.Stdout, s, rooms, cmd, arg); err != nil {
			log.Warn().Err(err).Str("module", "console").Str("cmd", cmd).Msg("command failed")
		}
	}
}

func runCommand(ctx context.Context, out io.Writer, s router.SessionAPI, rooms core.RoomsAPI, cmd, arg string) error {
	switch cmd {
	case "":
		return nil
	case "rooms":
		list, err := rooms.ListActive(ctx)
		if err != nil {
			return err
		}
		for _, r := range list {
			fmt.Fprintf(out, "%s  %-24s live=%t participants=%d\n", r.ID, r.Title, r.IsLive, r.ActiveParticipants)
		}
	case "create":
		r, err := rooms.Create(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s\n", r.ID)
	case "delete":
		id := domain.RoomID(arg)
		if err := rooms.Delete(ctx, id); err != nil {
			return err
		}
		if room := s.Snapshot().Room; room != nil && room.ID == id {
			return s.Leave()
		}
	case "join":
		return s.Join(ctx, domain.RoomID(arg))
	case "leave":
		return s.Leave()
	case "mic":
		return s.StartCapture(ctx)
	case "mute":
		muted, err := s.ToggleMute()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "muted=%t\n", muted)
	case "say":
		_, err := s.SendChat(arg)
		return err
	case "state":
		printState(out, s.Snapshot())
	case "help":
		fmt.Fprintln(out, consoleHelp)
	default:
		fmt.Fprintf(out, "unknown command %q\n", cmd)
	}
	return nil
}

func printState(out io.Writer, st orch.State) {
	room := "-"
	if st.Room != nil {
		room = st.Room.Title
	}
	fmt.Fprintf(out, "room=%s connection=%s capture=%t muted=%t host=%t\n", room, st.Connection, st.CaptureActive, st.Muted, st.IsHost)
	for _, p := range st.Participants {
		name := p.DisplayName()
		if p.IsCurrentUser {
			name += " (you)"
		}
		fmt.Fprintf(out, "  %-20s muted=%-5t level=%.2f link=%s\n", name, p.IsMuted, p.AudioLevel, st.Links[p.ID])
	}
	if st.Error != nil {
		fmt.Fprintf(out, "error: %s\n", st.Error.Message)
	}
}
