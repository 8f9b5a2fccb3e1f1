package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrJoinAborted = errors.New("join aborted")

// Join enters a room: fetches the room detail, seeds the directory with
// the local user and the roster, and opens the signaling channel. Joining
// the room that is already connected or connecting is a no-op; joining
// another room leaves the current one first.
func (s *Session) Join(ctx context.Context, id domain.RoomID) error {
	skip := false
	if err := s.loop.call(func() {
		if s.room != nil && s.room.ID == id && (s.connState == ConnConnected || s.connState == ConnConnecting) {
			skip = true
			return
		}
		if s.joining == id {
			skip = true
			return
		}
		if s.room != nil {
			s.teardown("switching room")
		}
		s.joining = id
	}); err != nil {
		return err
	}
	if skip {
		log.Info().Str("module", "orch").Str("room", string(id)).Msg("join skipped, already in room")
		return nil
	}

	room, err := s.deps.Rooms.Get(ctx, id)
	if err != nil {
		_ = s.loop.call(func() {
			if s.joining == id {
				s.joining = ""
			}
			s.raise(&core.RoomError{Message: "Failed to fetch room details"})
		})
		return fmt.Errorf("fetch room %s: %w", id, err)
	}

	aborted := false
	if err := s.loop.call(func() {
		if s.joining != id {
			aborted = true
			return
		}
		s.joining = ""
		s.enterRoom(room)
	}); err != nil {
		return err
	}
	if aborted {
		return ErrJoinAborted
	}

	if err := s.deps.Signal.Connect(ctx, string(id)); err != nil {
		_ = s.loop.call(func() {
			if s.room == nil || s.room.ID != id {
				return
			}
			s.setConn(ConnError)
			s.raise(&core.RoomError{Message: "Failed to connect to room"})
		})
		return fmt.Errorf("connect room %s: %w", id, err)
	}
	return nil
}

func (s *Session) enterRoom(room *domain.Room) {
	s.resetState()
	s.room = room
	s.chat.SetRoom(room.ID)
	s.dir.UpsertUser(s.deps.Self, room.IsHost(s.deps.Self.ID))
	s.syncRoster(room.ExistingParticipants)
	s.setConn(ConnConnecting)
	s.bus.Publish(app.Event{Kind: app.EventRoom, Message: string(room.ID)})
	log.Info().Str("module", "orch").Str("room", string(room.ID)).Str("host", string(room.HostID)).Int("roster", len(room.ExistingParticipants)).Msg("entered room")
}

// syncRoster adds already-present participants. Their links are created
// when their offers arrive.
func (s *Session) syncRoster(users []domain.User) {
	for _, u := range users {
		if u.ID == s.deps.Self.ID {
			continue
		}
		if err := u.Validate(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("id", string(u.ID)).Msg("bad roster entry")
			continue
		}
		s.dir.UpsertUser(u, s.room.IsHost(u.ID))
	}
}

// Leave tears down every link, the signaling channel and the room state.
func (s *Session) Leave() error {
	return s.loop.call(func() {
		s.joining = ""
		s.teardown("leave")
	})
}

func (s *Session) teardown(reason string) {
	n := s.links.CloseAll()
	s.deps.Signal.Close()
	s.capture.Stop()
	s.early = make(map[domain.UserID][]webrtc.ICECandidateInit)
	had := s.room != nil
	s.room = nil
	s.dir.Reset()
	s.chat.Reset()
	s.setConn(ConnDisconnected)
	if had {
		s.bus.Publish(app.Event{Kind: app.EventRoom})
		log.Info().Str("module", "orch").Str("reason", reason).Int("links_closed", n).Msg("room session torn down")
	}
}

func (s *Session) resetState() {
	s.links.CloseAll()
	s.early = make(map[domain.UserID][]webrtc.ICECandidateInit)
	s.dir.Reset()
	s.chat.Reset()
	s.lastErr = nil
}

// SendChat sends text optimistically; see app.Chat.
func (s *Session) SendChat(text string) (domain.ChatMessage, error) {
	return s.chat.Send(text)
}

func (s *Session) dispatch(f core.Frame) {
	var env core.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("bad json")
		return
	}
	if s.room == nil {
		log.Debug().Str("module", "orch").Str("type", env.Type).Msg("frame outside of a room ignored")
		return
	}

	switch env.Type {
	case core.TypeConnected:
		s.handleConnected(env)
	case core.TypeUserJoined:
		s.handleUserJoined(env)
	case core.TypeUserLeft:
		s.handleUserLeft(env)
	case core.TypeChat:
		s.chat.HandleEcho(env)
	case core.TypeWebRTCSignal:
		s.handleSignal(env)
	case core.TypeRoomDeleted:
		s.handleRoomDeleted()
	case core.TypeError:
		s.setConn(ConnError)
		s.raise(core.NewCodedError(env.Code, env.Message))
	default:
		log.Warn().Str("module", "orch").Str("type", env.Type).Msg("unknown envelope")
	}
}

func (s *Session) handleConnected(env core.Envelope) {
	log.Info().Str("module", "orch").Str("room", string(env.RoomID)).Msg("connected")
	s.setConn(ConnConnected)
	s.syncRoster(env.ExistingParticipants)
}

func (s *Session) handleUserJoined(env core.Envelope) {
	if env.User == nil {
		log.Warn().Str("module", "orch").Str("username", env.Username).Msg("user_joined without user")
		return
	}
	u := *env.User
	if err := u.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("bad user_joined")
		return
	}
	if u.ID == s.deps.Self.ID {
		return
	}
	log.Info().Str("module", "orch").Str("peer", string(u.ID)).Str("username", u.Username).Msg("user joined")
	s.dir.UpsertUser(u, s.room.IsHost(u.ID))
	s.connectPeer(u.ID)
}

func (s *Session) handleUserLeft(env core.Envelope) {
	id := env.UserID
	if env.User != nil {
		id = env.User.ID
	}
	if id == "" || id == s.deps.Self.ID {
		return
	}
	log.Info().Str("module", "orch").Str("peer", string(id)).Msg("user left")
	s.dropPeer(id)
}

func (s *Session) dropPeer(id domain.UserID) {
	s.links.Remove(id, nil)
	delete(s.early, id)
	s.dir.Remove(id)
}

func (s *Session) handleRoomDeleted() {
	log.Info().Str("module", "orch").Msg("room deleted by host")
	s.teardown("room deleted")
	s.raise(&core.RoomError{Message: "Room was deleted by the host"})
}

func (s *Session) handleSignalClosed(err error) {
	if s.room == nil {
		return
	}
	log.Warn().Err(err).Str("module", "orch").Str("room", string(s.room.ID)).Msg("signal channel closed")
	s.setConn(ConnDisconnected)
	s.raise(&core.RoomError{Message: "Connection to room lost"})
}
