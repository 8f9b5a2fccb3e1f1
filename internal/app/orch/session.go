package orch

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Connection states of the signaling channel as seen by the UI.
const (
	ConnDisconnected = "disconnected"
	ConnConnecting   = "connecting"
	ConnConnected    = "connected"
	ConnError        = "error"
)

const controlLabel = "muteStatus"

type Deps struct {
	Self     domain.User
	Rooms    core.RoomsAPI
	Signal   core.SignalTransport
	Media    core.MediaFactory
	Capture  core.CaptureDevice
	Playback core.PlaybackFactory

	// ChatLimiter throttles outbound chat when set.
	ChatLimiter *app.RateLimiter

	// SampleInterval is the audio level sampling tick.
	SampleInterval time.Duration
}

// Session is the client side of one room: signaling, the peer link mesh,
// capture, the participant directory and chat. All state changes run on
// the session loop.
type Session struct {
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc
	loop   *loop

	dir     *app.Directory
	chat    *app.Chat
	links   *app.Links
	capture *app.Capture
	bus     *app.Bus

	// Loop-owned.
	room      *domain.Room
	joining   domain.RoomID
	connState string
	lastErr   *core.RoomError
	early     map[domain.UserID][]webrtc.ICECandidateInit

	closeOnce sync.Once
}

func NewSession(parent context.Context, deps Deps) *Session {
	if deps.SampleInterval <= 0 {
		deps.SampleInterval = 50 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		loop:      newLoop(),
		dir:       app.NewDirectory(deps.Self.ID),
		links:     app.NewLinks(),
		capture:   app.NewCapture(deps.Capture),
		bus:       app.NewBus(64),
		connState: ConnDisconnected,
		early:     make(map[domain.UserID][]webrtc.ICECandidateInit),
	}
	s.chat = app.NewChat(deps.Self, deps.Signal.Send)
	if deps.ChatLimiter != nil {
		s.chat.Throttle(deps.ChatLimiter)
	}

	s.dir.OnChange(func() { s.bus.Publish(app.Event{Kind: app.EventParticipants}) })
	s.chat.OnChange(func() { s.bus.Publish(app.Event{Kind: app.EventMessages}) })

	deps.Signal.OnFrame(func(f core.Frame) {
		s.loop.post(func() { s.dispatch(f) })
	})
	deps.Signal.OnClose(func(err error) {
		s.loop.post(func() { s.handleSignalClosed(err) })
	})

	go s.loop.run(ctx)
	log.Info().Str("module", "orch").Str("user", string(deps.Self.ID)).Msg("session ready")
	return s
}

// Close leaves the current room and stops the session loop.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.loop.call(func() { s.teardown("session closed") })
		s.cancel()
		<-s.loop.done
	})
}

// State is a consistent snapshot of the session for the UI.
type State struct {
	Room          *domain.Room                              `json:"room"`
	Connection    string                                    `json:"connection"`
	Participants  []domain.Participant                      `json:"participants"`
	Messages      []domain.ChatMessage                      `json:"messages"`
	Links         map[domain.UserID]domain.NegotiationState `json:"links"`
	Muted         bool                                      `json:"muted"`
	CaptureActive bool                                      `json:"captureActive"`
	IsHost        bool                                      `json:"isHost"`
	Error         *core.RoomError                           `json:"error,omitempty"`
}

func (s *Session) Snapshot() State {
	var st State
	if err := s.loop.call(func() {
		st = State{
			Connection:    s.connState,
			Participants:  s.dir.Snapshot(),
			Messages:      s.chat.Messages(),
			Links:         make(map[domain.UserID]domain.NegotiationState, s.links.Len()),
			Muted:         s.capture.Muted(),
			CaptureActive: s.capture.Active(),
			IsHost:        s.room.IsHost(s.deps.Self.ID),
			Error:         s.lastErr,
		}
		if s.room != nil {
			r := *s.room
			st.Room = &r
		}
		for _, l := range s.links.Snapshot() {
			st.Links[l.ParticipantID] = l.State()
		}
	}); err != nil {
		st.Connection = ConnDisconnected
	}
	return st
}

// Subscribe returns a stream of change notifications and its cancel func.
func (s *Session) Subscribe() (<-chan app.Event, func()) { return s.bus.Subscribe() }

func (s *Session) raise(err *core.RoomError) {
	s.lastErr = err
	log.Warn().Str("module", "orch").Str("code", err.Code).Str("error", err.Message).Msg("room error")
	s.bus.Publish(app.Event{Kind: app.EventError, Message: err.Message})
}

func (s *Session) setConn(state string) {
	if s.connState == state {
		return
	}
	s.connState = state
	s.bus.Publish(app.Event{Kind: app.EventConnection, Message: state})
}
