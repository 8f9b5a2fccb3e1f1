package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// connectPeer is the caller path: link, control channel, offer.
func (s *Session) connectPeer(id domain.UserID) {
	if _, ok := s.links.Get(id); ok {
		log.Debug().Str("module", "orch").Str("peer", string(id)).Msg("link exists, no offer")
		return
	}
	link, err := s.newLink(id)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", string(id)).Msg("create link")
		return
	}
	ch, err := link.Conn.CreateControlChannel(controlLabel)
	if err != nil {
		s.failLink(link, "create control channel", err)
		return
	}
	s.bindControl(link, ch)

	offer, err := link.Conn.CreateOffer()
	if err != nil {
		s.failLink(link, "create offer", err)
		return
	}
	link.SetState(domain.NegotiationOfferSent)
	if err := s.sendSignal(core.SignalOffer, id, offer); err != nil {
		s.failLink(link, "send offer", err)
	}
}

// newLink builds and registers a link. Local tracks are attached when
// capture is active; candidates that arrived early are handed over.
func (s *Session) newLink(id domain.UserID) (*app.PeerLink, error) {
	conn, err := s.deps.Media.NewConnection(string(id))
	if err != nil {
		return nil, fmt.Errorf("new media connection: %w", err)
	}
	link := app.NewPeerLink(id, conn)

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.loop.post(func() {
			if !s.current(link) {
				return
			}
			if err := s.sendSignal(core.SignalCandidate, id, c); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("peer", string(id)).Msg("send candidate")
			}
		})
	})
	conn.OnControlChannel(func(ch core.ControlChannel) {
		s.loop.post(func() {
			if !s.current(link) {
				_ = ch.Close()
				return
			}
			s.bindControl(link, ch)
		})
	})
	conn.OnRemoteStream(func(st core.RemoteStream) {
		s.loop.post(func() { s.attachStream(link, st) })
	})
	conn.OnClosed(func() {
		s.loop.post(func() {
			if s.links.Remove(id, link) {
				log.Info().Str("module", "orch").Str("peer", string(id)).Msg("peer connection closed")
			}
		})
	})

	if err := conn.Start(s.ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start media connection: %w", err)
	}
	for _, t := range s.capture.Tracks() {
		if err := conn.AttachLocalTrack(t); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("peer", string(id)).Str("track", t.ID()).Msg("attach local track")
		}
	}
	if !s.links.Add(link) {
		conn.Close()
		return nil, fmt.Errorf("link for %s already registered", id)
	}
	if early, ok := s.early[id]; ok {
		link.Retain(early)
		delete(s.early, id)
	}
	return link, nil
}

func (s *Session) current(link *app.PeerLink) bool {
	l, ok := s.links.Get(link.ParticipantID)
	return ok && l == link
}

// failLink tears one link down; the rest of the session is untouched.
func (s *Session) failLink(link *app.PeerLink, op string, err error) {
	log.Error().Err(err).Str("module", "orch").Str("peer", string(link.ParticipantID)).Str("op", op).Msg("peer link failed")
	if !s.links.Remove(link.ParticipantID, link) {
		link.Close()
	}
}

func (s *Session) sendSignal(signalType string, target domain.UserID, data any) error {
	return s.deps.Signal.Send(core.NewSignalMessage(signalType, target, data))
}

func (s *Session) handleSignal(env core.Envelope) {
	from := env.FromUserID
	if from == "" || from == s.deps.Self.ID {
		log.Warn().Str("module", "orch").Str("signal", env.SignalType).Msg("signal without valid sender")
		return
	}
	switch env.SignalType {
	case core.SignalOffer:
		s.handleOffer(from, env.Data)
	case core.SignalAnswer:
		s.handleAnswer(from, env.Data)
	case core.SignalCandidate:
		s.handleCandidate(from, env.Data)
	default:
		log.Warn().Str("module", "orch").Str("signal", env.SignalType).Msg("unknown signal type")
	}
}

// handleOffer is the callee path.
func (s *Session) handleOffer(from domain.UserID, data json.RawMessage) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", string(from)).Msg("bad offer payload")
		return
	}

	link, ok := s.links.Get(from)
	if ok && link.State() == domain.NegotiationOfferSent {
		// Both sides offered. The lower id keeps its own offer.
		if s.deps.Self.ID < from {
			log.Info().Str("module", "orch").Str("peer", string(from)).Msg("offer glare, keeping local offer")
			return
		}
		log.Info().Str("module", "orch").Str("peer", string(from)).Msg("offer glare, yielding to remote offer")
		if pending := link.TakePending(); len(pending) > 0 {
			s.early[from] = append(s.early[from], pending...)
		}
		s.links.Remove(from, link)
		ok = false
	}
	if !ok {
		s.dir.Ensure(from)
		var err error
		if link, err = s.newLink(from); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("peer", string(from)).Msg("create link for offer")
			return
		}
	}

	answer, err := link.Conn.ApplyOffer(offer)
	if err != nil {
		s.failLink(link, "apply offer", err)
		return
	}
	if err := link.FlushCandidates(); err != nil {
		s.failLink(link, "apply retained candidates", err)
		return
	}
	link.SetState(domain.NegotiationStable)
	if err := s.sendSignal(core.SignalAnswer, from, answer); err != nil {
		s.failLink(link, "send answer", err)
	}
}

func (s *Session) handleAnswer(from domain.UserID, data json.RawMessage) {
	link, ok := s.links.Get(from)
	if !ok {
		log.Warn().Str("module", "orch").Str("peer", string(from)).Msg("answer for unknown link")
		return
	}
	if st := link.State(); st != domain.NegotiationOfferSent {
		log.Warn().Str("module", "orch").Str("peer", string(from)).Str("state", string(st)).Msg("unexpected answer")
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		s.failLink(link, "decode answer", err)
		return
	}
	link.SetState(domain.NegotiationAnswerReceived)
	if err := link.Conn.ApplyAnswer(answer); err != nil {
		s.failLink(link, "apply answer", err)
		return
	}
	if err := link.FlushCandidates(); err != nil {
		s.failLink(link, "apply retained candidates", err)
		return
	}
	link.SetState(domain.NegotiationStable)
}

func (s *Session) handleCandidate(from domain.UserID, data json.RawMessage) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &c); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", string(from)).Msg("bad candidate payload")
		return
	}
	link, ok := s.links.Get(from)
	if !ok {
		s.early[from] = append(s.early[from], c)
		log.Debug().Str("module", "orch").Str("peer", string(from)).Int("retained", len(s.early[from])).Msg("candidate before link, retained")
		return
	}
	if err := link.AddCandidate(c); err != nil {
		s.failLink(link, "add ice candidate", err)
	}
}

func (s *Session) bindControl(link *app.PeerLink, ch core.ControlChannel) {
	link.SetControl(ch)
	id := link.ParticipantID
	ch.OnOpen(func() {
		s.loop.post(func() {
			if s.current(link) && link.Control() == ch {
				log.Debug().Str("module", "orch").Str("peer", string(id)).Msg("control channel open")
				s.sendMute(link, s.capture.Muted())
			}
		})
	})
	ch.OnMessage(func(b []byte) {
		s.loop.post(func() {
			if s.current(link) {
				s.handleControlMessage(id, b)
			}
		})
	})
	ch.OnClose(func() {
		log.Debug().Str("module", "orch").Str("peer", string(id)).Msg("control channel closed")
	})
}

func (s *Session) handleControlMessage(from domain.UserID, b []byte) {
	var msg core.MuteStatus
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", string(from)).Msg("bad control message")
		return
	}
	if msg.Type != core.TypeMuteStatus {
		log.Warn().Str("module", "orch").Str("peer", string(from)).Str("type", msg.Type).Msg("unknown control message")
		return
	}
	s.dir.SetMuted(from, app.SourceSideChannel, msg.IsMuted)
}

func (s *Session) sendMute(link *app.PeerLink, muted bool) {
	ch := link.Control()
	if ch == nil || !ch.IsOpen() {
		return
	}
	b, err := json.Marshal(core.MuteStatus{Type: core.TypeMuteStatus, IsMuted: muted})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal mute status")
		return
	}
	if err := ch.Send(b); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", string(link.ParticipantID)).Msg("send mute status")
	}
}

func (s *Session) broadcastMute(muted bool) {
	for _, l := range s.links.Snapshot() {
		s.sendMute(l, muted)
	}
}

// attachStream acquires the playback handle and starts the level monitor.
// Playback does not depend on the monitor.
func (s *Session) attachStream(link *app.PeerLink, st core.RemoteStream) {
	if !s.current(link) {
		return
	}
	id := link.ParticipantID
	var pb core.Playback
	if s.deps.Playback != nil {
		var err error
		if pb, err = s.deps.Playback.Acquire(string(id)); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("peer", string(id)).Msg("acquire playback")
			pb = nil
		}
	}
	if pb != nil {
		st.Attach(pb)
	}
	m := app.StartMonitor(s.ctx, string(id), st, s.deps.SampleInterval, func(v float64) {
		s.dir.SetAudioLevel(id, v)
	})
	link.AttachStream(pb, m)
	log.Info().Str("module", "orch").Str("peer", string(id)).Str("stream", st.ID()).Msg("remote stream attached")
}

// StartCapture acquires the microphone and attaches it to every link. On
// failure the user stays listen-only.
func (s *Session) StartCapture(ctx context.Context) error {
	tracks, err := s.capture.Start(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("capture unavailable, listen-only")
		s.bus.Publish(app.Event{Kind: app.EventError, Message: "Microphone unavailable, listening only"})
		return err
	}
	if len(tracks) == 0 {
		return nil
	}
	return s.loop.call(func() {
		for _, l := range s.links.Snapshot() {
			for _, t := range tracks {
				if err := l.Conn.AttachLocalTrack(t); err != nil {
					log.Warn().Err(err).Str("module", "orch").Str("peer", string(l.ParticipantID)).Msg("attach local track")
				}
			}
		}
		s.dir.SetMuted(s.deps.Self.ID, app.SourceLocal, s.capture.Muted())
		s.bus.Publish(app.Event{Kind: app.EventMute})
	})
}

func (s *Session) StopCapture() error {
	return s.loop.call(func() {
		s.capture.Stop()
		s.dir.SetMuted(s.deps.Self.ID, app.SourceLocal, true)
		s.broadcastMute(true)
		s.bus.Publish(app.Event{Kind: app.EventMute})
	})
}

// ToggleMute flips local track enablement, updates the local participant
// and broadcasts on every open side-channel. Before capture is active it
// changes nothing and returns app.ErrCaptureInactive.
func (s *Session) ToggleMute() (bool, error) {
	var (
		muted bool
		err   error
	)
	if cerr := s.loop.call(func() {
		if muted, err = s.capture.ToggleMute(); err != nil {
			return
		}
		s.dir.SetMuted(s.deps.Self.ID, app.SourceLocal, muted)
		s.broadcastMute(muted)
		s.bus.Publish(app.Event{Kind: app.EventMute})
		log.Info().Str("module", "orch").Bool("muted", muted).Msg("toggled mute")
	}); cerr != nil {
		return muted, cerr
	}
	return muted, err
}
