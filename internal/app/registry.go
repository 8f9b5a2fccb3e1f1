package app

import (
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerLink bundles the audio transport and control side-channel of one
// remote participant.
type PeerLink struct {
	ParticipantID domain.UserID
	Conn          core.MediaConnection

	mu        sync.Mutex
	control   core.ControlChannel
	state     domain.NegotiationState
	pending   []webrtc.ICECandidateInit
	playback  core.Playback
	monitor   *Monitor
	closeOnce sync.Once
}

func NewPeerLink(id domain.UserID, conn core.MediaConnection) *PeerLink {
	return &PeerLink{ParticipantID: id, Conn: conn, state: domain.NegotiationNew}
}

func (l *PeerLink) State() domain.NegotiationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) SetState(s domain.NegotiationState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == domain.NegotiationClosed {
		return
	}
	log.Debug().Str("module", "app.link").Str("peer", string(l.ParticipantID)).Str("from", string(l.state)).Str("to", string(s)).Msg("negotiation state")
	l.state = s
}

func (l *PeerLink) Control() core.ControlChannel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.control
}

func (l *PeerLink) SetControl(ch core.ControlChannel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.control = ch
}

// AddCandidate applies c when the remote description is set and retains
// it otherwise.
func (l *PeerLink) AddCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state == domain.NegotiationClosed {
		l.mu.Unlock()
		return core.ErrClosed
	}
	if !l.Conn.HasRemoteDescription() {
		l.pending = append(l.pending, c)
		n := len(l.pending)
		l.mu.Unlock()
		log.Debug().Str("module", "app.link").Str("peer", string(l.ParticipantID)).Int("pending", n).Msg("candidate retained")
		return nil
	}
	l.mu.Unlock()
	return l.Conn.AddICECandidate(c)
}

// Retain queues candidates received before the link existed.
func (l *PeerLink) Retain(cs []webrtc.ICECandidateInit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, cs...)
}

// FlushCandidates applies retained candidates after the remote description
// was set. It returns the first error.
func (l *PeerLink) FlushCandidates() error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	var first error
	for _, c := range pending {
		if err := l.Conn.AddICECandidate(c); err != nil && first == nil {
			first = err
		}
	}
	if len(pending) > 0 {
		log.Debug().Str("module", "app.link").Str("peer", string(l.ParticipantID)).Int("applied", len(pending)).Msg("retained candidates flushed")
	}
	return first
}

// TakePending removes and returns the retained candidates, for handing
// them to a link that replaces this one.
func (l *PeerLink) TakePending() []webrtc.ICECandidateInit {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := l.pending
	l.pending = nil
	return pending
}

func (l *PeerLink) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// AttachStream binds the playback handle and level monitor of the remote
// stream. A previous pair is released first; on a closed link the new
// pair is released right away.
func (l *PeerLink) AttachStream(pb core.Playback, m *Monitor) {
	l.mu.Lock()
	if l.state == domain.NegotiationClosed {
		l.mu.Unlock()
		releaseStream(l.ParticipantID, pb, m)
		return
	}
	oldPB, oldM := l.playback, l.monitor
	l.playback, l.monitor = pb, m
	l.mu.Unlock()
	releaseStream(l.ParticipantID, oldPB, oldM)
}

func (l *PeerLink) Monitor() *Monitor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.monitor
}

// Close releases the transport, side-channel, playback and monitor once.
func (l *PeerLink) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.state = domain.NegotiationClosed
		ctrl, pb, m := l.control, l.playback, l.monitor
		l.control, l.playback, l.monitor, l.pending = nil, nil, nil, nil
		l.mu.Unlock()

		releaseStream(l.ParticipantID, pb, m)
		if ctrl != nil {
			if err := ctrl.Close(); err != nil {
				log.Debug().Err(err).Str("module", "app.link").Str("peer", string(l.ParticipantID)).Msg("control close")
			}
		}
		l.Conn.Close()
		log.Info().Str("module", "app.link").Str("peer", string(l.ParticipantID)).Msg("link closed")
	})
}

func releaseStream(id domain.UserID, pb core.Playback, m *Monitor) {
	if m != nil {
		m.Stop()
	}
	if pb != nil {
		if err := pb.Close(); err != nil {
			log.Error().Err(err).Str("module", "app.link").Str("peer", string(id)).Msg("playback close")
		}
	}
}

// Links is the keyed registry of peer links owned by one room session.
type Links struct {
	mu    sync.RWMutex
	links map[domain.UserID]*PeerLink
}

func NewLinks() *Links {
	return &Links{links: make(map[domain.UserID]*PeerLink)}
}

func (r *Links) Get(id domain.UserID) (*PeerLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[id]
	return l, ok
}

// Add registers l unless a link for the same participant exists.
func (r *Links) Add(l *PeerLink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[l.ParticipantID]; ok {
		return false
	}
	r.links[l.ParticipantID] = l
	log.Info().Str("module", "app.registry").Str("peer", string(l.ParticipantID)).Msg("link added")
	return true
}

// Remove closes and drops the link of id. With match set, only that exact
// link is removed, so a stale close callback cannot drop a newer link.
func (r *Links) Remove(id domain.UserID, match *PeerLink) bool {
	r.mu.Lock()
	l, ok := r.links[id]
	if ok && (match == nil || l == match) {
		delete(r.links, id)
	} else {
		ok = false
	}
	r.mu.Unlock()
	if ok {
		l.Close()
	}
	return ok
}

// CloseAll tears down every link.
func (r *Links) CloseAll() int {
	r.mu.Lock()
	links := r.links
	r.links = make(map[domain.UserID]*PeerLink)
	r.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
	return len(links)
}

func (r *Links) Snapshot() []*PeerLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PeerLink, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	return out
}

func (r *Links) IDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.links))
	for id := range r.links {
		out = append(out, id)
	}
	return out
}

func (r *Links) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}
