package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection is one audio peer connection of the mesh. It always
// carries a single sendrecv audio transceiver; the local track is swapped
// in with ReplaceTrack, so attaching capture needs no renegotiation.
type WebRTCConnection struct {
	pc    *webrtc.PeerConnection
	peer  string
	audio *webrtc.RTPTransceiver

	cancel  context.CancelFunc
	closing atomic.Bool
	closed  chan struct{}

	mu       sync.Mutex
	attached core.LocalTrack

	onICE     func(webrtc.ICECandidateInit)
	onControl func(core.ControlChannel)
	onStream  func(core.RemoteStream)
	onClosed  func()
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, peer string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}
	return &WebRTCConnection{pc: pc, peer: peer, audio: tr, closed: make(chan struct{})}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	context.AfterFunc(ctx, c.Close)

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.peer).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", c.peer).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.Close()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "webrtc").Str("peer", c.peer).Str("label", dc.Label()).Msg("remote data channel")
		if c.onControl != nil {
			c.onControl(&dataChannel{dc: dc})
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", c.peer).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		st := newRemoteStream(track.StreamID()+"/"+track.ID(), audioLevelExtID(receiver))
		logger := log.With().Str("module", "webrtc.stream").Str("peer", c.peer).Str("stream", st.id).Logger()
		go st.loop(ctx, track, &logger)
		if c.onStream != nil {
			c.onStream(st)
		}
	})

	return nil
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AttachLocalTrack makes t the outbound audio of the link. Attaching the
// same track twice is a no-op.
func (c *WebRTCConnection) AttachLocalTrack(t core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached == t {
		return nil
	}
	if err := c.audio.Sender().ReplaceTrack(t.Track()); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	c.attached = t
	log.Info().Str("module", "webrtc").Str("peer", c.peer).Str("track", t.ID()).Msg("local track attached")
	return nil
}

// CreateControlChannel opens an ordered, reliable data channel.
func (c *WebRTCConnection) CreateControlChannel(label string) (core.ControlChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel %s: %w", label, err)
	}
	return &dataChannel{dc: dc}, nil
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *WebRTCConnection) OnControlChannel(fn func(core.ControlChannel)) { c.onControl = fn }

// OnRemoteStream sets application-level callback for remote audio.
func (c *WebRTCConnection) OnRemoteStream(fn func(core.RemoteStream)) { c.onStream = fn }

// OnClosed sets application-level callback for cleanup. It fires once.
func (c *WebRTCConnection) OnClosed(fn func()) { c.onClosed = fn }

func (c *WebRTCConnection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close releases the peer connection once. pion reports the closed state
// back through OnConnectionStateChange, which lands here again and returns.
func (c *WebRTCConnection) Close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	close(c.closed)
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", c.peer).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("peer", c.peer).Msg("closed")
	}
	if c.onClosed != nil {
		c.onClosed()
	}
}

// Factory builds peer connections that share one pion API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

type FactoryConfig struct {
	ICEServers []string
	// IncludeLoopback gathers loopback candidates, for same-host links.
	IncludeLoopback bool
}

func NewFactory(fc FactoryConfig) (*Factory, error) {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(fc.IncludeLoopback)
	api, err := NewAPI(&se)
	if err != nil {
		return nil, err
	}
	return &Factory{api: api, cfg: DefaultWebRTCConfig(fc.ICEServers)}, nil
}

func (f *Factory) NewConnection(peer string) (core.MediaConnection, error) {
	return NewWebRTCConnection(f.api, f.cfg, peer)
}
