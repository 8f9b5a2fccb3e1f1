package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// silentDBov is reported until the first tagged packet arrives and once
// tagged packets stop for longer than levelTTL.
const silentDBov = 127

// levelTTL bounds how long the last observed level stays valid. A muted
// sender stops sending packets altogether.
const levelTTL = 200 * time.Millisecond

// remoteStream pumps one inbound audio track: it records the sender's
// audio level and forwards packets to the attached sink.
type remoteStream struct {
	id    string
	extID uint8
	level atomic.Uint32
	seen  atomic.Int64 // unix nanos of the last tagged packet
	now   func() time.Time

	mu   sync.RWMutex
	sink core.PacketSink

	done chan struct{}
}

func newRemoteStream(id string, extID uint8) *remoteStream {
	s := &remoteStream{id: id, extID: extID, now: time.Now, done: make(chan struct{})}
	s.level.Store(silentDBov)
	return s
}

// audioLevelExtID finds the negotiated audio level extension id of a receiver.
func audioLevelExtID(receiver *webrtc.RTPReceiver) uint8 {
	if receiver == nil {
		return 0
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

func (s *remoteStream) ID() string { return s.id }

func (s *remoteStream) AudioLevel() uint8 {
	seen := s.seen.Load()
	if seen == 0 || s.now().Sub(time.Unix(0, seen)) > levelTTL {
		return silentDBov
	}
	return uint8(s.level.Load())
}

func (s *remoteStream) Done() <-chan struct{} { return s.done }

func (s *remoteStream) Attach(sink core.PacketSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// loop reads RTP packets from the track until it ends.
func (s *remoteStream) loop(ctx context.Context, track *webrtc.TrackRemote, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("stream ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("stream read RTP ended")
			return
		}
		s.observe(pkt)
		s.forward(pkt, logger)
	}
}

func (s *remoteStream) observe(pkt *rtp.Packet) {
	if s.extID == 0 {
		return
	}
	b := pkt.GetExtension(s.extID)
	if b == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(b); err != nil {
		return
	}
	s.level.Store(uint32(ext.Level))
	s.seen.Store(s.now().UnixNano())
}

func (s *remoteStream) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink == nil {
		return
	}
	if err := sink.WriteRTP(pkt); err != nil {
		logger.Error().Err(err).Msg("playback write error, detaching sink")
		s.mu.Lock()
		if s.sink == sink {
			s.sink = nil
		}
		s.mu.Unlock()
	}
}
