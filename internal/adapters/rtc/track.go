package rtc

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// LocalAudioTrack is an outbound Opus track gated by an enabled flag.
// A disabled track stays attached to its senders and writes nothing.
type LocalAudioTrack struct {
	*webrtc.TrackLocalStaticRTP

	enabled    atomic.Bool
	levelExtID atomic.Uint32
}

func NewLocalAudioTrack(id, streamID string) (*LocalAudioTrack, error) {
	t, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	return &LocalAudioTrack{TrackLocalStaticRTP: t}, nil
}

// Bind records the negotiated audio level extension id.
func (t *LocalAudioTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	for _, ext := range ctx.HeaderExtensions() {
		if ext.URI == sdp.AudioLevelURI {
			t.levelExtID.Store(uint32(ext.ID))
		}
	}
	return t.TrackLocalStaticRTP.Bind(ctx)
}

func (t *LocalAudioTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalAudioTrack) SetEnabled(v bool) { t.enabled.Store(v) }

func (t *LocalAudioTrack) Track() webrtc.TrackLocal { return t }

// WriteAudio writes pkt tagged with its level when the track is enabled.
func (t *LocalAudioTrack) WriteAudio(pkt *rtp.Packet, dBov uint8, voice bool) error {
	if !t.enabled.Load() {
		return nil
	}
	if id := uint8(t.levelExtID.Load()); id != 0 {
		ext := rtp.AudioLevelExtension{Level: dBov, Voice: voice}
		b, err := ext.Marshal()
		if err != nil {
			return fmt.Errorf("marshal audio level: %w", err)
		}
		if err := pkt.SetExtension(id, b); err != nil {
			return fmt.Errorf("set audio level: %w", err)
		}
	}
	return t.WriteRTP(pkt)
}
