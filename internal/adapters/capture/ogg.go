// Package capture provides capture devices backed by Opus audio files.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoSource = errors.New("no capture source configured")

const (
	opusClockRate = 48000
	opusFrame     = 960 // 20ms at 48kHz
	mtu           = 1200
)

// OggDevice streams an Ogg/Opus file at real-time pace as the microphone.
// The file is replayed from the start when it ends.
type OggDevice struct {
	Path string
}

func NewOggDevice(path string) *OggDevice {
	return &OggDevice{Path: path}
}

// Open starts the stream. The stream lives until Close; ctx only bounds
// opening the file.
func (d *OggDevice) Open(ctx context.Context) (core.CaptureStream, error) {
	if d.Path == "" {
		return nil, ErrNoSource
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", d.Path, err)
	}
	reader, header, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read ogg header %s: %w", d.Path, err)
	}
	track, err := rtc.NewLocalAudioTrack("audio", "voicemesh-mic")
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &oggStream{
		file:   f,
		reader: reader,
		track:  track,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger := log.With().Str("module", "capture").Str("path", d.Path).Logger()
	logger.Info().Uint8("channels", header.Channels).Uint32("rate", header.SampleRate).Msg("capture opened")
	go s.pump(pumpCtx, &logger)
	return s, nil
}

type oggStream struct {
	file   *os.File
	reader *oggreader.OggReader
	track  *rtc.LocalAudioTrack
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *oggStream) Tracks() []core.LocalTrack { return []core.LocalTrack{s.track} }

func (s *oggStream) Close() error {
	s.cancel()
	<-s.done
	return s.file.Close()
}

func (s *oggStream) pump(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	packetizer := rtp.NewPacketizer(mtu, 0, 0, &codecs.OpusPayloader{}, rtp.NewRandomSequencer(), opusClockRate)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("capture pump stopped")
			return
		case <-ticker.C:
		}

		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			logger.Debug().Msg("capture source ended, rewinding")
			s.reader.ResetReader(func(int64) io.Reader {
				_, _ = s.file.Seek(0, io.SeekStart)
				return s.file
			})
			lastGranule = 0
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("capture read page")
			return
		}
		if isHeaderPage(page) {
			continue
		}

		samples := uint32(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		if samples == 0 || samples > opusClockRate {
			samples = opusFrame
		}
		level, voice := EstimateLevel(len(page), samples)
		for _, pkt := range packetizer.Packetize(page, samples) {
			if err := s.track.WriteAudio(pkt, level, voice); err != nil {
				logger.Warn().Err(err).Msg("capture write")
			}
		}
	}
}

func isHeaderPage(page []byte) bool {
	return bytes.HasPrefix(page, []byte("OpusHead")) || bytes.HasPrefix(page, []byte("OpusTags"))
}

// EstimateLevel derives an RFC 6464 level from the Opus payload size of a
// page. Frames of two bytes or less are DTX silence; larger frames map
// linearly onto 60..10 -dBov. It is an approximation without decoding.
func EstimateLevel(payload int, samples uint32) (uint8, bool) {
	frames := int(samples / opusFrame)
	if frames < 1 {
		frames = 1
	}
	perFrame := payload / frames
	if perFrame <= 2 {
		return 127, false
	}
	level := 60 - (perFrame-3)/3
	if level < 10 {
		level = 10
	}
	return uint8(level), true
}
