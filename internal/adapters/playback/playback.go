// Package playback holds per-participant audio outputs.
package playback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

// Factory records each participant's audio to an Ogg/Opus file under Dir.
// With an empty Dir received audio is discarded.
type Factory struct {
	Dir string
	now func() time.Time
}

func NewFactory(dir string) *Factory {
	return &Factory{Dir: dir, now: time.Now}
}

func (f *Factory) Acquire(participantID string) (core.Playback, error) {
	if f.Dir == "" {
		return &discard{}, nil
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("playback dir: %w", err)
	}
	name := filepath.Join(f.Dir, fmt.Sprintf("%s-%s.ogg", safeName(participantID), f.now().UTC().Format("20060102T150405.000")))
	w, err := oggwriter.New(name, 48000, 2)
	if err != nil {
		return nil, fmt.Errorf("open playback %s: %w", name, err)
	}
	log.Info().Str("module", "playback").Str("peer", participantID).Str("file", name).Msg("playback acquired")
	return &oggPlayback{w: w, name: name}, nil
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

type oggPlayback struct {
	name string

	mu     sync.Mutex
	w      *oggwriter.OggWriter
	closed bool
}

func (p *oggPlayback) WriteRTP(pkt *rtp.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrClosed
	}
	return p.w.WriteRTP(pkt)
}

func (p *oggPlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	log.Info().Str("module", "playback").Str("file", p.name).Msg("playback released")
	return p.w.Close()
}

type discard struct {
	mu     sync.Mutex
	closed bool
}

func (d *discard) WriteRTP(*rtp.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return core.ErrClosed
	}
	return nil
}

func (d *discard) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
