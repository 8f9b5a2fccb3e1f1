package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
)

var (
	ErrCaptureInactive = errors.New("capture not active")
	ErrCaptureBusy     = errors.New("capture acquisition in progress")
)

type captureState int

const (
	captureIdle captureState = iota
	captureAcquiring
	captureActive
)

// Capture owns the local capture stream. No other component opens or
// closes it.
type Capture struct {
	device core.CaptureDevice

	mu     sync.Mutex
	state  captureState
	stream core.CaptureStream
	muted  bool
	gen    uint64
}

func NewCapture(device core.CaptureDevice) *Capture {
	return &Capture{device: device, muted: true}
}

// Start acquires the device once. Tracks start disabled. It returns the
// tracks on the first successful acquisition and nil, nil when capture is
// already active or in flight.
func (c *Capture) Start(ctx context.Context) ([]core.LocalTrack, error) {
	c.mu.Lock()
	if c.state != captureIdle {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = captureAcquiring
	gen := c.gen
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// Stop ran while the device was opening.
		if stream != nil {
			_ = stream.Close()
		}
		return nil, ErrCaptureInactive
	}
	if err != nil {
		c.state = captureIdle
		return nil, fmt.Errorf("capture open: %w", err)
	}
	tracks := stream.Tracks()
	for _, t := range tracks {
		t.SetEnabled(false)
	}
	c.stream = stream
	c.state = captureActive
	c.muted = true
	log.Info().Str("module", "app.capture").Int("tracks", len(tracks)).Msg("capture started (muted)")
	return tracks, nil
}

func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.stream != nil {
		for _, t := range c.stream.Tracks() {
			t.SetEnabled(false)
		}
		if err := c.stream.Close(); err != nil {
			log.Error().Err(err).Str("module", "app.capture").Msg("capture close")
		}
		log.Info().Str("module", "app.capture").Msg("capture stopped")
	}
	c.stream = nil
	c.state = captureIdle
	c.muted = true
}

// ToggleMute flips every local track under one lock and returns the new
// muted state.
func (c *Capture) ToggleMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case captureAcquiring:
		return c.muted, ErrCaptureBusy
	case captureIdle:
		return c.muted, ErrCaptureInactive
	}
	c.muted = !c.muted
	for _, t := range c.stream.Tracks() {
		t.SetEnabled(!c.muted)
	}
	return c.muted, nil
}

func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == captureActive
}

func (c *Capture) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Tracks returns the active tracks, or nil.
func (c *Capture) Tracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	return c.stream.Tracks()
}

// Enablement reports the enabled flag of every track, read under the
// same lock ToggleMute holds.
func (c *Capture) Enablement() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	tracks := c.stream.Tracks()
	out := make([]bool, len(tracks))
	for i, t := range tracks {
		out[i] = t.Enabled()
	}
	return out
}
