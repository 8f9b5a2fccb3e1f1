package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is an outbound audio track with an enablement gate.
// A disabled track stays attached but sends nothing.
type LocalTrack interface {
	ID() string
	Enabled() bool
	SetEnabled(bool)
	Track() webrtc.TrackLocal
}

// CaptureDevice is the microphone (or a stand-in source).
type CaptureDevice interface {
	Open(ctx context.Context) (CaptureStream, error)
}

type CaptureStream interface {
	Tracks() []LocalTrack
	// Close releases the underlying device.
	Close() error
}
