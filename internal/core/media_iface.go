package core

import (
	"context"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is the audio transport of one peer link.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources. Safe to call twice.
	Close()
	IsClosed() bool

	// CreateOffer generates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOffer applies a remote offer and returns the applied local answer.
	ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	// AddICECandidate applies a remote ICE candidate. Requires a remote description.
	AddICECandidate(webrtc.ICECandidateInit) error

	// AttachLocalTrack makes track the outbound audio of this connection.
	AttachLocalTrack(LocalTrack) error
	// CreateControlChannel opens an ordered, reliable data channel (offerer side).
	CreateControlChannel(label string) (ControlChannel, error)

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnControlChannel sets a callback for channels opened by the remote side.
	OnControlChannel(func(ControlChannel))
	// OnRemoteStream sets a callback invoked when remote audio arrives.
	OnRemoteStream(func(RemoteStream))
	// OnClosed sets a callback for connection failure or close.
	OnClosed(func())
}

// MediaFactory builds a MediaConnection for a remote participant.
type MediaFactory interface {
	NewConnection(peer string) (MediaConnection, error)
}

// ControlChannel is the point-to-point side-channel carried by a peer link.
type ControlChannel interface {
	Label() string
	IsOpen() bool
	Send(data []byte) error
	OnOpen(func())
	OnMessage(func([]byte))
	OnClose(func())
	Close() error
}

// RemoteStream is inbound audio from one peer.
type RemoteStream interface {
	ID() string
	// AudioLevel is the last observed level in -dBov (0 loudest, 127 silence).
	// It falls back to silence once the sender stops sending.
	AudioLevel() uint8
	// Attach routes received packets to sink. Only one sink is kept.
	Attach(sink PacketSink)
	// Done is closed when the stream is torn down.
	Done() <-chan struct{}
}

// PacketSink consumes inbound RTP.
type PacketSink interface {
	WriteRTP(*rtp.Packet) error
}

// Playback is the per-participant output resource; released exactly once.
type Playback interface {
	PacketSink
	Close() error
}

type PlaybackFactory interface {
	Acquire(participantID string) (Playback, error)
}
