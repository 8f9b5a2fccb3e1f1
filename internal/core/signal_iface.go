package core

import "context"

// Frame is a raw text payload of the signaling channel.
type Frame []byte

// SignalTransport is the per-room signaling channel.
// Connect is a no-op while a connection is open or in flight.
type SignalTransport interface {
	Connect(ctx context.Context, roomID string) error
	Send(v any) error
	Close()
	IsOpen() bool
	OnFrame(func(Frame))
	// OnClose is called when the channel drops without a local Close.
	OnClose(func(error))
}
