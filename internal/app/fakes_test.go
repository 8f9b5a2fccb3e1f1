package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type stubConn struct {
	mu      sync.Mutex
	remote  bool
	applied []webrtc.ICECandidateInit
	closed  int
}

func (c *stubConn) Start(context.Context) error { return nil }
func (c *stubConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}
func (c *stubConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed > 0
}
func (c *stubConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}, nil
}
func (c *stubConn) ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.setRemote()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}, nil
}
func (c *stubConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.setRemote()
	return nil
}
func (c *stubConn) setRemote() {
	c.mu.Lock()
	c.remote = true
	c.mu.Unlock()
}
func (c *stubConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}
func (c *stubConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remote {
		return errors.New("no remote description")
	}
	c.applied = append(c.applied, ci)
	return nil
}
func (c *stubConn) AttachLocalTrack(core.LocalTrack) error { return nil }
func (c *stubConn) CreateControlChannel(label string) (core.ControlChannel, error) {
	return &stubControl{}, nil
}
func (c *stubConn) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (c *stubConn) OnControlChannel(func(core.ControlChannel))   {}
func (c *stubConn) OnRemoteStream(func(core.RemoteStream))       {}
func (c *stubConn) OnClosed(func())                              {}

type stubControl struct {
	closed atomic.Int32
}

func (c *stubControl) Label() string          { return "muteStatus" }
func (c *stubControl) IsOpen() bool           { return c.closed.Load() == 0 }
func (c *stubControl) Send([]byte) error      { return nil }
func (c *stubControl) OnOpen(func())          {}
func (c *stubControl) OnMessage(func([]byte)) {}
func (c *stubControl) OnClose(func())         {}
func (c *stubControl) Close() error {
	c.closed.Add(1)
	return nil
}

type stubStream struct {
	level atomic.Uint32
	done  chan struct{}
}

func newStubStream(dBov uint8) *stubStream {
	s := &stubStream{done: make(chan struct{})}
	s.level.Store(uint32(dBov))
	return s
}

func (s *stubStream) ID() string             { return "stub" }
func (s *stubStream) AudioLevel() uint8      { return uint8(s.level.Load()) }
func (s *stubStream) Attach(core.PacketSink) {}
func (s *stubStream) Done() <-chan struct{}  { return s.done }

type stubPlayback struct {
	closes atomic.Int32
}

func (p *stubPlayback) WriteRTP(*rtp.Packet) error { return nil }
func (p *stubPlayback) Close() error {
	p.closes.Add(1)
	return nil
}

type stubTrack struct {
	enabled atomic.Bool
}

func (t *stubTrack) ID() string               { return "mic" }
func (t *stubTrack) Enabled() bool            { return t.enabled.Load() }
func (t *stubTrack) SetEnabled(v bool)        { t.enabled.Store(v) }
func (t *stubTrack) Track() webrtc.TrackLocal { return nil }

type stubCaptureStream struct {
	tracks []core.LocalTrack
	closed atomic.Int32
}

func (s *stubCaptureStream) Tracks() []core.LocalTrack { return s.tracks }
func (s *stubCaptureStream) Close() error {
	s.closed.Add(1)
	return nil
}

type stubDevice struct {
	err     error
	gate    chan struct{}
	opened  atomic.Int32
	streams []*stubCaptureStream
	mu      sync.Mutex
}

func (d *stubDevice) Open(ctx context.Context) (core.CaptureStream, error) {
	d.opened.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	s := &stubCaptureStream{tracks: []core.LocalTrack{&stubTrack{}, &stubTrack{}, &stubTrack{}}}
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

func (d *stubDevice) stream(i int) *stubCaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}
