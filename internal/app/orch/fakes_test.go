package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakeSignal struct {
	mu       sync.Mutex
	open     bool
	connects int
	closes   int
	sent     []any
	sendErr  error
	onFrame  func(core.Frame)
	onClose  func(error)
}

func (f *fakeSignal) Connect(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		return nil
	}
	f.open = true
	f.connects++
	return nil
}

func (f *fakeSignal) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.open {
		return core.ErrNotConnected
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.closes++
	}
	f.open = false
}

func (f *fakeSignal) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSignal) OnFrame(fn func(core.Frame)) { f.onFrame = fn }
func (f *fakeSignal) OnClose(fn func(error))      { f.onClose = fn }

func (f *fakeSignal) deliver(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.onFrame(b)
}

func (f *fakeSignal) drop(err error) {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.onClose(err)
}

func (f *fakeSignal) signals() []core.SignalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.SignalMessage
	for _, v := range f.sent {
		if m, ok := v.(core.SignalMessage); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignal) chats() []core.ChatOut {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.ChatOut
	for _, v := range f.sent {
		if m, ok := v.(core.ChatOut); ok {
			out = append(out, m)
		}
	}
	return out
}

type fakeConn struct {
	peer string

	mu         sync.Mutex
	closed     bool
	remote     bool
	applied    []webrtc.ICECandidateInit
	tracks     []core.LocalTrack
	channels   []*fakeControl
	answerErr  error
	onCand     func(webrtc.ICECandidateInit)
	onControl  func(core.ControlChannel)
	onStream   func(core.RemoteStream)
	onClosed   func()
	closeCount int
}

func (c *fakeConn) Start(context.Context) error { return nil }

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	c.closed = true
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-to-" + c.peer}, nil
}

func (c *fakeConn) ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + c.peer}, nil
}

func (c *fakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	c.remote = true
	return nil
}

func (c *fakeConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remote {
		return errors.New("no remote description")
	}
	c.applied = append(c.applied, ci)
	return nil
}

func (c *fakeConn) AttachLocalTrack(t core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *fakeConn) CreateControlChannel(label string) (core.ControlChannel, error) {
	ch := &fakeControl{label: label}
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onCand = fn }
func (c *fakeConn) OnControlChannel(fn func(core.ControlChannel))   { c.onControl = fn }
func (c *fakeConn) OnRemoteStream(fn func(core.RemoteStream))       { c.onStream = fn }
func (c *fakeConn) OnClosed(fn func())                              { c.onClosed = fn }

func (c *fakeConn) appliedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.applied)
}

func (c *fakeConn) control() *fakeControl {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.channels) == 0 {
		return nil
	}
	return c.channels[len(c.channels)-1]
}

type fakeMedia struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
}

func newFakeMedia() *fakeMedia { return &fakeMedia{conns: make(map[string][]*fakeConn)} }

func (m *fakeMedia) NewConnection(peer string) (core.MediaConnection, error) {
	c := &fakeConn{peer: peer}
	m.mu.Lock()
	m.conns[peer] = append(m.conns[peer], c)
	m.mu.Unlock()
	return c, nil
}

func (m *fakeMedia) last(peer string) *fakeConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.conns[peer]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

func (m *fakeMedia) count(peer string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns[peer])
}

type fakeControl struct {
	label string

	mu      sync.Mutex
	open    bool
	closed  bool
	sent    [][]byte
	onOpen  func()
	onMsg   func([]byte)
	onClose func()
}

func (c *fakeControl) Label() string { return c.label }

func (c *fakeControl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *fakeControl) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return core.ErrClosed
	}
	c.sent = append(c.sent, b)
	return nil
}

func (c *fakeControl) OnOpen(fn func())          { c.onOpen = fn }
func (c *fakeControl) OnMessage(fn func([]byte)) { c.onMsg = fn }
func (c *fakeControl) OnClose(fn func())         { c.onClose = fn }

func (c *fakeControl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeControl) fireOpen() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.onOpen()
}

func (c *fakeControl) mutes() []core.MuteStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.MuteStatus, 0, len(c.sent))
	for _, b := range c.sent {
		var m core.MuteStatus
		if err := json.Unmarshal(b, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type fakeStream struct {
	id    string
	level atomic.Uint32
	done  chan struct{}
	once  sync.Once

	mu   sync.Mutex
	sink core.PacketSink
}

func newFakeStream(id string, dBov uint8) *fakeStream {
	s := &fakeStream{id: id, done: make(chan struct{})}
	s.level.Store(uint32(dBov))
	return s
}

func (s *fakeStream) ID() string            { return s.id }
func (s *fakeStream) AudioLevel() uint8     { return uint8(s.level.Load()) }
func (s *fakeStream) Done() <-chan struct{} { return s.done }
func (s *fakeStream) end()                  { s.once.Do(func() { close(s.done) }) }

func (s *fakeStream) Attach(p core.PacketSink) {
	s.mu.Lock()
	s.sink = p
	s.mu.Unlock()
}

type fakePlayback struct {
	closes atomic.Int32
}

func (p *fakePlayback) WriteRTP(*rtp.Packet) error { return nil }
func (p *fakePlayback) Close() error {
	p.closes.Add(1)
	return nil
}

type fakePlaybacks struct {
	mu  sync.Mutex
	got map[string]*fakePlayback
}

func (f *fakePlaybacks) Acquire(id string) (core.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.got == nil {
		f.got = make(map[string]*fakePlayback)
	}
	p := &fakePlayback{}
	f.got[id] = p
	return p, nil
}

func (f *fakePlaybacks) get(id string) *fakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[id]
}

type fakeTrack struct {
	id      string
	enabled atomic.Bool
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Enabled() bool            { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(v bool)        { t.enabled.Store(v) }
func (t *fakeTrack) Track() webrtc.TrackLocal { return nil }

type fakeCaptureStream struct {
	tracks []core.LocalTrack
	closed atomic.Bool
}

func (s *fakeCaptureStream) Tracks() []core.LocalTrack { return s.tracks }
func (s *fakeCaptureStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeDevice struct {
	err    error
	opened atomic.Int32
	last   atomic.Pointer[fakeCaptureStream]
}

func (d *fakeDevice) Open(context.Context) (core.CaptureStream, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.opened.Add(1)
	s := &fakeCaptureStream{tracks: []core.LocalTrack{&fakeTrack{id: "mic-0"}, &fakeTrack{id: "mic-1"}}}
	d.last.Store(s)
	return s, nil
}

type fakeRooms struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]domain.Room
}

func (f *fakeRooms) ListActive(context.Context) ([]domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRooms) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, errors.New("room not found")
	}
	r.ExistingParticipants = append([]domain.User(nil), r.ExistingParticipants...)
	return &r, nil
}

func (f *fakeRooms) Create(_ context.Context, title string) (*domain.Room, error) {
	return &domain.Room{ID: "new", Title: title}, nil
}

func (f *fakeRooms) Delete(context.Context, domain.RoomID) error { return nil }
