package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// WSBaseURL is the ws:// or wss:// origin of the room server.
	WSBaseURL  string
	Token      string
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
	Dialer     *websocket.Dialer
}

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
)

// Client is the per-room signaling channel. At most one websocket is
// open or being dialed at a time.
type Client struct {
	opts Options

	mu      sync.Mutex
	state   connState
	gen     uint64
	conn    *WsSignalConn
	onFrame func(core.Frame)
	onClose func(error)
}

func NewClient(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	return &Client{opts: opts}
}

func (c *Client) OnFrame(fn func(core.Frame)) { c.onFrame = fn }

func (c *Client) OnClose(fn func(error)) { c.onClose = fn }

// RoomURL builds the signaling endpoint of a room.
func RoomURL(base, roomID string) string {
	return strings.TrimRight(base, "/") + "/api/rooms/ws/" + url.PathEscape(roomID)
}

// Connect dials the room channel. It is a no-op while a channel is open
// or being dialed.
func (c *Client) Connect(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		log.Debug().Str("module", "signal").Str("room", roomID).Msg("connect skipped, channel busy")
		return nil
	}
	c.state = stateConnecting
	gen := c.gen
	c.mu.Unlock()

	target := RoomURL(c.opts.WSBaseURL, roomID)
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	log.Info().Str("module", "signal").Str("room", roomID).Str("url", target).Msg("dialing room")

	ws, resp, err := c.opts.Dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = stateIdle
		}
		c.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", target, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, c.opts.SendBuffer),
		room: roomID,
	}

	c.mu.Lock()
	if c.gen != gen {
		// Close ran while dialing.
		c.mu.Unlock()
		conn.local.Store(true)
		conn.Close()
		return core.ErrClosed
	}
	c.state = stateOpen
	c.conn = conn
	c.mu.Unlock()

	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}
	go c.writePump(conn)
	go c.readPump(conn)
	log.Info().Str("module", "signal").Str("room", roomID).Msg("room channel open")
	return nil
}

// Send marshals v and queues it. Nothing is buffered while the channel
// is not open.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == stateOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return core.ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return conn.TrySend(b)
}

func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// Close shuts the current channel down. The close callback is not fired
// for a locally initiated close.
func (c *Client) Close() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	c.state = stateIdle
	c.mu.Unlock()
	if conn == nil {
		return
	}
	conn.local.Store(true)
	conn.Close()
	log.Info().Str("module", "signal").Str("room", conn.room).Msg("room channel closed locally")
}

// detach clears conn if it is still current and reports whether it was.
func (c *Client) detach(conn *WsSignalConn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	c.conn = nil
	c.state = stateIdle
	return true
}
