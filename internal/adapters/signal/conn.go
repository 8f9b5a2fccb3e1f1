package signal

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/gorilla/websocket"
)

// WsSignalConn is one websocket with its outbound queue.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	room string

	// local is set when the close was initiated by this side.
	local atomic.Bool

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrNotConnected
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops the write pump, which sends the close frame and releases
// the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WsSignalConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
