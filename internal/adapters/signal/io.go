package signal

import (
	"errors"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *Client) pongWait() time.Duration {
	return c.opts.PingPeriod * 10 / 9
}

func (c *Client) writePump(conn *WsSignalConn) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.conn.Close()
	}()
	for {
		select {
		case data, ok := <-conn.send:
			if err := conn.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.conn.WriteMessage(websocket.CloseMessage, msg)
				log.Debug().Str("module", "signal").Str("room", conn.room).Msg("writePump channel closed")
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("room", conn.room).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("room", conn.room).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) readPump(conn *WsSignalConn) {
	var readErr error
	defer func() {
		conn.Close()
		current := c.detach(conn)
		reason := closeReason(readErr)
		logger := log.Info()
		if !conn.local.Load() {
			logger = log.Warn()
		}
		logger.Err(readErr).Str("module", "signal").Str("room", conn.room).Str("reason", reason).Bool("local", conn.local.Load()).Msg("readPump closing")
		if current && !conn.local.Load() && c.onClose != nil {
			c.onClose(readErr)
		}
	}()

	wait := c.pongWait()
	_ = conn.conn.SetReadDeadline(time.Now().Add(wait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		kind, data, err := conn.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		if kind != websocket.TextMessage {
			log.Debug().Str("module", "signal").Int("kind", kind).Msg("non-text frame ignored")
			continue
		}
		if conn.isClosed() {
			continue
		}
		if c.onFrame != nil {
			c.onFrame(core.Frame(data))
		}
	}
}

// closeReason classifies a read error for diagnostics.
func closeReason(err error) string {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		if err == nil {
			return "none"
		}
		return "transport"
	}
	switch ce.Code {
	case websocket.CloseNormalClosure:
		return "normal"
	case websocket.CloseGoingAway:
		return "going away"
	case websocket.CloseAbnormalClosure:
		return "abnormal"
	case websocket.ClosePolicyViolation:
		return "policy violation"
	case websocket.CloseInternalServerErr:
		return "server error"
	}
	return "unknown"
}
