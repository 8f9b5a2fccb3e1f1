package app

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrRateLimited  = errors.New("too many messages")
)

// Chat is the optimistic send/ack pipeline of a room session.
type Chat struct {
	mu       sync.RWMutex
	self     domain.User
	roomID   domain.RoomID
	messages []domain.ChatMessage
	send     func(v any) error
	limiter  *RateLimiter
	now      func() time.Time
	onChange func()
}

func NewChat(self domain.User, send func(v any) error) *Chat {
	return &Chat{self: self, send: send, now: time.Now}
}

func (c *Chat) OnChange(fn func()) { c.onChange = fn }

// Throttle bounds outbound messages per room. A rejected message is not
// added to the list.
func (c *Chat) Throttle(rl *RateLimiter) { c.limiter = rl }

func (c *Chat) SetRoom(id domain.RoomID) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

// Send appends a sending message and transmits it. A transmission error
// marks the message failed; it is never retried. Outside a room nothing
// is appended.
func (c *Chat) Send(text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	c.mu.Lock()
	if c.roomID == "" {
		c.mu.Unlock()
		return domain.ChatMessage{}, core.ErrNotConnected
	}
	if c.limiter != nil && !c.limiter.Allow(string(c.roomID)) {
		c.mu.Unlock()
		log.Warn().Str("module", "app.chat").Str("room", string(c.roomID)).Msg("chat rate limited")
		return domain.ChatMessage{}, ErrRateLimited
	}
	tempID := "temp_" + uuid.NewString()
	ts := c.now().UTC()
	msg := domain.ChatMessage{
		RoomID:        c.roomID,
		UserID:        c.self.ID,
		Username:      c.self.Username,
		Text:          text,
		Timestamp:     ts,
		Status:        domain.StatusSending,
		CorrelationID: tempID,
		IsOwn:         true,
	}
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.changed()

	err := c.send(core.ChatOut{
		Type:      core.TypeChat,
		Message:   text,
		Timestamp: ts.Format(time.RFC3339Nano),
		TempID:    tempID,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.chat").Str("temp_id", tempID).Msg("chat send failed")
		c.setStatus(tempID, domain.StatusFailed, time.Time{})
		msg.Status = domain.StatusFailed
		return msg, err
	}
	log.Debug().Str("module", "app.chat").Str("temp_id", tempID).Msg("chat sent")
	return msg, nil
}

// HandleEcho reconciles a server chat envelope with the local list.
func (c *Chat) HandleEcho(env core.Envelope) {
	if env.UserID == "" || env.Message == "" {
		log.Warn().Str("module", "app.chat").Msg("incomplete chat envelope")
		return
	}
	ts := parseTimestamp(env.Timestamp, c.now)
	own := env.UserID == c.self.ID

	if own && env.TempID != "" && c.setStatus(env.TempID, domain.StatusSent, ts) {
		return
	}

	roomID := env.RoomID
	c.mu.Lock()
	if roomID == "" {
		roomID = c.roomID
	}
	c.messages = append(c.messages, domain.ChatMessage{
		RoomID:    roomID,
		UserID:    env.UserID,
		Username:  env.Username,
		Text:      env.Message,
		Timestamp: ts,
		Status:    domain.StatusSent,
		IsOwn:     own,
	})
	c.mu.Unlock()
	c.changed()
}

func (c *Chat) setStatus(tempID string, status domain.DeliveryStatus, ts time.Time) bool {
	c.mu.Lock()
	found := false
	for i := range c.messages {
		if c.messages[i].CorrelationID != tempID {
			continue
		}
		c.messages[i].Status = status
		if !ts.IsZero() {
			c.messages[i].Timestamp = ts
		}
		found = true
		break
	}
	c.mu.Unlock()
	if found {
		c.changed()
	}
	return found
}

func (c *Chat) Messages() []domain.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Chat) Reset() {
	c.mu.Lock()
	if c.limiter != nil {
		c.limiter.Forget(string(c.roomID))
	}
	c.messages = nil
	c.roomID = ""
	c.mu.Unlock()
	c.changed()
}

func (c *Chat) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

func parseTimestamp(s string, now func() time.Time) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return now().UTC()
}
