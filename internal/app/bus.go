package app

import (
	"sync"

	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventParticipants EventKind = "participants"
	EventMessages     EventKind = "messages"
	EventConnection   EventKind = "connection"
	EventRoom         EventKind = "room"
	EventError        EventKind = "error"
	EventMute         EventKind = "mute"
)

// Event notifies observers that a part of the session state changed.
// Observers re-read the state they care about.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// Bus fans session events out to subscribers. A slow subscriber loses
// events instead of blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewBus(buffer int) *Bus {
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("module", "app.bus").Int("sub", id).Str("kind", string(ev.Kind)).Msg("subscriber full, event dropped")
		}
	}
}
