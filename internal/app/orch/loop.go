package orch

import (
	"context"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog/log"
)

// loop runs posted functions one at a time in FIFO order. post never
// blocks, so callbacks fired from inside a running event cannot deadlock.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func newLoop() *loop {
	return &loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// call posts fn and waits for it to run. Never use it from inside the loop.
func (l *loop) call(fn func()) error {
	ran := make(chan struct{})
	if !l.post(func() {
		defer close(ran)
		fn()
	}) {
		return core.ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		return core.ErrClosed
	}
}

func (l *loop) run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "orch.loop").Msg("loop ctx done")
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				runSafe(fn)
			}
		}
	}
}

func runSafe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "orch.loop").Interface("panic", r).Msg("event handler panicked")
		}
	}()
	fn()
}
