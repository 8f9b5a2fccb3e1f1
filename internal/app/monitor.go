package app

import (
	"context"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// silenceFloorDBov is the level treated as silence. RFC 6464 levels run
// from 0 (loudest) to 127 -dBov.
const silenceFloorDBov = 70

// NormalizeLevel maps a -dBov level to [0,1].
func NormalizeLevel(dBov uint8) float64 {
	if dBov >= silenceFloorDBov {
		return 0
	}
	return float64(silenceFloorDBov-dBov) / silenceFloorDBov
}

// Monitor is the speaking-level sampling loop of one remote stream.
type Monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartMonitor samples stream every interval and reports the normalized
// level through write. The loop ends by itself when the stream is torn down.
func StartMonitor(ctx context.Context, peer string, stream core.RemoteStream, interval time.Duration, write func(float64)) *Monitor {
	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{cancel: cancel, done: make(chan struct{})}
	logger := log.With().Str("module", "app.monitor").Str("peer", peer).Str("stream", stream.ID()).Logger()
	go m.loop(ctx, stream, interval, write, &logger)
	return m
}

func (m *Monitor) loop(ctx context.Context, stream core.RemoteStream, interval time.Duration, write func(float64), logger *zerolog.Logger) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Debug().Msg("monitor started")
	last := -1.0
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("monitor ctx done")
			write(0)
			return
		case <-stream.Done():
			logger.Debug().Msg("stream ended, monitor stopping")
			write(0)
			return
		case <-ticker.C:
			level := NormalizeLevel(stream.AudioLevel())
			if level != last {
				write(level)
				last = level
			}
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
}

// Done is closed once the loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }
