package capture

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeOgg produces a short Opus file with n 20ms packets.
func writeOgg(t *testing.T, n int) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mic.ogg")
	w, err := oggwriter.New(p, 48000, 2)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * opusFrame)},
			Payload: make([]byte, 40),
		}
		pkt.Payload[0] = 0xfc
		require.NoError(t, w.WriteRTP(pkt))
	}
	require.NoError(t, w.Close())
	return p
}

func TestOggDeviceOpenAndClose(t *testing.T) {
	d := NewOggDevice(writeOgg(t, 5))
	st, err := d.Open(context.Background())
	require.NoError(t, err)

	tracks := st.Tracks()
	require.Len(t, tracks, 1)
	assert.False(t, tracks[0].Enabled())
	tracks[0].SetEnabled(true)

	// Let the pump run past the end of the file and rewind.
	time.Sleep(200 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- st.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not stop the pump")
	}
}

func TestOggDeviceErrors(t *testing.T) {
	_, err := NewOggDevice("").Open(context.Background())
	require.ErrorIs(t, err, ErrNoSource)

	_, err = NewOggDevice(filepath.Join(t.TempDir(), "missing.ogg")).Open(context.Background())
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewOggDevice(writeOgg(t, 1)).Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEstimateLevel(t *testing.T) {
	level, voice := EstimateLevel(2, opusFrame)
	assert.Equal(t, uint8(127), level)
	assert.False(t, voice)

	level, voice = EstimateLevel(3, opusFrame)
	assert.Equal(t, uint8(60), level)
	assert.True(t, voice)

	loud, _ := EstimateLevel(400, opusFrame)
	assert.Equal(t, uint8(10), loud)

	perFrame, _ := EstimateLevel(120, 3*opusFrame)
	assert.Equal(t, uint8(48), perFrame)
}
