package app

import (
	"testing"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryOnlyRosterCreates(t *testing.T) {
	d := NewDirectory("me")

	assert.False(t, d.SetMuted("ghost", SourceSideChannel, false))
	assert.False(t, d.SetAudioLevel("ghost", 0.5))
	assert.Zero(t, d.Len())

	d.UpsertUser(domain.User{ID: "me", Username: "me"}, true)
	d.UpsertUser(domain.User{ID: "bob", Username: "bob", FullName: "Bob B"}, false)
	require.Equal(t, 2, d.Len())

	me, ok := d.Get("me")
	require.True(t, ok)
	assert.True(t, me.IsCurrentUser)
	assert.True(t, me.IsCreator)
	assert.True(t, me.IsMuted)

	bob, _ := d.Get("bob")
	assert.False(t, bob.IsCurrentUser)
	assert.Equal(t, "Bob B", bob.FullName)
}

func TestDirectoryFieldOwnership(t *testing.T) {
	d := NewDirectory("me")
	d.UpsertUser(domain.User{ID: "bob", Username: "bob"}, false)

	name := "mallory"
	muted := false
	level := 0.7
	require.True(t, d.Merge("bob", SourceMonitor, Patch{Username: &name, IsMuted: &muted, AudioLevel: &level}))

	bob, _ := d.Get("bob")
	assert.Equal(t, "bob", bob.Username)
	assert.True(t, bob.IsMuted)
	assert.InDelta(t, 0.7, bob.AudioLevel, 1e-9)

	d.SetMuted("bob", SourceSideChannel, false)
	d.UpsertUser(domain.User{ID: "bob", Username: "bobby"}, false)
	bob, _ = d.Get("bob")
	assert.Equal(t, "bobby", bob.Username)
	assert.False(t, bob.IsMuted, "identity update keeps the mute flag")
	assert.InDelta(t, 0.7, bob.AudioLevel, 1e-9)
}

func TestDirectoryEnsureKeepsIdentity(t *testing.T) {
	d := NewDirectory("me")
	d.UpsertUser(domain.User{ID: "bob", Username: "bob"}, true)
	d.Ensure("bob")

	bob, _ := d.Get("bob")
	assert.Equal(t, "bob", bob.Username)
	assert.True(t, bob.IsCreator)
}

func TestDirectoryAudioLevelClampedAndDeduped(t *testing.T) {
	d := NewDirectory("me")
	d.Ensure("bob")
	changes := 0
	d.OnChange(func() { changes++ })

	assert.True(t, d.SetAudioLevel("bob", 3))
	assert.False(t, d.SetAudioLevel("bob", 1))
	bob, _ := d.Get("bob")
	assert.Equal(t, 1.0, bob.AudioLevel)

	assert.True(t, d.SetAudioLevel("bob", -1))
	bob, _ = d.Get("bob")
	assert.Equal(t, 0.0, bob.AudioLevel)
	assert.Equal(t, 2, changes)
}

func TestDirectorySnapshotInsertionOrder(t *testing.T) {
	d := NewDirectory("me")
	for _, id := range []domain.UserID{"c", "a", "me", "b"} {
		d.Ensure(id)
	}
	d.Remove("a")
	d.Ensure("a")

	var ids []domain.UserID
	for _, p := range d.Snapshot() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []domain.UserID{"c", "me", "b", "a"}, ids)
}

func TestDirectoryRemoveAndReset(t *testing.T) {
	d := NewDirectory("me")
	d.Ensure("me")
	d.Ensure("bob")

	assert.True(t, d.Remove("bob"))
	assert.False(t, d.Remove("bob"))
	assert.False(t, d.Has("bob"))

	d.Reset()
	assert.Zero(t, d.Len())
	assert.Empty(t, d.Snapshot())
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "roster", SourceRoster.String())
	assert.Equal(t, "side_channel", SourceSideChannel.String())
	assert.Equal(t, "unknown", Source(42).String())
}
