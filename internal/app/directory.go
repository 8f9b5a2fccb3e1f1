package app

import (
	"sort"
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Source names who is writing to the directory. Each field has one owner.
type Source int

const (
	SourceRoster      Source = iota // roster sync and join events: identity
	SourceLocal                     // local user actions: mute
	SourceSideChannel               // peer side-channel: mute
	SourceMonitor                   // audio sampling loop: audio level
)

func (s Source) String() string {
	switch s {
	case SourceRoster:
		return "roster"
	case SourceLocal:
		return "local"
	case SourceSideChannel:
		return "side_channel"
	case SourceMonitor:
		return "monitor"
	}
	return "unknown"
}

// Patch is a partial participant update. Nil fields are left untouched.
type Patch struct {
	Username   *string
	FullName   *string
	IsCreator  *bool
	IsMuted    *bool
	AudioLevel *float64
}

func IdentityPatch(u domain.User, isCreator bool) Patch {
	return Patch{Username: &u.Username, FullName: &u.FullName, IsCreator: &isCreator}
}

func MutePatch(muted bool) Patch { return Patch{IsMuted: &muted} }

func LevelPatch(level float64) Patch { return Patch{AudioLevel: &level} }

// ownedBy keeps only the fields of p that src may write.
func (p Patch) ownedBy(src Source) Patch {
	var out Patch
	switch src {
	case SourceRoster:
		out.Username, out.FullName, out.IsCreator = p.Username, p.FullName, p.IsCreator
	case SourceLocal, SourceSideChannel:
		out.IsMuted = p.IsMuted
	case SourceMonitor:
		out.AudioLevel = p.AudioLevel
	}
	return out
}

func (p Patch) dropped(src Source) bool {
	kept := p.ownedBy(src)
	return (p.Username != nil && kept.Username == nil) ||
		(p.FullName != nil && kept.FullName == nil) ||
		(p.IsCreator != nil && kept.IsCreator == nil) ||
		(p.IsMuted != nil && kept.IsMuted == nil) ||
		(p.AudioLevel != nil && kept.AudioLevel == nil)
}

type dirEntry struct {
	p   domain.Participant
	seq uint64
}

// Directory is the authoritative participant map of a room session.
type Directory struct {
	mu       sync.RWMutex
	self     domain.UserID
	entries  map[domain.UserID]*dirEntry
	seq      uint64
	onChange func()
}

func NewDirectory(self domain.UserID) *Directory {
	return &Directory{self: self, entries: make(map[domain.UserID]*dirEntry)}
}

// OnChange registers a hook called after every effective write, outside the lock.
func (d *Directory) OnChange(fn func()) { d.onChange = fn }

// Merge applies the fields of p that src owns. Only SourceRoster may create
// an entry; other sources are ignored for unknown ids.
func (d *Directory) Merge(id domain.UserID, src Source, p Patch) bool {
	if p.dropped(src) {
		log.Debug().Str("module", "app.directory").Str("id", string(id)).Stringer("source", src).Msg("dropped fields not owned by source")
	}
	p = p.ownedBy(src)

	d.mu.Lock()
	e, ok := d.entries[id]
	if !ok {
		if src != SourceRoster {
			d.mu.Unlock()
			return false
		}
		d.seq++
		e = &dirEntry{
			p: domain.Participant{
				ID:            id,
				IsMuted:       true,
				IsCurrentUser: id == d.self,
			},
			seq: d.seq,
		}
		d.entries[id] = e
	}
	if p.Username != nil && *p.Username != "" {
		e.p.Username = *p.Username
	}
	if p.FullName != nil && *p.FullName != "" {
		e.p.FullName = *p.FullName
	}
	if p.IsCreator != nil {
		e.p.IsCreator = *p.IsCreator
	}
	if p.IsMuted != nil {
		e.p.IsMuted = *p.IsMuted
	}
	if p.AudioLevel != nil {
		e.p.AudioLevel = clamp01(*p.AudioLevel)
	}
	d.mu.Unlock()

	d.changed()
	return true
}

// Ensure creates an identity-less entry for id if none exists.
func (d *Directory) Ensure(id domain.UserID) {
	d.Merge(id, SourceRoster, Patch{})
}

func (d *Directory) UpsertUser(u domain.User, isCreator bool) {
	d.Merge(u.ID, SourceRoster, IdentityPatch(u, isCreator))
}

func (d *Directory) SetMuted(id domain.UserID, src Source, muted bool) bool {
	return d.Merge(id, src, MutePatch(muted))
}

func (d *Directory) SetAudioLevel(id domain.UserID, level float64) bool {
	d.mu.RLock()
	e, ok := d.entries[id]
	same := ok && e.p.AudioLevel == clamp01(level)
	d.mu.RUnlock()
	if !ok || same {
		return false
	}
	return d.Merge(id, SourceMonitor, LevelPatch(level))
}

func (d *Directory) Remove(id domain.UserID) bool {
	d.mu.Lock()
	_, ok := d.entries[id]
	delete(d.entries, id)
	d.mu.Unlock()
	if ok {
		d.changed()
	}
	return ok
}

func (d *Directory) Reset() {
	d.mu.Lock()
	d.entries = make(map[domain.UserID]*dirEntry)
	d.mu.Unlock()
	d.changed()
}

func (d *Directory) Get(id domain.UserID) (domain.Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return domain.Participant{}, false
	}
	return e.p, true
}

func (d *Directory) Has(id domain.UserID) bool {
	_, ok := d.Get(id)
	return ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Snapshot returns participants in insertion order.
func (d *Directory) Snapshot() []domain.Participant {
	d.mu.RLock()
	entries := make([]dirEntry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, *e)
	}
	d.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Participant, len(entries))
	for i, e := range entries {
		out[i] = e.p
	}
	return out
}

func (d *Directory) changed() {
	if d.onChange != nil {
		d.onChange()
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
