// CLAUDE:SUMMARY In-memory authoritative crit history: find-or-create entries per fingerprint, pending queue, oldest-first eviction.
// Package history is the single source of truth for crit decisions.
//
// The store is the arena: entries are stable, keyed by fingerprint, and own
// the record of every crit classification. Host elements are transient
// references looked up by fingerprint, never stored here — the host may
// destroy any node at any time.
//
// The store is process-lifetime only. It is deliberately not persisted: a
// full host reload starts a fresh history.
package history

import (
	"sync"
	"time"

	"github.com/critlab/critwatch/fingerprint"
	"github.com/critlab/critwatch/style"
)

// Decision is the outcome of a crit roll, as recorded into the store.
type Decision struct {
	IsCrit bool
	Roll   float64
	Style  style.Config // snapshot at decision time, frozen thereafter
}

// Entry is one recorded crit decision. Owned exclusively by the Store; the
// only fields that change after creation are the restoration counters, and
// only through Store methods.
type Entry struct {
	Fingerprint         fingerprint.Fingerprint
	ChannelID           string
	IsCrit              bool
	Roll                float64
	StyleSnapshot       style.Config
	CreatedAt           time.Time
	LastRestoredAt      time.Time
	RestorationAttempts int
}

// PendingDecision is a decision computed before its element existed.
type PendingDecision struct {
	Fingerprint fingerprint.Fingerprint
	Decision    Decision
	EnqueuedAt  time.Time
}

// Options configures store bounds.
type Options struct {
	// ChannelCapacity bounds entries per channel. Oldest entries are evicted
	// first when exceeded. An evicted crit simply stops being reconciled —
	// a memory bound, not a correctness mechanism. Default: 512.
	ChannelCapacity int `yaml:"channel_capacity"`
	// PendingTTL bounds how long a pending decision may wait for its element
	// before being dropped (message scrolled away unseen). Default: 2m.
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

func (o *Options) defaults() {
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = 512
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = 2 * time.Minute
	}
}

// Store is the in-memory crit history log. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	opts     Options
	channels map[string]*channelLog
	pending  map[string]PendingDecision
	now      func() time.Time
}

// channelLog holds one channel's entries: a map for lookup and an
// insertion-ordered slice for eviction. CreatedAt is monotonic within a
// process, so insertion order is creation order.
type channelLog struct {
	entries map[string]*Entry
	order   []*Entry
}

// New creates an empty store.
func New(opts Options) *Store {
	opts.defaults()
	return &Store{
		opts:     opts,
		channels: make(map[string]*channelLog),
		pending:  make(map[string]PendingDecision),
		now:      time.Now,
	}
}

// Record finds or creates the entry for a fingerprint. If an entry already
// exists it is returned unchanged and created is false — re-processing the
// same message after a host re-render must not duplicate history.
func (s *Store) Record(fp fingerprint.Fingerprint, d Decision) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := s.channel(fp.ChannelKey)
	key := fp.Key()
	if e, ok := ch.entries[key]; ok {
		return *e, false
	}

	e := &Entry{
		Fingerprint:   fp,
		ChannelID:     fp.ChannelKey,
		IsCrit:        d.IsCrit,
		Roll:          d.Roll,
		StyleSnapshot: d.Style,
		CreatedAt:     s.now(),
	}
	ch.entries[key] = e
	ch.order = append(ch.order, e)
	s.evictLocked(ch)
	return *e, true
}

// Find returns the entry for a fingerprint, if any.
func (s *Store) Find(fp fingerprint.Fingerprint) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[fp.ChannelKey]
	if !ok {
		return Entry{}, false
	}
	e, ok := ch.entries[fp.Key()]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Channel returns copies of all entries for a channel, oldest first.
func (s *Store) Channel(channelID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(ch.order))
	for i, e := range ch.order {
		out[i] = *e
	}
	return out
}

// PurgeChannel drops all entries and pendings for a channel.
func (s *Store) PurgeChannel(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	if ch, ok := s.channels[channelID]; ok {
		n = len(ch.order)
		delete(s.channels, channelID)
	}
	for key, pd := range s.pending {
		if pd.Fingerprint.ChannelKey == channelID {
			delete(s.pending, key)
		}
	}
	return n
}

// NoteAttempt increments the restoration attempt counter for an entry.
// Returns the new count, or ok=false if the entry does not exist (evicted).
func (s *Store) NoteAttempt(fp fingerprint.Fingerprint) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(fp)
	if e == nil {
		return 0, false
	}
	e.RestorationAttempts++
	return e.RestorationAttempts, true
}

// MarkRestored records a successful restoration.
func (s *Store) MarkRestored(fp fingerprint.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookupLocked(fp)
	if e == nil {
		return false
	}
	e.LastRestoredAt = s.now()
	return true
}

// Len returns the total entry count across channels.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, ch := range s.channels {
		n += len(ch.order)
	}
	return n
}

func (s *Store) channel(id string) *channelLog {
	ch, ok := s.channels[id]
	if !ok {
		ch = &channelLog{entries: make(map[string]*Entry)}
		s.channels[id] = ch
	}
	return ch
}

func (s *Store) lookupLocked(fp fingerprint.Fingerprint) *Entry {
	ch, ok := s.channels[fp.ChannelKey]
	if !ok {
		return nil
	}
	return ch.entries[fp.Key()]
}

func (s *Store) evictLocked(ch *channelLog) {
	for len(ch.order) > s.opts.ChannelCapacity {
		oldest := ch.order[0]
		ch.order = ch.order[1:]
		delete(ch.entries, oldest.Fingerprint.Key())
	}
}
