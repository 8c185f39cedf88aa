package decision

import "sync"

// seenRing is a fixed-capacity set of recently decided non-crit fingerprints.
// When full, the oldest key is forgotten. A forgotten non-crit that the host
// re-delivers may re-roll; by then its element has long scrolled away, so a
// fresh roll only affects a message the host treats as effectively new.
type seenRing struct {
	mu   sync.Mutex
	keys []string
	idx  int
	full bool
	set  map[string]struct{}
}

func newSeenRing(capacity int) *seenRing {
	return &seenRing{
		keys: make([]string, capacity),
		set:  make(map[string]struct{}, capacity),
	}
}

func (r *seenRing) Seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[key]
	return ok
}

func (r *seenRing) Add(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[key]; ok {
		return
	}
	if r.full {
		delete(r.set, r.keys[r.idx])
	}
	r.keys[r.idx] = key
	r.set[key] = struct{}{}
	r.idx++
	if r.idx == len(r.keys) {
		r.idx = 0
		r.full = true
	}
}
