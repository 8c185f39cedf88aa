package history

import "github.com/critlab/critwatch/fingerprint"

// EnqueuePending queues a decision whose element does not exist yet. One
// pending slot per fingerprint; re-enqueueing refreshes nothing — the first
// decision stands.
func (s *Store) EnqueuePending(pd PendingDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pd.Fingerprint.Key()
	if _, ok := s.pending[key]; ok {
		return
	}
	if pd.EnqueuedAt.IsZero() {
		pd.EnqueuedAt = s.now()
	}
	s.pending[key] = pd
}

// DrainPending removes and returns the pending decision for a fingerprint.
// Expired pendings are dropped and reported as absent.
func (s *Store) DrainPending(fp fingerprint.Fingerprint) (PendingDecision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fp.Key()
	pd, ok := s.pending[key]
	if !ok {
		return PendingDecision{}, false
	}
	delete(s.pending, key)
	if s.now().Sub(pd.EnqueuedAt) > s.opts.PendingTTL {
		return PendingDecision{}, false
	}
	return pd, true
}

// SweepPending drops all expired pendings and returns how many were dropped.
// Called periodically so unmatched decisions do not accumulate.
func (s *Store) SweepPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for key, pd := range s.pending {
		if now.Sub(pd.EnqueuedAt) > s.opts.PendingTTL {
			delete(s.pending, key)
			dropped++
		}
	}
	return dropped
}

// PendingLen returns the current pending queue depth.
func (s *Store) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
