package restore

import "time"

// shouldThrottle enforces the minimum interval between live checks. Mutation
// bursts from the host can fire notifications far faster than a full scan is
// worth running; calls inside the window are dropped, not queued — the next
// notification after the window does the work.
func (r *Restorer) shouldThrottle(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastCheck) < r.cfg.ThrottleInterval {
		return true
	}
	r.lastCheck = now
	return false
}
