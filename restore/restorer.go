// CLAUDE:SUMMARY Reconciliation: channel restoration scans, throttled live checks, bounded per-element retry with linear backoff.
// Package restore makes the visible tree eventually consistent with the
// History Store despite host-driven churn: channel switches, list
// virtualization, node replacement, asynchronous style stripping.
//
// Nothing in this package throws an unrecoverable fault. Every locate and
// verify returns an explicit not-found outcome; only retry-budget exhaustion
// is logged, as a non-fatal warning. A failure on one message never delays
// another.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/critlab/critwatch/fingerprint"
	"github.com/critlab/critwatch/history"
	"github.com/critlab/critwatch/hostdom"
	"github.com/critlab/critwatch/style"
)

// Config holds the reconciliation bounds. All of them are
// configuration-visible; none are inferred magic numbers.
type Config struct {
	// ThrottleInterval is the minimum spacing between live checks, bounding
	// cost under rapid host mutation bursts. Default: 2s.
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	// RetryAttempts bounds restoration attempts per element. Default: 5.
	RetryAttempts int `yaml:"retry_attempts"`
	// RetryBackoff is the linear backoff base: attempt n is due n×backoff
	// after the previous failure. Default: 250ms.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

func (c *Config) defaults() {
	if c.ThrottleInterval <= 0 {
		c.ThrottleInterval = 2 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
}

// ErrRetryExhausted reports that an element consumed its restoration budget.
// After this, no automatic retries occur for the element until the next
// independent trigger (channel re-activation, live check).
type ErrRetryExhausted struct {
	Fingerprint string
	Attempts    int
}

func (e *ErrRetryExhausted) Error() string {
	return fmt.Sprintf("restore: retry budget exhausted after %d attempts (%s)", e.Attempts, e.Fingerprint)
}

// Report summarises one reconciliation pass.
type Report struct {
	Scanned   int `json:"scanned"`   // mounted message elements inspected
	Matched   int `json:"matched"`   // elements matching a crit history entry
	Restored  int `json:"restored"`  // elements that needed and received styling
	Exhausted int `json:"exhausted"` // elements that consumed their retry budget
}

// Restorer reconciles mounted elements against the History Store.
type Restorer struct {
	store  *history.Store
	host   hostdom.Host
	app    *style.Applicator
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	lastCheck time.Time
	inflight  map[string]struct{} // fingerprint keys being applied right now
	tasks     map[string]*task    // fingerprint keys with a scheduled retry
}

// task is a scheduled restoration retry for one element. A failed attempt
// never waits in place: it records when the next attempt is due and the
// owning loop comes back to it, so one stubborn element cannot stall a scan
// or delay its siblings.
type task struct {
	entry       history.Entry
	el          hostdom.Element
	attempts    int
	nextRetryAt time.Time
}

// New creates a Restorer.
func New(store *history.Store, host hostdom.Host, app *style.Applicator, cfg Config, logger *slog.Logger) *Restorer {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{
		store:    store,
		host:     host,
		app:      app,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[string]struct{}),
		tasks:    make(map[string]*task),
	}
}

// RestoreChannel reconciles a freshly activated channel view: every mounted
// message element is fingerprinted and matched against the store, and every
// crit match lacking its decoration is restored. History entries whose
// elements are not mounted (above the virtualized viewport) are not errors —
// they wait for the next trigger.
func (r *Restorer) RestoreChannel(ctx context.Context, channelID string) (Report, error) {
	return r.scan(ctx, channelID)
}

// Check is the throttled live restoration check. It re-inspects currently
// visible crit-flagged elements and restores any whose styling was lost or
// whose node the host replaced. Calls inside the throttle window are no-ops.
func (r *Restorer) Check(ctx context.Context) (Report, error) {
	if r.shouldThrottle(time.Now()) {
		return Report{}, nil
	}
	return r.scan(ctx, "")
}

// scan is the shared reconciliation pass. channelID "" means all visible.
func (r *Restorer) scan(ctx context.Context, channelID string) (Report, error) {
	var rep Report

	els, err := r.host.Messages(ctx)
	if err != nil {
		return rep, fmt.Errorf("restore: enumerate messages: %w", err)
	}

	for _, el := range els {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}

		md, err := el.Message(ctx)
		if err != nil {
			// Node raced away mid-scan or carries no message data. Expected.
			continue
		}
		if channelID != "" && md.ChannelID != channelID {
			continue
		}
		rep.Scanned++

		fp := fingerprint.Compute(md)
		entry, ok := r.store.Find(fp)
		if !ok {
			continue // non-crit, evicted, or never seen
		}
		// The element is mounted now; any queued decision for it is resolved
		// by this pass.
		r.store.DrainPending(fp)

		if !entry.IsCrit {
			continue
		}
		rep.Matched++

		restored, err := r.performRestore(ctx, entry, el)
		if err != nil {
			var exhausted *ErrRetryExhausted
			if errors.As(err, &exhausted) {
				rep.Exhausted++
			}
			continue // never let one message's failure touch the rest
		}
		if restored {
			rep.Restored++
		}
	}

	return rep, nil
}

// performRestore is the authoritative application path: locate the content
// node, apply the stored snapshot, arm verification. One attempt per call; a
// failure schedules a retry task instead of waiting, and the budget is
// enforced across attempts. The element may simply not have its content
// mounted yet.
func (r *Restorer) performRestore(ctx context.Context, entry history.Entry, el hostdom.Element) (bool, error) {
	key := entry.Fingerprint.Key()
	if !r.acquire(key) {
		return false, nil // another trigger already owns this element
	}
	defer r.release(key)

	applied, err := r.app.ApplyAndVerify(ctx, el, entry.StyleSnapshot)
	if err == nil {
		r.clearTask(key)
		r.store.MarkRestored(entry.Fingerprint)
		if applied {
			r.triggerAnimation(ctx, el, entry.StyleSnapshot)
		}
		return applied, nil
	}
	if !errors.Is(err, style.ErrContentNotFound) {
		r.logger.Debug("restore: apply failed", "fingerprint", key, "error", err)
	}

	if _, ok := r.store.NoteAttempt(entry.Fingerprint); !ok {
		r.clearTask(key)
		return false, nil // entry evicted mid-restoration; nothing to reconcile toward
	}
	return false, r.scheduleRetry(key, entry, el)
}

// scheduleRetry books the next attempt for an element, attempt n due after
// n×backoff. Exhausting the budget drops the task: no automatic retries for
// the element until the next independent trigger starts a fresh one.
func (r *Restorer) scheduleRetry(key string, entry history.Entry, el hostdom.Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tk := r.tasks[key]
	if tk == nil {
		tk = &task{entry: entry}
		r.tasks[key] = tk
	}
	tk.el = el
	tk.attempts++
	if tk.attempts >= r.cfg.RetryAttempts {
		delete(r.tasks, key)
		r.logger.Warn("restore: giving up on element", "fingerprint", key, "attempts", tk.attempts)
		return &ErrRetryExhausted{Fingerprint: key, Attempts: tk.attempts}
	}
	tk.nextRetryAt = time.Now().Add(time.Duration(tk.attempts) * r.cfg.RetryBackoff)
	return nil
}

func (r *Restorer) clearTask(key string) {
	r.mu.Lock()
	delete(r.tasks, key)
	r.mu.Unlock()
}

// NextRetryAt reports when the earliest scheduled task is due, for the owning
// loop to aim its retry timer at. ok is false when nothing is scheduled.
func (r *Restorer) NextRetryAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var earliest time.Time
	for _, tk := range r.tasks {
		if earliest.IsZero() || tk.nextRetryAt.Before(earliest) {
			earliest = tk.nextRetryAt
		}
	}
	return earliest, !earliest.IsZero()
}

// RetryDue reattempts every scheduled task whose backoff has elapsed. Tasks
// whose element the host destroyed are dropped; the replacement node is
// caught by the next scan under the same fingerprint.
func (r *Restorer) RetryDue(ctx context.Context) Report {
	now := time.Now()
	r.mu.Lock()
	due := make([]*task, 0, len(r.tasks))
	for _, tk := range r.tasks {
		if !tk.nextRetryAt.After(now) {
			due = append(due, tk)
		}
	}
	r.mu.Unlock()

	var rep Report
	for _, tk := range due {
		if ctx.Err() != nil {
			return rep
		}
		if !tk.el.Alive(ctx) {
			r.clearTask(tk.entry.Fingerprint.Key())
			continue
		}
		restored, err := r.performRestore(ctx, tk.entry, tk.el)
		if err != nil {
			var exhausted *ErrRetryExhausted
			if errors.As(err, &exhausted) {
				rep.Exhausted++
			}
			continue
		}
		if restored {
			rep.Restored++
		}
	}
	return rep
}

// triggerAnimation plays the brief restoration emphasis. Presentation only:
// failure is ignored entirely.
func (r *Restorer) triggerAnimation(ctx context.Context, el hostdom.Element, cfg style.Config) {
	if !cfg.AnimationEnabled {
		return
	}
	_ = el.AddMarker(ctx, style.AnimationClass)
}

func (r *Restorer) acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[key]; busy {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

func (r *Restorer) release(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}
