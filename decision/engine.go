// CLAUDE:SUMMARY Crit decision engine: per-message state machine, probabilistic roll, idempotent re-entry on host re-renders.
// Package decision classifies incoming messages as crit or non-crit.
//
// Each message moves through Unseen → Queued (element absent) → Decided.
// Classification is permanent: re-processing a message the host re-rendered
// short-circuits to the stored decision and never rolls again.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/critlab/critwatch/fingerprint"
	"github.com/critlab/critwatch/history"
	"github.com/critlab/critwatch/hostdom"
	"github.com/critlab/critwatch/style"
)

// Outcome is the result of processing one message event.
type Outcome string

const (
	OutcomeCrit      Outcome = "crit"      // new crit decision, styling forwarded
	OutcomeQueued    Outcome = "queued"    // new crit decision, element absent, queued
	OutcomeNonCrit   Outcome = "non_crit"  // decided non-crit, discarded
	OutcomeDuplicate Outcome = "duplicate" // already decided, stored decision re-applied
)

// Result reports what Process did with a message.
type Result struct {
	Outcome Outcome
	Roll    float64
	Entry   history.Entry // valid for crit and crit-duplicate outcomes
}

const defaultCritProbability = 0.05

// Config holds the engine's tunables.
type Config struct {
	// CritProbability is the chance a new message rolls crit. Nil applies the
	// default; an explicit 0 is honored and disables new crits. Default: 0.05.
	CritProbability *float64 `yaml:"probability"`
	// NonCritWindow bounds the recent non-crit dedup ring. Non-crits are not
	// persisted as history entries, so this window is what keeps a host
	// re-render from re-rolling an already-decided non-crit. Default: 4096.
	NonCritWindow int `yaml:"non_crit_window"`
}

func (c *Config) defaults() {
	if c.NonCritWindow <= 0 {
		c.NonCritWindow = 4096
	}
}

// Probability resolves the configured crit probability, defaulting only when
// the field is unset.
func (c Config) Probability() float64 {
	if c.CritProbability == nil {
		return defaultCritProbability
	}
	return *c.CritProbability
}

// Engine consumes message events and records decisions.
type Engine struct {
	store  *history.Store
	app    *style.Applicator
	logger *slog.Logger

	mu    sync.RWMutex
	prob  float64
	style style.Config

	nonCrit *seenRing

	// roll draws from the process-wide PRNG, seeded once per process so
	// rolls stay independent across rapid message bursts. Swappable in tests.
	roll func() float64
}

// New creates an Engine. The style config becomes the snapshot for future
// decisions until SetStyle replaces it.
func New(store *history.Store, app *style.Applicator, cfg Config, styleCfg style.Config, logger *slog.Logger) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		app:     app,
		logger:  logger,
		prob:    cfg.Probability(),
		style:   styleCfg,
		nonCrit: newSeenRing(cfg.NonCritWindow),
		roll:    rand.Float64,
	}
}

// SetStyle replaces the snapshot used for future decisions. Entries already
// recorded keep the snapshot they were decided with.
func (e *Engine) SetStyle(cfg style.Config) {
	e.mu.Lock()
	e.style = cfg
	e.mu.Unlock()
}

// SetProbability replaces the crit probability for future rolls.
func (e *Engine) SetProbability(p float64) {
	e.mu.Lock()
	e.prob = p
	e.mu.Unlock()
}

// Process runs the decision state machine for one message event. el may be
// nil when the decision arrives before the element exists; the decision is
// then queued for reconciliation to resolve.
//
// A styling failure never fails the decision: the entry is recorded and the
// message is left for the reconciliation path.
func (e *Engine) Process(ctx context.Context, msg hostdom.MessageData, el hostdom.Element) (Result, error) {
	fp := fingerprint.Compute(msg)

	// Re-entry: stored decisions are permanent.
	if entry, ok := e.store.Find(fp); ok {
		e.reapply(ctx, fp, entry, el)
		return Result{Outcome: OutcomeDuplicate, Roll: entry.Roll, Entry: entry}, nil
	}
	if e.nonCrit.Seen(fp.Key()) {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	e.mu.RLock()
	prob := e.prob
	snapshot := e.style
	e.mu.RUnlock()

	roll := e.roll()
	if roll >= prob {
		// Non-crits are decided and discarded, never persisted: the store
		// only grows with crits.
		e.nonCrit.Add(fp.Key())
		return Result{Outcome: OutcomeNonCrit, Roll: roll}, nil
	}

	d := history.Decision{IsCrit: true, Roll: roll, Style: snapshot}
	entry, created := e.store.Record(fp, d)
	if !created {
		// Lost a race with a concurrent trigger for the same message;
		// the first recording stands.
		return Result{Outcome: OutcomeDuplicate, Roll: entry.Roll, Entry: entry}, nil
	}

	if el == nil {
		e.store.EnqueuePending(history.PendingDecision{Fingerprint: fp, Decision: d})
		return Result{Outcome: OutcomeQueued, Roll: roll, Entry: entry}, nil
	}

	if _, err := e.app.ApplyAndVerify(ctx, el, snapshot); err != nil {
		if !errors.Is(err, style.ErrContentNotFound) {
			e.logger.Warn("decision: initial styling failed, deferring to reconciliation",
				"fingerprint", fp.Key(), "error", err)
		}
		e.store.EnqueuePending(history.PendingDecision{Fingerprint: fp, Decision: d})
		return Result{Outcome: OutcomeQueued, Roll: roll, Entry: entry}, nil
	}

	return Result{Outcome: OutcomeCrit, Roll: roll, Entry: entry}, nil
}

// reapply restores a stored crit decision onto a freshly delivered element.
func (e *Engine) reapply(ctx context.Context, fp fingerprint.Fingerprint, entry history.Entry, el hostdom.Element) {
	// The element exists now; whatever was queued for it is obsolete.
	e.store.DrainPending(fp)

	if !entry.IsCrit || el == nil {
		return
	}
	if _, err := e.app.ApplyAndVerify(ctx, el, entry.StyleSnapshot); err != nil {
		if errors.Is(err, style.ErrContentNotFound) {
			e.store.EnqueuePending(history.PendingDecision{
				Fingerprint: fp,
				Decision:    history.Decision{IsCrit: true, Roll: entry.Roll, Style: entry.StyleSnapshot},
			})
			return
		}
		e.logger.Warn("decision: reapply stored decision failed",
			"fingerprint", fp.Key(), "error", fmt.Errorf("reapply: %w", err))
	}
}
