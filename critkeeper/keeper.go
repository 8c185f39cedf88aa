// CLAUDE:SUMMARY Main critwatch orchestrator — wires store, decision engine, restorer, audit, and runs the single event loop.
// Package critkeeper is the crit decoration engine.
//
// It sits between the host tree (hostdom) and the operator surfaces (MCP
// tools, HTTP admin). The pipeline:
//
//	hostdom events → decision engine → history store
//	                                 ↘ style application
//	hostdom mutations / timers → restorer → style application
//
// Key properties:
//   - Single event-processing goroutine: decisions and reconciliation
//     triggers are serialized, so no two triggers race on the same message
//   - The History Store is authoritative; the DOM is a rendering target
//   - Styling failures degrade to queued/retried work, never to faults
//
// Usage:
//
//	k, err := critkeeper.New(host, cfg, logger)
//	k.Start(ctx)
//	defer k.Stop()
//	k.RegisterMCP(mcpServer)
package critkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/critlab/critwatch/audit"
	"github.com/critlab/critwatch/decision"
	"github.com/critlab/critwatch/history"
	"github.com/critlab/critwatch/hostdom"
	"github.com/critlab/critwatch/restore"
	"github.com/critlab/critwatch/style"
)

// Keeper is the main critwatch orchestrator.
type Keeper struct {
	cfg      *Config
	host     hostdom.Host
	store    *history.Store
	engine   *decision.Engine
	restorer *restore.Restorer
	auditor  *audit.Logger // nil = auditing disabled
	logger   *slog.Logger

	mu      sync.Mutex
	style   style.Config
	started bool
	unsub   hostdom.Unsubscribe
	cancel  context.CancelFunc
	done    chan struct{}

	// triggers carries global mutation notifications into the loop. Buffered
	// and lossy: a dropped notification is recovered by the periodic check.
	triggers chan hostdom.Mutation

	counters counters
}

type counters struct {
	mu         sync.Mutex
	processed  int
	crits      int
	queued     int
	duplicates int
	restored   int
	exhausted  int
}

// New creates a Keeper around an attached host tree.
func New(host hostdom.Host, cfg *Config, logger *slog.Logger) (*Keeper, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	styleCfg, err := cfg.Style.Sanitized()
	if err != nil {
		logger.Warn("critkeeper: configured style invalid, using default", "error", err)
	}

	app := style.NewApplicator(style.ApplicatorConfig{
		VerifyChecks:   cfg.Verify.Checks,
		VerifyInterval: cfg.Verify.Interval,
		Events:         host,
		Logger:         logger,
	})
	store := history.New(cfg.History)
	engine := decision.New(store, app, cfg.Crit, styleCfg, logger)
	restorer := restore.New(store, host, app, cfg.Restore, logger)

	return &Keeper{
		cfg:      cfg,
		host:     host,
		store:    store,
		engine:   engine,
		restorer: restorer,
		logger:   logger,
		style:    styleCfg,
		triggers: make(chan hostdom.Mutation, 64),
	}, nil
}

// SetAuditor attaches the audit event log. Optional; call before Start.
func (k *Keeper) SetAuditor(a *audit.Logger) {
	k.auditor = a
}

// Start subscribes to the host tree and launches the event loop. Exactly one
// global subscription exists per Start/Stop cycle.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return fmt.Errorf("critkeeper: already started")
	}

	unsub, err := k.host.Subscribe(nil, k.onMutation)
	if err != nil {
		return fmt.Errorf("critkeeper: subscribe: %w", err)
	}
	k.unsub = unsub

	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.done = make(chan struct{})
	k.started = true

	go k.loop(ctx)
	k.logger.Info("critkeeper: started",
		"crit_probability", k.cfg.Crit.Probability(),
		"check_interval", k.cfg.CheckInterval)
	return nil
}

// Stop ends the subscription period and waits for the loop to drain.
func (k *Keeper) Stop() {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return
	}
	k.started = false
	unsub, cancel, done := k.unsub, k.cancel, k.done
	k.mu.Unlock()

	unsub()
	cancel()
	<-done
	k.logger.Info("critkeeper: stopped")
}

// onMutation forwards a global mutation into the loop without blocking the
// host delivery path.
func (k *Keeper) onMutation(m hostdom.Mutation) {
	select {
	case k.triggers <- m:
	default:
	}
}

// loop is the single event-processing goroutine.
func (k *Keeper) loop(ctx context.Context) {
	defer close(k.done)

	check := time.NewTicker(k.cfg.CheckInterval)
	defer check.Stop()
	sweep := time.NewTicker(k.cfg.SweepInterval)
	defer sweep.Stop()
	// retry fires when the restorer's earliest scheduled task is due. It
	// stays idle until armRetry aims it; nothing in the loop ever sleeps in
	// place for a backoff.
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-k.host.Events():
			if !ok {
				return
			}
			k.handleEvent(ctx, ev)

		case m := <-k.triggers:
			k.handleMutation(ctx, m)

		case <-retry.C:
			k.noteReport(ctx, k.restorer.RetryDue(ctx))

		case <-check.C:
			k.runCheck(ctx)

		case <-sweep.C:
			if dropped := k.store.SweepPending(); dropped > 0 {
				k.logger.Debug("critkeeper: swept expired pending decisions", "dropped", dropped)
			}
		}

		k.armRetry(retry)
	}
}

// armRetry aims the retry timer at the earliest scheduled restoration task.
// With no task scheduled the timer stays idle; re-arming every loop pass
// keeps it pointed at whatever the latest scan booked.
func (k *Keeper) armRetry(retry *time.Timer) {
	next, ok := k.restorer.NextRetryAt()
	if !ok {
		return
	}
	retry.Reset(max(time.Until(next), 0))
}

func (k *Keeper) handleEvent(ctx context.Context, ev hostdom.MessageEvent) {
	res, err := k.engine.Process(ctx, ev.Data, ev.Element)
	if err != nil {
		k.logger.Warn("critkeeper: process message", "channel", ev.Data.ChannelID, "error", err)
		return
	}

	k.counters.mu.Lock()
	k.counters.processed++
	switch res.Outcome {
	case decision.OutcomeCrit:
		k.counters.crits++
	case decision.OutcomeQueued:
		k.counters.crits++
		k.counters.queued++
	case decision.OutcomeDuplicate:
		k.counters.duplicates++
	}
	k.counters.mu.Unlock()

	switch res.Outcome {
	case decision.OutcomeCrit, decision.OutcomeQueued:
		k.logger.Info("critkeeper: crit",
			"channel", ev.Data.ChannelID,
			"roll", res.Roll,
			"outcome", string(res.Outcome))
		k.auditDecision(ctx, res, ev.Data.ChannelID)
	}
}

func (k *Keeper) handleMutation(ctx context.Context, m hostdom.Mutation) {
	switch m.Kind {
	case hostdom.MutationChannel:
		rep, err := k.restorer.RestoreChannel(ctx, m.ChannelID)
		if err != nil {
			k.logger.Warn("critkeeper: channel restoration", "channel", m.ChannelID, "error", err)
			return
		}
		k.noteReport(ctx, rep)
		if rep.Matched > 0 {
			k.logger.Info("critkeeper: channel restored",
				"channel", m.ChannelID, "matched", rep.Matched, "restored", rep.Restored)
		}

	case hostdom.MutationInsert, hostdom.MutationStyle, hostdom.MutationRemove:
		// Any churn in the tree is a reason to reconcile; the restorer's
		// throttle keeps burst cost bounded.
		k.runCheck(ctx)
	}
}

func (k *Keeper) runCheck(ctx context.Context) {
	rep, err := k.restorer.Check(ctx)
	if err != nil {
		k.logger.Warn("critkeeper: live check", "error", err)
		return
	}
	k.noteReport(ctx, rep)
}

func (k *Keeper) noteReport(ctx context.Context, rep restore.Report) {
	if rep.Restored == 0 && rep.Exhausted == 0 {
		return
	}
	k.counters.mu.Lock()
	k.counters.restored += rep.Restored
	k.counters.exhausted += rep.Exhausted
	k.counters.mu.Unlock()

	if k.auditor == nil {
		return
	}
	if rep.Restored > 0 {
		k.auditor.Log(ctx, audit.Event{
			Kind:   "restoration",
			Detail: fmt.Sprintf("restored=%d scanned=%d", rep.Restored, rep.Scanned),
		})
	}
	if rep.Exhausted > 0 {
		k.auditor.Log(ctx, audit.Event{
			Kind:   "exhausted",
			Detail: fmt.Sprintf("exhausted=%d scanned=%d", rep.Exhausted, rep.Scanned),
		})
	}
}

func (k *Keeper) auditDecision(ctx context.Context, res decision.Result, channelID string) {
	if k.auditor == nil {
		return
	}
	k.auditor.Log(ctx, audit.Event{
		Kind:        "decision",
		Fingerprint: res.Entry.Fingerprint.Key(),
		ChannelID:   channelID,
		IsCrit:      true,
		Roll:        res.Roll,
		Detail:      string(res.Outcome),
	})
}

// SetStyle replaces the treatment for future decisions after sanitizing it.
// Entries already recorded keep their frozen snapshots. The returned error
// reports what was invalid about the input; the engine still received a safe
// config either way.
func (k *Keeper) SetStyle(cfg style.Config) (style.Config, error) {
	sane, err := cfg.Sanitized()
	k.mu.Lock()
	k.style = sane
	k.mu.Unlock()
	k.engine.SetStyle(sane)
	if err != nil {
		k.logger.Warn("critkeeper: rejected style config, applied default", "error", err)
	}
	return sane, err
}

// Style returns the treatment future decisions will snapshot.
func (k *Keeper) Style() style.Config {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.style
}

// RestoreChannel reconciles a channel on demand.
func (k *Keeper) RestoreChannel(ctx context.Context, channelID string) (restore.Report, error) {
	rep, err := k.restorer.RestoreChannel(ctx, channelID)
	if err == nil {
		k.noteReport(ctx, rep)
	}
	return rep, err
}

// Check runs the throttled live check on demand.
func (k *Keeper) Check(ctx context.Context) (restore.Report, error) {
	rep, err := k.restorer.Check(ctx)
	if err == nil {
		k.noteReport(ctx, rep)
	}
	return rep, err
}

// History returns the recorded crit entries for a channel, oldest first.
func (k *Keeper) History(channelID string) []history.Entry {
	return k.store.Channel(channelID)
}

// PurgeChannel drops a channel's history and pendings. Returns how many
// entries were removed.
func (k *Keeper) PurgeChannel(channelID string) int {
	n := k.store.PurgeChannel(channelID)
	k.logger.Info("critkeeper: purged channel history", "channel", channelID, "entries", n)
	return n
}

// Stats holds critwatch counters.
type Stats struct {
	Entries    int `json:"entries"`
	Pending    int `json:"pending"`
	Processed  int `json:"processed"`
	Crits      int `json:"crits"`
	Queued     int `json:"queued"`
	Duplicates int `json:"duplicates"`
	Restored   int `json:"restored"`
	Exhausted  int `json:"exhausted"`
}

// Stats returns current counters.
func (k *Keeper) Stats() Stats {
	k.counters.mu.Lock()
	s := Stats{
		Processed:  k.counters.processed,
		Crits:      k.counters.crits,
		Queued:     k.counters.queued,
		Duplicates: k.counters.duplicates,
		Restored:   k.counters.restored,
		Exhausted:  k.counters.exhausted,
	}
	k.counters.mu.Unlock()
	s.Entries = k.store.Len()
	s.Pending = k.store.PendingLen()
	return s
}
