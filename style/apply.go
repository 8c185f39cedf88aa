// CLAUDE:SUMMARY Idempotent style application plus the short-lived verification monitor that re-applies styles the host strips.
package style

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/critlab/critwatch/hostdom"
)

// Apply writes a treatment's declarations onto a content element and tags it
// with the marker class. Idempotent: when the element already carries every
// declaration, nothing is written and applied is false.
func Apply(ctx context.Context, el hostdom.Element, cfg Config) (applied bool, err error) {
	decls := Declarations(cfg)

	current := true
	for _, d := range decls {
		v, err := el.Style(ctx, d.Property)
		if err != nil {
			return false, fmt.Errorf("style: read %s: %w", d.Property, err)
		}
		if v != d.Value {
			current = false
			break
		}
	}
	if current {
		return false, nil
	}

	if err := el.SetStyles(ctx, decls); err != nil {
		return false, fmt.Errorf("style: apply: %w", err)
	}
	if err := el.AddMarker(ctx, MarkerClass); err != nil {
		return false, fmt.Errorf("style: mark: %w", err)
	}
	return true, nil
}

// Verified reports whether the treatment is still present on the element.
// One anchor property is checked; hosts strip inline styles wholesale.
func Verified(ctx context.Context, el hostdom.Element, cfg Config) bool {
	v, err := el.Style(ctx, KeyProperty(cfg.Mode))
	if err != nil {
		return false
	}
	return v != ""
}

// ApplicatorConfig bounds the verification monitor.
type ApplicatorConfig struct {
	Selectors SelectorSet
	// VerifyChecks is how many times a freshly styled element is re-checked
	// before the monitor stops. Default: 3.
	VerifyChecks int
	// VerifyInterval is the pause between re-checks. Default: 500ms.
	VerifyInterval time.Duration
	// Events, when set, arms an element-scoped mutation subscription so a
	// host style-strip triggers an immediate re-check instead of waiting for
	// the next interval. The subscription never outlives the monitor.
	Events hostdom.Subscriber
	Logger *slog.Logger
}

func (c *ApplicatorConfig) defaults() {
	c.Selectors.Defaults()
	if c.VerifyChecks <= 0 {
		c.VerifyChecks = 3
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Applicator is the one primitive both the decision path and the
// reconciliation path converge on: locate the content node, apply the
// treatment, watch briefly for host-driven loss.
type Applicator struct {
	cfg ApplicatorConfig
}

// NewApplicator creates an Applicator.
func NewApplicator(cfg ApplicatorConfig) *Applicator {
	cfg.defaults()
	return &Applicator{cfg: cfg}
}

// Locate resolves the styleable content node inside a message element.
// Returns ErrContentNotFound (wrapped) when the shape is unstyleable or the
// host has not mounted the content yet — the caller retries.
func (a *Applicator) Locate(ctx context.Context, msg hostdom.Element) (hostdom.Element, Target, error) {
	src, err := msg.HTML(ctx)
	if err != nil {
		return nil, Target{}, fmt.Errorf("style: read message markup: %w", err)
	}

	target, err := Classify(src, a.cfg.Selectors)
	if err != nil {
		return nil, target, err
	}
	if target.Selector == "" {
		return msg, target, nil
	}

	if target.PickLast {
		matches, err := msg.QueryAll(ctx, target.Selector)
		if err != nil {
			return nil, target, fmt.Errorf("style: query %s: %w", target.Selector, err)
		}
		if len(matches) == 0 {
			return nil, target, ErrContentNotFound
		}
		return matches[len(matches)-1], target, nil
	}

	content, err := msg.Query(ctx, target.Selector)
	if err != nil {
		return nil, target, ErrContentNotFound
	}
	return content, target, nil
}

// ApplyAndVerify locates the content node, applies the treatment, and arms
// the bounded verification monitor. The monitor runs detached: styling is
// eventually consistent, and its failure never propagates past a warning.
func (a *Applicator) ApplyAndVerify(ctx context.Context, msg hostdom.Element, cfg Config) (bool, error) {
	content, _, err := a.Locate(ctx, msg)
	if err != nil {
		return false, err
	}

	applied, err := Apply(ctx, content, cfg)
	if err != nil {
		return false, err
	}

	go a.watch(ctx, content, cfg)
	return applied, nil
}

// watch re-checks the element a bounded number of times and re-applies the
// treatment if the host stripped it. Stops early when the element dies or
// the context ends. Budget exhaustion with the style still missing is logged
// as a warning and abandoned — the next reconciliation trigger owns it.
func (a *Applicator) watch(ctx context.Context, el hostdom.Element, cfg Config) {
	recheck := make(chan struct{}, 1)
	if a.cfg.Events != nil {
		unsub, err := a.cfg.Events.Subscribe(el, func(m hostdom.Mutation) {
			if m.Kind == hostdom.MutationStyle {
				select {
				case recheck <- struct{}{}:
				default:
				}
			}
		})
		if err == nil {
			defer unsub()
		}
	}

	timer := time.NewTimer(a.cfg.VerifyInterval)
	defer timer.Stop()

	for check := 0; check < a.cfg.VerifyChecks; check++ {
		select {
		case <-ctx.Done():
			return
		case <-recheck:
		case <-timer.C:
		}
		timer.Reset(a.cfg.VerifyInterval)

		if !el.Alive(ctx) {
			return
		}
		if Verified(ctx, el, cfg) {
			continue
		}
		if _, err := Apply(ctx, el, cfg); err != nil {
			a.cfg.Logger.Warn("style: reapply during verification failed",
				"element", el.ID(), "error", err)
		}
	}

	if el.Alive(ctx) && !Verified(ctx, el, cfg) {
		a.cfg.Logger.Warn("style: verification budget exhausted, style not holding",
			"element", el.ID(), "checks", a.cfg.VerifyChecks)
	}
}
