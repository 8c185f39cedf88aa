// CLAUDE:SUMMARY hostdom.Host over a live CDP tab: injected observer, binding listener, event routing to Go subscribers.
package rodtree

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/critlab/critwatch/hostdom"
)

//go:embed observer.js
var observerJS string

const bindingName = "__critwatch_binding"

// Config controls how the tree reads the host page.
type Config struct {
	// MessageClass is the class-substring marking message containers.
	MessageClass string `yaml:"message_class"`
	// ContentClass marks the text content node inside a message.
	ContentClass string `yaml:"content_class"`
	// AuthorClass marks the author name node inside a message.
	AuthorClass string `yaml:"author_class"`
	// ChannelListClass marks the message-list container whose insertion
	// signals channel activation.
	ChannelListClass string `yaml:"channel_list_class"`
	Logger           *slog.Logger
}

func (c *Config) defaults() {
	if c.MessageClass == "" {
		c.MessageClass = "message"
	}
	if c.ContentClass == "" {
		c.ContentClass = "messageContent"
	}
	if c.AuthorClass == "" {
		c.AuthorClass = "username"
	}
	if c.ChannelListClass == "" {
		c.ChannelListClass = "scrollerInner"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Tree implements hostdom.Host over a rod page.
type Tree struct {
	page   *rod.Page
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	events chan hostdom.MessageEvent

	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	scopeID string // "" = whole tree
	fn      func(hostdom.Mutation)
}

var _ hostdom.Host = (*Tree)(nil)

// Attach injects the observer into a navigated page and starts routing its
// notifications. The returned Tree is live until Stop.
func Attach(ctx context.Context, page *rod.Page, cfg Config) (*Tree, error) {
	cfg.defaults()
	ctx, cancel := context.WithCancel(ctx)

	t := &Tree{
		page:   page,
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan hostdom.MessageEvent, 256),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		t.logger.Warn("rodtree: add binding failed (may already exist)", "error", err)
	}
	go t.listenBinding()

	cfgJSON, _ := json.Marshal(map[string]string{
		"messageClass":     cfg.MessageClass,
		"contentClass":     cfg.ContentClass,
		"authorClass":      cfg.AuthorClass,
		"channelListClass": cfg.ChannelListClass,
	})
	if _, err := page.Eval(fmt.Sprintf("() => { window.__critwatch_cfg = %s; }", cfgJSON)); err != nil {
		cancel()
		return nil, fmt.Errorf("rodtree: set config: %w", err)
	}
	if _, err := page.Eval(observerJS); err != nil {
		cancel()
		return nil, fmt.Errorf("rodtree: inject observer: %w", err)
	}

	t.logger.Info("rodtree: observer attached", "message_class", cfg.MessageClass)
	return t, nil
}

// Stop disconnects the injected observer and stops routing. The global
// subscription period ends here; scoped subscriptions are already bounded
// by their elements.
func (t *Tree) Stop() {
	if _, err := t.page.Eval(`() => window.__critwatch_stop && window.__critwatch_stop()`); err != nil {
		t.logger.Debug("rodtree: observer disconnect failed", "error", err)
	}
	t.cancel()
}

// Messages implements hostdom.Host.
func (t *Tree) Messages(ctx context.Context) ([]hostdom.Element, error) {
	els, err := t.page.Context(ctx).Elements(classSelector(t.cfg.MessageClass))
	if err != nil {
		return nil, fmt.Errorf("rodtree: query messages: %w", err)
	}

	out := make([]hostdom.Element, 0, len(els))
	for _, el := range els {
		id, err := assignID(ctx, el)
		if err != nil {
			continue // node raced away mid-enumeration
		}
		out = append(out, &Element{tree: t, cwID: id})
	}
	return out, nil
}

// Subscribe implements hostdom.Host. Unsubscribing removes the entry; scoped
// subscriptions are short-lived and must not accumulate in the fan-out list.
func (t *Tree) Subscribe(scope hostdom.Element, fn func(hostdom.Mutation)) (hostdom.Unsubscribe, error) {
	sub := &subscription{fn: fn}
	if scope != nil {
		sub.scopeID = scope.ID()
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	return func() { t.removeSub(sub) }, nil
}

func (t *Tree) removeSub(sub *subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s == sub {
			t.subs[i] = t.subs[len(t.subs)-1]
			t.subs[len(t.subs)-1] = nil
			t.subs = t.subs[:len(t.subs)-1]
			return
		}
	}
}

// Events implements hostdom.Host.
func (t *Tree) Events() <-chan hostdom.MessageEvent {
	return t.events
}

// record is one observer notification from the page.
type record struct {
	Op      string   `json:"op"`
	ID      string   `json:"id"`
	Path    []string `json:"path"`
	Author  string   `json:"author"`
	Channel string   `json:"channel"`
	Content string   `json:"content"`
	TS      int64    `json:"ts"` // epoch milliseconds
}

// listenBinding receives observer batches via Runtime.bindingCalled.
func (t *Tree) listenBinding() {
	t.page.Context(t.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var records []record
		if err := json.Unmarshal([]byte(e.Payload), &records); err != nil {
			t.logger.Warn("rodtree: parse binding payload", "error", err)
			return
		}
		for _, rec := range records {
			t.route(rec)
		}
	})()
}

func (t *Tree) route(rec record) {
	switch rec.Op {
	case "message":
		ev := hostdom.MessageEvent{
			Data: hostdom.MessageData{
				Author:    rec.Author,
				ChannelID: rec.Channel,
				Content:   rec.Content,
				Timestamp: time.UnixMilli(rec.TS),
			},
			Element: &Element{tree: t, cwID: rec.ID},
		}
		select {
		case t.events <- ev:
		default:
			t.logger.Warn("rodtree: event buffer full, dropping message event")
		}
		t.notify(hostdom.Mutation{Kind: hostdom.MutationInsert, Element: ev.Element}, rec.Path)

	case "style":
		el := &Element{tree: t, cwID: rec.ID}
		t.notify(hostdom.Mutation{Kind: hostdom.MutationStyle, Element: el}, rec.Path)

	case "remove":
		el := &Element{tree: t, cwID: rec.ID}
		t.notify(hostdom.Mutation{Kind: hostdom.MutationRemove, Element: el}, rec.Path)

	case "channel":
		t.notify(hostdom.Mutation{Kind: hostdom.MutationChannel, ChannelID: rec.Channel}, nil)
	}
}

// notify fans a mutation out to subscribers. Scoped subscriptions match when
// the scope element appears on the mutation's ancestor id path.
func (t *Tree) notify(m hostdom.Mutation, path []string) {
	t.mu.Lock()
	var targets []func(hostdom.Mutation)
	for _, sub := range t.subs {
		if sub.scopeID != "" && !pathContains(path, sub.scopeID) {
			continue
		}
		targets = append(targets, sub.fn)
	}
	t.mu.Unlock()

	for _, fn := range targets {
		fn(m)
	}
}

func pathContains(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

func classSelector(classSubstr string) string {
	return fmt.Sprintf(`[class*=%q]`, classSubstr)
}

// assignID tags an element with a stable data attribute and returns it.
func assignID(ctx context.Context, el *rod.Element) (string, error) {
	res, err := el.Eval(`() => {
		if (!this.dataset.cwId) {
			window.__cw_seq = (window.__cw_seq || 0) + 1;
			this.dataset.cwId = 'cw-' + window.__cw_seq;
		}
		return this.dataset.cwId;
	}`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
