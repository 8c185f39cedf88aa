// Package domtest provides an in-memory hostdom implementation for tests.
//
// The fake reproduces the host behaviours that matter to reconciliation:
// mounting and unmounting message nodes, replacing a node while keeping its
// logical content, and asynchronously stripping inline styles. Mutation
// delivery is synchronous, which keeps tests deterministic.
package domtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/critlab/critwatch/hostdom"
)

// Tree is a fake hostdom.Host.
type Tree struct {
	mu       sync.Mutex
	messages []*Element
	events   chan hostdom.MessageEvent
	subs     []*subscription
	nextID   int
}

type subscription struct {
	scopeID string // "" = whole tree
	fn      func(hostdom.Mutation)
}

// New creates an empty fake tree.
func New() *Tree {
	return &Tree{events: make(chan hostdom.MessageEvent, 256)}
}

// Messages implements hostdom.Host.
func (t *Tree) Messages(ctx context.Context) ([]hostdom.Element, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]hostdom.Element, 0, len(t.messages))
	for _, el := range t.messages {
		out = append(out, el)
	}
	return out, nil
}

// Subscribe implements hostdom.Host. Unsubscribing removes the entry, the
// same teardown contract the live tree honours.
func (t *Tree) Subscribe(scope hostdom.Element, fn func(hostdom.Mutation)) (hostdom.Unsubscribe, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &subscription{fn: fn}
	if scope != nil {
		sub.scopeID = scope.ID()
	}
	t.subs = append(t.subs, sub)
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

// MountMessage mounts a plain-shape message element, delivers its
// new-message event, and notifies tree subscribers.
func (t *Tree) MountMessage(md hostdom.MessageData) *Element {
	el := t.buildMessage(md, fmt.Sprintf(
		`<div class="message-h0st"><div class="messageContent-h0st">%s</div></div>`, md.Content))
	t.events <- hostdom.MessageEvent{Data: md, Element: el}
	t.notify(hostdom.Mutation{Kind: hostdom.MutationInsert, Element: el})
	return el
}

// MountSilent mounts a message element without delivering a new-message
// event — a node the host materialised without firing its message hook
// (scrollback, virtualization). Only reconciliation scans will see it.
func (t *Tree) MountSilent(md hostdom.MessageData) *Element {
	el := t.buildMessage(md, fmt.Sprintf(
		`<div class="message-h0st"><div class="messageContent-h0st">%s</div></div>`, md.Content))
	t.notify(hostdom.Mutation{Kind: hostdom.MutationInsert, Element: el})
	return el
}

// MountSystem mounts a system-notice element (never styleable).
func (t *Tree) MountSystem(md hostdom.MessageData) *Element {
	return t.buildMessage(md, fmt.Sprintf(
		`<div class="message-h0st systemMessage-h0st"><div class="content-h0st">%s</div></div>`, md.Content))
}

// EmitEvent delivers a new-message event with no mounted element: the
// decision arrives before the node exists.
func (t *Tree) EmitEvent(md hostdom.MessageData) {
	t.events <- hostdom.MessageEvent{Data: md, Element: nil}
}

// Replace swaps an element for a new node rendering the same message —
// the host destroyed and remounted the row. The old element dies.
func (t *Tree) Replace(old *Element) *Element {
	t.mu.Lock()
	old.alive = false
	for i, el := range t.messages {
		if el == old {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	t.notify(hostdom.Mutation{Kind: hostdom.MutationRemove, Element: old})
	return t.MountSilent(*old.md)
}

// StripStyles clears all inline styles under an element, as host frameworks
// do when they re-render a row's internals.
func (t *Tree) StripStyles(el *Element) {
	t.mu.Lock()
	var clear func(*Element)
	clear = func(e *Element) {
		e.styles = map[string]string{}
		for _, c := range e.children {
			clear(c)
		}
	}
	clear(el)
	t.mu.Unlock()
	t.notify(hostdom.Mutation{Kind: hostdom.MutationStyle, Element: el})
}

// Unmount removes an element from the tree.
func (t *Tree) Unmount(el *Element) {
	t.mu.Lock()
	el.alive = false
	for i, m := range t.messages {
		if m == el {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	t.notify(hostdom.Mutation{Kind: hostdom.MutationRemove, Element: el})
}

// SignalChannelMounted emits the channel-activation notification.
func (t *Tree) SignalChannelMounted(channelID string) {
	t.notify(hostdom.Mutation{Kind: hostdom.MutationChannel, ChannelID: channelID})
}

func (t *Tree) buildMessage(md hostdom.MessageData, htmlSrc string) *Element {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.newElementLocked(htmlSrc)
	root.md = &md
	root.classes = extractClasses(htmlSrc, 0)
	for _, cls := range extractChildClasses(htmlSrc) {
		child := t.newElementLocked("")
		child.classes = cls
		root.children = append(root.children, child)
	}
	t.messages = append(t.messages, root)
	return root
}

func (t *Tree) newElementLocked(htmlSrc string) *Element {
	t.nextID++
	return &Element{
		tree:   t,
		id:     fmt.Sprintf("node-%d", t.nextID),
		html:   htmlSrc,
		styles: map[string]string{},
		alive:  true,
	}
}

// notify delivers a mutation to matching active subscribers. Callbacks run
// outside the tree lock so they may call back into the tree.
func (t *Tree) notify(m hostdom.Mutation) {
	t.mu.Lock()
	var targets []func(hostdom.Mutation)
	for _, sub := range t.subs {
		if sub.scopeID != "" && (m.Element == nil || !t.inScopeLocked(sub.scopeID, m.Element)) {
			continue
		}
		targets = append(targets, sub.fn)
	}
	t.mu.Unlock()

	for _, fn := range targets {
		fn(m)
	}
}

func (t *Tree) inScopeLocked(scopeID string, el hostdom.Element) bool {
	fake, ok := el.(*Element)
	if !ok {
		return false
	}
	var contains func(*Element) bool
	contains = func(e *Element) bool {
		if e.id == scopeID {
			return true
		}
		for _, c := range e.children {
			if contains(c) {
				return true
			}
		}
		return false
	}
	// Scope matches when the mutated element is the scope root or the scope
	// root sits inside the mutated subtree.
	if fake.id == scopeID {
		return true
	}
	return contains(fake)
}

// extractClasses pulls the class attribute of the nth element in crude fake
// markup. Good enough for the markup this package itself generates.
func extractClasses(htmlSrc string, n int) []string {
	parts := strings.Split(htmlSrc, `class="`)
	if len(parts) <= n+1 {
		return nil
	}
	val, _, _ := strings.Cut(parts[n+1], `"`)
	return strings.Fields(val)
}

func extractChildClasses(htmlSrc string) [][]string {
	parts := strings.Split(htmlSrc, `class="`)
	var out [][]string
	for _, p := range parts[2:] { // parts[1] is the root element
		val, _, _ := strings.Cut(p, `"`)
		out = append(out, strings.Fields(val))
	}
	return out
}
