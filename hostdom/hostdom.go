// Package hostdom defines the boundary between critwatch and the host's
// live visual tree. The host owns the tree: it mounts, replaces, and removes
// message nodes at will (virtualized lists, channel switches). critwatch
// never reads the tree as ground truth for classification — only as a
// rendering target to reconcile toward the History Store's state.
//
// Two implementations exist: rodtree (a real Chromium tab over CDP) and
// domtest (an in-memory fake for tests). Everything above this package is
// implementation-agnostic.
package hostdom

import (
	"context"
	"time"
)

// MessageData is the raw message payload carried by a "new message" event.
// It is the only input to fingerprinting — never the node that rendered it.
type MessageData struct {
	Author    string
	ChannelID string
	Content   string // raw content as the host serialised it (may contain markup)
	Timestamp time.Time
}

// MessageEvent pairs message data with the element that rendered it.
// Element may be nil when the decision arrives before the node exists.
type MessageEvent struct {
	Data    MessageData
	Element Element
}

// StyleDecl is a single CSS declaration applied to an element's inline style.
type StyleDecl struct {
	Property string
	Value    string
}

// MutationKind classifies a host tree notification.
type MutationKind string

const (
	MutationInsert  MutationKind = "insert"  // subtree gained nodes
	MutationRemove  MutationKind = "remove"  // subtree lost nodes
	MutationStyle   MutationKind = "style"   // style attribute changed (possibly stripped)
	MutationChannel MutationKind = "channel" // a channel's message list finished mounting
)

// Mutation is a host tree notification delivered to subscribers.
type Mutation struct {
	Kind      MutationKind
	Element   Element // affected element, nil for tree-wide notifications
	ChannelID string  // set for MutationChannel
}

// Unsubscribe tears down a subscription. Safe to call more than once.
type Unsubscribe func()

// Element is a transient reference to a host-owned node. The host may destroy
// the underlying node at any time; callers must treat every operation as
// fallible and never retain an Element across reconciliation episodes.
type Element interface {
	// ID is the host-ephemeral identity of the node. Two Elements with the
	// same ID refer to the same node; a remounted message gets a new ID.
	ID() string

	// Message extracts the message data the node currently renders.
	Message(ctx context.Context) (MessageData, error)

	// HTML returns the node's serialised subtree.
	HTML(ctx context.Context) (string, error)

	// Style returns the inline style value for a property, "" if unset.
	Style(ctx context.Context, property string) (string, error)

	// SetStyles applies declarations to the node's inline style.
	SetStyles(ctx context.Context, decls []StyleDecl) error

	// AddMarker adds a class to the node. Idempotent.
	AddMarker(ctx context.Context, class string) error

	// Query finds the first descendant matching a simple selector
	// (".class" or "tag"). Returns ErrNoElement if nothing matches.
	Query(ctx context.Context, selector string) (Element, error)

	// QueryAll finds all descendants matching a simple selector, in
	// document order. An empty result is not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	// Alive reports whether the node is still attached to the tree.
	Alive(ctx context.Context) bool
}

// Host is the full surface critwatch consumes from a tree implementation.
type Host interface {
	// Messages enumerates the currently mounted message elements.
	Messages(ctx context.Context) ([]Element, error)

	// Subscribe registers fn for mutation notifications. A nil scope
	// subscribes to the whole tree; a non-nil scope limits delivery to that
	// element's subtree. Scoped subscriptions must be torn down before the
	// element is abandoned.
	Subscribe(scope Element, fn func(Mutation)) (Unsubscribe, error)

	// Events is the stream of new-message events.
	Events() <-chan MessageEvent
}

// Subscriber is the subset of Host needed to arm element-scoped verification.
type Subscriber interface {
	Subscribe(scope Element, fn func(Mutation)) (Unsubscribe, error)
}
