package domtest

import (
	"context"
	"strings"

	"github.com/critlab/critwatch/hostdom"
)

// Element is a fake host node.
type Element struct {
	tree     *Tree
	id       string
	md       *hostdom.MessageData
	html     string
	classes  []string
	styles   map[string]string
	children []*Element
	alive    bool
}

var _ hostdom.Element = (*Element)(nil)

// ID implements hostdom.Element.
func (e *Element) ID() string { return e.id }

// Message implements hostdom.Element.
func (e *Element) Message(ctx context.Context) (hostdom.MessageData, error) {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	if !e.alive {
		return hostdom.MessageData{}, hostdom.ErrGone
	}
	if e.md == nil {
		return hostdom.MessageData{}, hostdom.ErrNoElement
	}
	return *e.md, nil
}

// HTML implements hostdom.Element.
func (e *Element) HTML(ctx context.Context) (string, error) {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	if !e.alive {
		return "", hostdom.ErrGone
	}
	return e.html, nil
}

// Style implements hostdom.Element.
func (e *Element) Style(ctx context.Context, property string) (string, error) {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	if !e.alive {
		return "", hostdom.ErrGone
	}
	return e.styles[property], nil
}

// SetStyles implements hostdom.Element.
func (e *Element) SetStyles(ctx context.Context, decls []hostdom.StyleDecl) error {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	if !e.alive {
		return hostdom.ErrGone
	}
	for _, d := range decls {
		e.styles[d.Property] = d.Value
	}
	return nil
}

// AddMarker implements hostdom.Element.
func (e *Element) AddMarker(ctx context.Context, class string) error {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	if !e.alive {
		return hostdom.ErrGone
	}
	for _, c := range e.classes {
		if c == class {
			return nil
		}
	}
	e.classes = append(e.classes, class)
	return nil
}

// Query implements hostdom.Element.
func (e *Element) Query(ctx context.Context, selector string) (hostdom.Element, error) {
	matches, err := e.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, hostdom.ErrNoElement
	}
	return matches[0], nil
}

// QueryAll implements hostdom.Element. Selector matching mirrors the real
// host: ".class" matches by substring because host class names carry build
// hash suffixes.
func (e *Element) QueryAll(ctx context.Context, selector string) ([]hostdom.Element, error) {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	if !e.alive {
		return nil, hostdom.ErrGone
	}

	want := strings.TrimPrefix(selector, ".")
	var out []hostdom.Element
	var walk func(*Element)
	walk = func(el *Element) {
		for _, c := range el.children {
			if c.matches(want) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(e)
	return out, nil
}

// Alive implements hostdom.Element.
func (e *Element) Alive(ctx context.Context) bool {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	return e.alive
}

// StyleValue exposes a child style for test assertions, bypassing the
// Element interface. Empty string when unset.
func (e *Element) StyleValue(property string) string {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	return e.styles[property]
}

// HasClass reports whether the element carries a class, exactly.
func (e *Element) HasClass(class string) bool {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	for _, c := range e.classes {
		if c == class {
			return true
		}
	}
	return false
}

// ContentChild returns the first child carrying the content class, for
// direct assertions on where styles landed.
func (e *Element) ContentChild() *Element {
	e.tree.mu.Lock()
	defer e.tree.mu.Unlock()
	for _, c := range e.children {
		if c.matches("messageContent") {
			return c
		}
	}
	return nil
}

func (e *Element) matches(classSubstr string) bool {
	for _, c := range e.classes {
		if strings.Contains(c, classSubstr) {
			return true
		}
	}
	return false
}
