package rodtree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/critlab/critwatch/hostdom"
)

// Element is a live host node, addressed by the data-cw-id attribute the
// injected observer assigns. Every method re-resolves the node, so a stale
// handle degrades to hostdom.ErrGone instead of operating on a remount.
type Element struct {
	tree *Tree
	cwID string
}

var _ hostdom.Element = (*Element)(nil)

// ID implements hostdom.Element.
func (e *Element) ID() string { return e.cwID }

func (e *Element) resolve(ctx context.Context) (*rod.Element, error) {
	sel := fmt.Sprintf(`[data-cw-id=%q]`, e.cwID)
	els, err := e.tree.page.Context(ctx).Elements(sel)
	if err != nil {
		return nil, fmt.Errorf("rodtree: resolve %s: %w", e.cwID, err)
	}
	if len(els) == 0 {
		return nil, hostdom.ErrGone
	}
	return els.First(), nil
}

// Message implements hostdom.Element via the page-side extractor, so the
// data seen here is byte-identical to what the observer reports on mount.
func (e *Element) Message(ctx context.Context) (hostdom.MessageData, error) {
	el, err := e.resolve(ctx)
	if err != nil {
		return hostdom.MessageData{}, err
	}
	res, err := el.Eval(`() => window.__critwatch_extract(this)`)
	if err != nil {
		return hostdom.MessageData{}, fmt.Errorf("rodtree: extract %s: %w", e.cwID, err)
	}

	v := res.Value
	return hostdom.MessageData{
		Author:    v.Get("author").Str(),
		ChannelID: v.Get("channel").Str(),
		Content:   v.Get("content").Str(),
		Timestamp: time.UnixMilli(int64(v.Get("ts").Num())),
	}, nil
}

// HTML implements hostdom.Element.
func (e *Element) HTML(ctx context.Context) (string, error) {
	el, err := e.resolve(ctx)
	if err != nil {
		return "", err
	}
	src, err := el.HTML()
	if err != nil {
		return "", fmt.Errorf("rodtree: html %s: %w", e.cwID, err)
	}
	return src, nil
}

// Style implements hostdom.Element. Reads the inline style, not the
// computed one: verification asks "did our declaration survive", and the
// host strips inline styles specifically.
func (e *Element) Style(ctx context.Context, property string) (string, error) {
	el, err := e.resolve(ctx)
	if err != nil {
		return "", err
	}
	res, err := el.Eval(`(prop) => this.style.getPropertyValue(prop)`, property)
	if err != nil {
		return "", fmt.Errorf("rodtree: read style %s: %w", e.cwID, err)
	}
	return res.Value.Str(), nil
}

// SetStyles implements hostdom.Element. All declarations land in one eval
// so a concurrent host re-render cannot interleave a partial application.
func (e *Element) SetStyles(ctx context.Context, decls []hostdom.StyleDecl) error {
	el, err := e.resolve(ctx)
	if err != nil {
		return err
	}
	pairs := make([][2]string, len(decls))
	for i, d := range decls {
		pairs[i] = [2]string{d.Property, d.Value}
	}
	_, err = el.Eval(`(pairs) => {
		for (const [prop, value] of pairs) {
			this.style.setProperty(prop, value);
		}
	}`, pairs)
	if err != nil {
		return fmt.Errorf("rodtree: set styles %s: %w", e.cwID, err)
	}
	return nil
}

// AddMarker implements hostdom.Element.
func (e *Element) AddMarker(ctx context.Context, class string) error {
	el, err := e.resolve(ctx)
	if err != nil {
		return err
	}
	if _, err := el.Eval(`(cls) => this.classList.add(cls)`, class); err != nil {
		return fmt.Errorf("rodtree: add marker %s: %w", e.cwID, err)
	}
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

// QueryAll implements hostdom.Element. ".class" selectors translate to
// substring attribute matches because the host suffixes class names with
// build hashes.
func (e *Element) QueryAll(ctx context.Context, selector string) ([]hostdom.Element, error) {
	el, err := e.resolve(ctx)
	if err != nil {
		return nil, err
	}
	children, err := el.Elements(translateSelector(selector))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("rodtree: query %q under %s: %w", selector, e.cwID, err)
	}

	out := make([]hostdom.Element, 0, len(children))
	for _, c := range children {
		id, err := assignID(ctx, c)
		if err != nil {
			continue
		}
		out = append(out, &Element{tree: e.tree, cwID: id})
	}
	return out, nil
}

// Alive implements hostdom.Element.
func (e *Element) Alive(ctx context.Context) bool {
	el, err := e.resolve(ctx)
	if err != nil {
		return false
	}
	res, err := el.Eval(`() => this.isConnected`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func translateSelector(selector string) string {
	if cls, ok := strings.CutPrefix(selector, "."); ok {
		return fmt.Sprintf(`[class*=%q]`, cls)
	}
	return selector
}
