package fingerprint

import (
	stdhtml "html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// strict strips every tag. Applied as the final guard so stray markup the
// structural walk missed never reaches the hash.
var strict = bluemonday.StrictPolicy()

// noiseClasses mark host containers whose text is presentation noise, not
// message content: embeds, attachments, reactions, reply previews,
// timestamps. Class matching is by substring because the host suffixes its
// class names with build hashes.
var noiseClasses = []string{
	"embed",
	"attachment",
	"reaction",
	"repliedMessage",
	"repliedText",
	"timestamp",
	"spoilerWarning",
}

// Normalize reduces raw message content to its canonical text so that
// host-side re-serialization of the same logical message hashes identically.
// It strips markup, embed/attachment noise, markdown decoration, zero-width
// characters, and collapses whitespace.
func Normalize(raw string) string {
	text := raw
	if strings.ContainsRune(raw, '<') {
		if t, ok := collectMessageText(raw); ok {
			text = t
		}
	}
	text = stdhtml.UnescapeString(strict.Sanitize(text))
	text = stripInvisible(text)
	text = stripMarkdown(text)
	return collapseWhitespace(text)
}

// collectMessageText parses markup and gathers text nodes, skipping subtrees
// under noise containers. Returns ok=false on unparseable input so the caller
// falls back to treating the raw string as plain text.
func collectMessageText(raw string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", false
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && isNoise(n) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String(), true
}

func isNoise(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, noise := range noiseClasses {
			if strings.Contains(attr.Val, noise) {
				return true
			}
		}
	}
	return false
}

// markdownStripper removes decoration characters the host adds or drops
// depending on render mode. Identity only cares about the underlying text.
var markdownStripper = strings.NewReplacer(
	"**", "",
	"*", "",
	"__", "",
	"~~", "",
	"`", "",
	"||", "",
	"> ", "",
)

func stripMarkdown(s string) string {
	return markdownStripper.Replace(s)
}

// stripInvisible drops zero-width and BOM runes some hosts inject.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		return r
	}, s)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
