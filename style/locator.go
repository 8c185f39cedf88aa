// CLAUDE:SUMMARY Polymorphic content locator: classifies message markup into a fixed set of shape variants and picks the styleable node.
package style

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
)

// ErrContentNotFound reports that no styleable content node exists in a
// message element. Expected for system messages and unknown shapes; callers
// fall back to retry or skip, never treat it as a fault.
var ErrContentNotFound = errors.New("style: no styleable content in message")

// Shape is a recognised message markup variant.
type Shape string

const (
	ShapePlain  Shape = "plain"  // ordinary text message
	ShapeReply  Shape = "reply"  // message with an inline reply preview
	ShapeEmbed  Shape = "embed"  // embed-only message (link card, rich embed)
	ShapeSystem Shape = "system" // join/pin/boost notices — never styled
)

// SelectorSet names the host's class markers for message internals. Matching
// is by substring: hosts suffix class names with build hashes. All fields are
// configuration-visible because the host renames them between builds.
type SelectorSet struct {
	Message   string `yaml:"message"`    // message container
	Content   string `yaml:"content"`    // text content node
	EmbedDesc string `yaml:"embed_desc"` // embed description node
	System    string `yaml:"system"`     // system/service message container
	Reply     string `yaml:"reply"`      // inline reply preview container
}

// Defaults fills unset selector names.
func (s *SelectorSet) Defaults() {
	if s.Message == "" {
		s.Message = "message"
	}
	if s.Content == "" {
		s.Content = "messageContent"
	}
	if s.EmbedDesc == "" {
		s.EmbedDesc = "embedDescription"
	}
	if s.System == "" {
		s.System = "systemMessage"
	}
	if s.Reply == "" {
		s.Reply = "repliedMessage"
	}
}

// Target describes where to apply styling within a message element.
type Target struct {
	Shape    Shape
	Selector string // class selector for Element.Query/QueryAll, "" = element itself
	PickLast bool   // reply shape: the last content match is the real message,
	//                the earlier ones belong to the reply preview
}

// Classify inspects a message element's markup and resolves the styleable
// target. This is the single shape classifier: every variant the system
// understands is decided here, and unknown markup yields ErrContentNotFound
// rather than a guess.
func Classify(htmlSrc string, sels SelectorSet) (Target, error) {
	sels.Defaults()

	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return Target{}, ErrContentNotFound
	}

	var (
		contentCount int
		hasReply     bool
		hasEmbedDesc bool
		hasSystem    bool
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			cls := classAttr(n)
			switch {
			case strings.Contains(cls, sels.System):
				hasSystem = true
			case strings.Contains(cls, sels.Reply):
				hasReply = true
			case strings.Contains(cls, sels.Content):
				contentCount++
			case strings.Contains(cls, sels.EmbedDesc):
				hasEmbedDesc = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	switch {
	case hasSystem:
		// System notices carry no user content worth decorating.
		return Target{Shape: ShapeSystem}, ErrContentNotFound
	case hasReply && contentCount > 0:
		return Target{Shape: ShapeReply, Selector: "." + sels.Content, PickLast: true}, nil
	case contentCount > 0:
		return Target{Shape: ShapePlain, Selector: "." + sels.Content}, nil
	case hasEmbedDesc:
		return Target{Shape: ShapeEmbed, Selector: "." + sels.EmbedDesc}, nil
	default:
		return Target{}, ErrContentNotFound
	}
}

func classAttr(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "class" {
			return a.Val
		}
	}
	return ""
}
