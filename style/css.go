package style

import (
	"fmt"
	"strings"

	"github.com/critlab/critwatch/hostdom"
)

// MarkerClass tags elements critwatch has decorated. Reconciliation queries
// by this class; the host never sets it.
const MarkerClass = "critwatch-crit"

// AnimationClass triggers the brief restoration emphasis animation. Purely
// presentational: its absence is never a restoration failure.
const AnimationClass = "critwatch-restored"

// Declarations builds the inline-style declarations for a treatment. Pure:
// presentation attributes only, never content or semantics.
func Declarations(cfg Config) []hostdom.StyleDecl {
	var decls []hostdom.StyleDecl

	switch cfg.Mode {
	case ModeSolid:
		decls = append(decls,
			hostdom.StyleDecl{Property: "color", Value: cfg.ColorStops[0]},
			hostdom.StyleDecl{Property: "font-weight", Value: "700"},
		)
	case ModeGlow:
		c := cfg.ColorStops[0]
		decls = append(decls,
			hostdom.StyleDecl{Property: "color", Value: c},
			hostdom.StyleDecl{Property: "text-shadow", Value: fmt.Sprintf("0 0 4px %s, 0 0 12px %s", c, c)},
		)
	default: // ModeGradient
		decls = append(decls,
			hostdom.StyleDecl{Property: "background-image", Value: gradient(cfg.ColorStops)},
			hostdom.StyleDecl{Property: "-webkit-background-clip", Value: "text"},
			hostdom.StyleDecl{Property: "background-clip", Value: "text"},
			hostdom.StyleDecl{Property: "-webkit-text-fill-color", Value: "transparent"},
		)
	}

	if f := cfg.Font; f != nil {
		if f.Family != "" {
			decls = append(decls, hostdom.StyleDecl{Property: "font-family", Value: f.Family})
		}
		if f.SizeEm > 0 {
			decls = append(decls, hostdom.StyleDecl{Property: "font-size", Value: fmt.Sprintf("%.2fem", f.SizeEm)})
		}
	}

	return decls
}

// KeyProperty is the declaration whose presence proves the treatment "took".
// Hosts strip inline styles wholesale, so checking one anchor property is
// enough to detect loss.
func KeyProperty(mode Mode) string {
	switch mode {
	case ModeSolid:
		return "color"
	case ModeGlow:
		return "text-shadow"
	default:
		return "background-image"
	}
}

func gradient(stops []string) string {
	return "linear-gradient(90deg, " + strings.Join(stops, ", ") + ")"
}
