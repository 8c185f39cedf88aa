// Package style applies crit decoration to host elements: configuration,
// CSS declaration building, content location across message shape variants,
// idempotent application, and a bounded verification monitor for hosts that
// asynchronously strip inline styles.
package style

import (
	"fmt"
	"strings"
)

// Mode selects the visual treatment.
type Mode string

const (
	ModeGradient Mode = "gradient"
	ModeSolid    Mode = "solid"
	ModeGlow     Mode = "glow"
)

// FontTreatment optionally overrides the message font.
type FontTreatment struct {
	Family string  `yaml:"family" json:"family"`
	SizeEm float64 `yaml:"size_em" json:"size_em"`
}

// Config is the visual treatment for crit messages. A snapshot of it is
// frozen into every history entry at decision time; later config changes
// affect only future decisions.
type Config struct {
	Mode             Mode           `yaml:"mode" json:"mode"`
	ColorStops       []string       `yaml:"color_stops" json:"color_stops"`
	Font             *FontTreatment `yaml:"font,omitempty" json:"font,omitempty"`
	AnimationEnabled bool           `yaml:"animation" json:"animation"`
}

// Default is the safe fallback treatment.
func Default() Config {
	return Config{
		Mode:             ModeGradient,
		ColorStops:       []string{"#ff4d4d", "#ffb14d", "#fff24d"},
		AnimationEnabled: true,
	}
}

// Sanitized validates the config and returns a usable one. Malformed input
// degrades to Default rather than failing the message: the returned error
// describes what was wrong and is for logging only.
func (c Config) Sanitized() (Config, error) {
	switch c.Mode {
	case ModeGradient, ModeSolid, ModeGlow:
	default:
		return Default(), fmt.Errorf("style: unknown mode %q", c.Mode)
	}

	if len(c.ColorStops) == 0 {
		return Default(), fmt.Errorf("style: no color stops")
	}
	if c.Mode == ModeGradient && len(c.ColorStops) < 2 {
		return Default(), fmt.Errorf("style: gradient needs at least 2 color stops, got %d", len(c.ColorStops))
	}
	for _, stop := range c.ColorStops {
		if !validColor(stop) {
			return Default(), fmt.Errorf("style: invalid color stop %q", stop)
		}
	}

	if c.Font != nil {
		if strings.ContainsAny(c.Font.Family, ";{}<>") {
			return Default(), fmt.Errorf("style: invalid font family %q", c.Font.Family)
		}
		if c.Font.SizeEm < 0 || c.Font.SizeEm > 8 {
			return Default(), fmt.Errorf("style: font size %g out of range", c.Font.SizeEm)
		}
	}

	return c, nil
}

// validColor accepts hex, rgb()/rgba(), and CSS named colors. The check is
// a declaration-injection guard, not a full CSS parser.
func validColor(s string) bool {
	if s == "" || strings.ContainsAny(s, ";{}<>") {
		return false
	}
	if strings.HasPrefix(s, "#") {
		rest := s[1:]
		if len(rest) != 3 && len(rest) != 6 && len(rest) != 8 {
			return false
		}
		for _, r := range rest {
			if !isHex(r) {
				return false
			}
		}
		return true
	}
	return true
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
