package editsession

import (
	"regexp"
	"strings"
)

// Phraser turns a prompt into a short phrase for the accumulated context.
type Phraser func(prompt string) string

var (
	addPattern     = regexp.MustCompile(`(?i)\badd\s+([^.,;!?]+)`)
	changePattern  = regexp.MustCompile(`(?i)\b(?:change|replace)\s+([^.,;!?]+)`)
	removePattern  = regexp.MustCompile(`(?i)\bremove\s+([^.,;!?]+)`)
	fallbackTokens = 4
)

// DerivePhrase is the default Phraser. It is keyword matching, not language
// understanding: the result is a best-effort hint for later prompts.
//
//	"add white roses to the arch" -> "added white roses to the arch"
//	"make the lighting warmer"    -> "adjusted lighting"
func DerivePhrase(prompt string) string {
	if m := addPattern.FindStringSubmatch(prompt); m != nil {
		return "added " + strings.TrimSpace(m[1])
	}
	if m := changePattern.FindStringSubmatch(prompt); m != nil {
		return "changed " + strings.TrimSpace(m[1])
	}
	if m := removePattern.FindStringSubmatch(prompt); m != nil {
		return "removed " + strings.TrimSpace(m[1])
	}

	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "light"):
		return "adjusted lighting"
	case strings.Contains(lower, "color"), strings.Contains(lower, "colour"):
		return "adjusted colors"
	}

	fields := strings.Fields(prompt)
	if len(fields) > fallbackTokens {
		fields = fields[:fallbackTokens]
	}
	return strings.Join(fields, " ")
}
