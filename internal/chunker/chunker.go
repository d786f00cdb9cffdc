// Package chunker splits sampled transcript text into prompt-sized parts.
//
// Term-extraction prompts cap the sample at a fixed rune budget. Splits
// prefer cue boundaries (newlines) so a subtitle line is never cut in half;
// only a single line longer than the whole budget is hard-cut.
package chunker

import (
	"strings"
	"unicode"
)

// Split breaks text into parts of at most maxRunes runes each. Split points
// are chosen, in order of preference, at the last newline, the last
// whitespace, or a hard cut. maxRunes <= 0 means unlimited.
func Split(text string, maxRunes int) []string {
	if maxRunes <= 0 || len([]rune(text)) <= maxRunes {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	var parts []string
	remaining := text
	for len([]rune(remaining)) > maxRunes {
		cut := findCut(remaining, maxRunes)
		part := strings.TrimSpace(remaining[:cut])
		if part != "" {
			parts = append(parts, part)
		}
		remaining = strings.TrimSpace(remaining[cut:])
	}
	if strings.TrimSpace(remaining) != "" {
		parts = append(parts, strings.TrimSpace(remaining))
	}
	return parts
}

// findCut returns the byte offset at which to split so the head holds at
// most maxRunes runes, preferring line then word boundaries.
func findCut(text string, maxRunes int) int {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return len(text)
	}
	candidate := runes[:maxRunes]

	for i := len(candidate) - 1; i > 0; i-- {
		if candidate[i] == '\n' {
			return len(string(candidate[:i+1]))
		}
	}
	for i := len(candidate) - 1; i > 0; i-- {
		if unicode.IsSpace(candidate[i]) {
			return len(string(candidate[:i]))
		}
	}
	return len(string(candidate))
}
