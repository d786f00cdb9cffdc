// Package subtitle provides the cue model and a tolerant SRT parser.
//
// A cue is one time-coded subtitle block. The parser accepts slightly
// malformed streams: a leading BOM is stripped, any line-ending style is
// normalized, and individually broken blocks are skipped with a warning
// instead of failing the whole file.
package subtitle

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Cue is a single time-coded subtitle block.
//
// ID is the numeric value of Index and is strictly increasing within a
// parsed stream, but not necessarily contiguous (malformed blocks are
// dropped). Index preserves the original decimal string for use as a
// map key in progress tracking.
type Cue struct {
	ID        int
	Index     string
	Timestamp string
	Text      string
}

// Parse reads an SRT-formatted stream and returns its cues in order.
//
// Rules per block: at least two non-empty lines; line 1 is the decimal id,
// line 2 the timestamp (must contain "-->"); remaining lines form the text.
// Blocks with empty text, or where neither the id is numeric nor the
// timestamp carries the arrow token, are skipped with a warning.
func Parse(r io.Reader, log zerolog.Logger) ([]Cue, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read subtitle stream: %w", err)
	}

	content := strings.TrimPrefix(string(raw), "\uFEFF")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	var cues []Cue
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			continue
		}

		index := strings.TrimSpace(lines[0])
		timestamp := strings.TrimSpace(lines[1])
		text := strings.TrimSpace(strings.Join(lines[2:], "\n"))

		if !isDigits(index) && !strings.Contains(timestamp, "-->") {
			log.Warn().Str("block", index).Msg("skipping malformed subtitle block")
			continue
		}

		if text == "" {
			log.Warn().Str("block", index).Msg("skipping subtitle block with empty text")
			continue
		}

		id, err := strconv.Atoi(index)
		if err != nil {
			// The ladder validator needs integer ids; a block that passed the
			// arrow check but has a non-numeric id cannot be tracked.
			log.Warn().Str("block", index).Msg("skipping subtitle block with non-numeric id")
			continue
		}

		cues = append(cues, Cue{
			ID:        id,
			Index:     index,
			Timestamp: timestamp,
			Text:      text,
		})
	}

	return cues, nil
}

// FormatBlock renders a single SRT block, including the trailing blank line
// that separates it from the next block.
func FormatBlock(index int, timestamp, text string) string {
	return fmt.Sprintf("%d\n%s\n%s\n\n", index, timestamp, text)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
