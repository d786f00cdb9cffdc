// Package ladder implements the batch-shrinking rescue engine that wraps
// every translation-stage LLM call.
//
// The engine never fails: given N cues it always returns N items in input
// order. When the model keeps returning malformed batches the engine retries
// at smaller chunk sizes, then without glossary and context, and finally
// degrades single cues to a pass-through.
package ladder

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/subforge/subtran/internal/llm"
	"github.com/subforge/subtran/internal/subtitle"
)

// sizes is the descending chunk-size ladder.
var sizes = []int{8, 6, 4, 2, 1}

// contextTries is the number of tries per rung with glossary and context
// before the stripped attempt.
const contextTries = 2

// strippedContext replaces the rolling context on the stripped attempt.
const strippedContext = "None"

// Item is one per-cue stage result.
type Item struct {
	ID       int
	Text     string
	Original string
}

// Stage is the per-stage strategy the engine drives. Literal and polish
// differ only in prompt shape, response field, degraded fallback and whether
// they feed the rolling context.
type Stage interface {
	Name() string
	Temperature() float64
	UpdatesContext() bool
	BuildMessages(chunk []subtitle.Cue, glossaryText, rollingContext string) ([]llm.Message, error)
	Parse(raw string, chunk []subtitle.Cue) ([]Item, error)
	Degraded(cue subtitle.Cue) Item
}

// Engine runs one stage over one batch of cues.
type Engine struct {
	Client llm.Caller
	Log    zerolog.Logger
}

// Run translates cues through the stage and returns exactly len(cues) items
// in input order, plus the rolling context after the batch. The context only
// changes for stages that update it.
func (e *Engine) Run(ctx context.Context, stage Stage, cues []subtitle.Cue, glossaryText, rollingContext string) ([]Item, string) {
	items := make([]Item, 0, len(cues))

	i := 0
	for i < len(cues) {
		remaining := len(cues) - i

		advanced := false
		for _, size := range sizes {
			if size > remaining {
				continue
			}
			chunk := cues[i : i+size]

			got := e.tryChunk(ctx, stage, chunk, glossaryText, rollingContext, contextTries)
			if got == nil {
				got = e.tryChunk(ctx, stage, chunk, "{}", strippedContext, 1)
				if got != nil {
					e.Log.Debug().Str("stage", stage.Name()).Int("size", size).
						Msg("chunk recovered on stripped attempt")
				}
			}
			if got == nil {
				continue
			}

			items = append(items, got...)
			if stage.UpdatesContext() {
				rollingContext = appendContext(rollingContext, got)
			}
			i += size
			advanced = true
			break
		}
		if advanced {
			continue
		}

		// Every rung failed. Give up on the cue at the cursor only; the
		// rest of the batch gets a fresh ladder.
		cue := cues[i]
		e.Log.Warn().Str("stage", stage.Name()).Int("id", cue.ID).
			Msg("cue degraded to pass-through")
		item := stage.Degraded(cue)
		items = append(items, item)
		if stage.UpdatesContext() {
			rollingContext = appendContext(rollingContext, []Item{item})
		}
		i++
	}

	return items, rollingContext
}

// tryChunk sends one chunk up to tries times and returns the validated items,
// or nil when every try failed.
func (e *Engine) tryChunk(ctx context.Context, stage Stage, chunk []subtitle.Cue, glossaryText, rollingContext string, tries int) []Item {
	for attempt := 0; attempt < tries; attempt++ {
		messages, err := stage.BuildMessages(chunk, glossaryText, rollingContext)
		if err != nil {
			e.Log.Error().Err(err).Str("stage", stage.Name()).Msg("prompt build failed")
			return nil
		}
		raw, err := e.Client.Call(ctx, messages, stage.Temperature())
		if err != nil {
			e.Log.Warn().Err(err).Str("stage", stage.Name()).Int("size", len(chunk)).
				Msg("transport gave up on chunk")
			continue
		}
		items, err := stage.Parse(raw, chunk)
		if err != nil {
			e.Log.Debug().Err(err).Str("stage", stage.Name()).Int("size", len(chunk)).
				Int("attempt", attempt+1).Msg("response validation failed")
			continue
		}
		return items
	}
	return nil
}

// appendContext appends one "- original -> translated" line per item. The
// initial "None" placeholder is dropped once real lines exist.
func appendContext(current string, items []Item) string {
	var b strings.Builder
	if current != "" && current != strippedContext {
		b.WriteString(current)
	}
	for _, it := range items {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(it.Original)
		b.WriteString(" -> ")
		b.WriteString(it.Text)
	}
	return b.String()
}

// ContextTail keeps the last n lines of a rolling context. An empty result
// becomes the "None" placeholder.
func ContextTail(context string, n int) string {
	if context == "" || context == strippedContext {
		return strippedContext
	}
	lines := strings.Split(context, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
