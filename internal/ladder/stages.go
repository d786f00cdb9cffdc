package ladder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/subforge/subtran/internal/llm"
	"github.com/subforge/subtran/internal/prompts"
	"github.com/subforge/subtran/internal/salvage"
	"github.com/subforge/subtran/internal/subtitle"
)

// Literal is the first-pass stage: a faithful per-cue translation that
// ignores surrounding cues, so batches may run concurrently.
type Literal struct {
	Set  *prompts.Set
	Temp float64
}

func (s *Literal) Name() string         { return "literal" }
func (s *Literal) Temperature() float64 { return s.Temp }
func (s *Literal) UpdatesContext() bool { return false }

func (s *Literal) BuildMessages(chunk []subtitle.Cue, glossaryText, _ string) ([]llm.Message, error) {
	rows := make([]literalRow, len(chunk))
	for i, c := range chunk {
		rows[i] = literalRow{ID: c.ID, Text: c.Text}
	}
	input, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt, err := s.Set.Literal(glossaryText, string(input))
	if err != nil {
		return nil, err
	}
	return []llm.Message{{Role: "system", Content: prompt}}, nil
}

func (s *Literal) Parse(raw string, chunk []subtitle.Cue) ([]Item, error) {
	return parseItems(raw, chunk, "trans")
}

func (s *Literal) Degraded(cue subtitle.Cue) Item {
	return Item{ID: cue.ID, Text: cue.Text, Original: cue.Text}
}

type literalRow struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Polish is the second-pass stage: rewrites the literal drafts for fluency
// using the rolling context, so batches must run serially.
type Polish struct {
	Set     *prompts.Set
	Temp    float64
	Literal map[int]string
}

func (s *Polish) Name() string         { return "polish" }
func (s *Polish) Temperature() float64 { return s.Temp }
func (s *Polish) UpdatesContext() bool { return true }

func (s *Polish) BuildMessages(chunk []subtitle.Cue, glossaryText, rollingContext string) ([]llm.Message, error) {
	rows := make([]polishRow, len(chunk))
	for i, c := range chunk {
		lit, ok := s.Literal[c.ID]
		if !ok || lit == "" {
			lit = c.Text
		}
		rows[i] = polishRow{ID: c.ID, Original: c.Text, Literal: lit}
	}
	input, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt, err := s.Set.Polish(glossaryText, string(input), rollingContext)
	if err != nil {
		return nil, err
	}
	return []llm.Message{{Role: "system", Content: prompt}}, nil
}

func (s *Polish) Parse(raw string, chunk []subtitle.Cue) ([]Item, error) {
	return parseItems(raw, chunk, "polished")
}

func (s *Polish) Degraded(cue subtitle.Cue) Item {
	text := s.Literal[cue.ID]
	if text == "" {
		text = cue.Text
	}
	return Item{ID: cue.ID, Text: text, Original: cue.Text}
}

type polishRow struct {
	ID       int    `json:"id"`
	Original string `json:"original"`
	Literal  string `json:"literal"`
}

// parseItems validates a stage response against its chunk: a JSON list of
// exactly len(chunk) elements whose id set equals the chunk's id set, each
// carrying the stage field. Items come back in chunk order regardless of
// response order.
func parseItems(raw string, chunk []subtitle.Cue, field string) ([]Item, error) {
	list := salvage.List(raw)
	if list == nil {
		return nil, fmt.Errorf("response is not a JSON list")
	}
	if len(list) != len(chunk) {
		return nil, fmt.Errorf("expected %d elements, got %d", len(chunk), len(list))
	}

	texts := make(map[int]string, len(chunk))
	for _, el := range list {
		id, ok := elementID(el)
		if !ok {
			return nil, fmt.Errorf("element missing integer id: %s", el.Raw)
		}
		if _, dup := texts[id]; dup {
			return nil, fmt.Errorf("duplicate id %d in response", id)
		}
		val := el.Get(field)
		if !val.Exists() {
			return nil, fmt.Errorf("id %d missing %q field", id, field)
		}
		texts[id] = val.String()
	}

	items := make([]Item, len(chunk))
	for i, c := range chunk {
		text, ok := texts[c.ID]
		if !ok {
			return nil, fmt.Errorf("response id set does not match chunk (missing %d)", c.ID)
		}
		items[i] = Item{ID: c.ID, Text: text, Original: c.Text}
	}
	return items, nil
}

// elementID accepts both numeric and numeric-string ids; models flip between
// the two.
func elementID(el gjson.Result) (int, bool) {
	v := el.Get("id")
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), true
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		return n, err == nil
	default:
		return 0, false
	}
}
