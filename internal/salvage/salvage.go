// Package salvage extracts structured JSON from free-form LLM output.
//
// Models wrap JSON in code fences, prepend prose, leave trailing commas or
// unterminated strings. Extraction tries progressively more permissive
// strategies and degrades to a null result rather than failing.
package salvage

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// fenceRe captures the body of a ```json ... ``` (or bare ```) block.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Extract converts free-form model output into a gjson.Result. The result is
// an object, an array, or Null when nothing salvageable was found. Callers
// branch on Result.IsObject / Result.IsArray.
//
// Already-valid JSON passes through structurally unchanged.
func Extract(text string) gjson.Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return gjson.Result{}
	}

	// Fenced block first: models that fence usually put prose outside it.
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		inner := strings.TrimSpace(m[1])
		if r, ok := parseStrict(inner); ok {
			return r
		}
		if r, ok := parseRepaired(inner); ok {
			return r
		}
	}

	if r, ok := parseStrict(text); ok {
		return r
	}

	// Skip leading prose and repair from the first structural character.
	if idx := strings.IndexAny(text, "[{"); idx > 0 {
		if r, ok := parseRepaired(text[idx:]); ok {
			return r
		}
	}

	if r, ok := parseRepaired(text); ok {
		return r
	}

	return gjson.Result{}
}

// List returns the salvaged value as a slice of elements, or nil when the
// value is not an array.
func List(text string) []gjson.Result {
	v := Extract(text)
	if !v.IsArray() {
		return nil
	}
	return v.Array()
}

// StringMap returns the salvaged value as a string-to-string mapping, or nil
// when the value is not an object. Non-string member values are rendered
// with their JSON string form.
func StringMap(text string) map[string]string {
	v := Extract(text)
	if !v.IsObject() {
		return nil
	}
	out := make(map[string]string)
	v.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}

func parseStrict(s string) (gjson.Result, bool) {
	if !json.Valid([]byte(s)) {
		return gjson.Result{}, false
	}
	r := gjson.Parse(s)
	if !r.IsObject() && !r.IsArray() {
		return gjson.Result{}, false
	}
	return r, true
}

func parseRepaired(s string) (gjson.Result, bool) {
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return gjson.Result{}, false
	}
	return parseStrict(repaired)
}
