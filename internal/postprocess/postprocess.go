// Package postprocess strips common LLM artifacts from chat-completion
// output before it reaches the JSON salvage layer.
//
// Reasoning-tuned models leak <think> blocks, echo the instructions back,
// or wrap the whole reply in quotes. All of that defeats strict JSON
// validation, so the transport runs every successful response through Clean.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean removes LLM artifacts in three phases and returns the trimmed result:
//  1. thinking / reasoning block removal
//  2. instruction echo removal (prompt leakage)
//  3. outer quote-pair removal
func Clean(text string) string {
	text = stripThinkingBlocks(text)
	text = stripInstructionEchoes(text)
	text = stripQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// thinkingBlockRe matches complete <think>…</think> style blocks. Each tag
// variant is listed explicitly because RE2 has no backreferences.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// truncatedThinkingRe matches an opened thinking tag with no closing tag
// (the model hit max_tokens mid-thought). Everything after the tag goes.
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func stripThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// echoPatterns match introductory phrases models prepend even when told not
// to. Anchored to the start and requiring a colon to avoid eating content.
var echoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:literal |polished |translated )?(?:translation|glossary|json|result)\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:literal |polished )?(?:translation|glossary|json output|result)\s*:`),
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:literal |polished |translated )?(?:translation|glossary|json|result)\s*:`),
}

func stripInstructionEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// stripQuoteWrapping removes one matching pair of outer quotes when the whole
// text is wrapped in them. JSON payloads start with a bracket or a fence and
// are untouched. Supported pairs: "…" '…' «…» “…” ‘…’
func stripQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
