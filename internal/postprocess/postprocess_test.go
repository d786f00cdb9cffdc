package postprocess

import "testing"

func TestStripThinkingBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"plain text untouched", "A normal polished line.", "A normal polished line."},
		{"closed think block", `<think>ids look fine</think>[{"id":1,"trans":"ok"}]`, `[{"id":1,"trans":"ok"}]`},
		{"reasoning block", "Start<reasoning>grammar check</reasoning>End", "StartEnd"},
		{"truncated block eats tail", "Before<thinking>cut off by max_tokens", "Before"},
		{"multiple blocks", "<think>a</think>middle<think>b</think>", "middle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripThinkingBlocks(tt.input); got != tt.expected {
				t.Errorf("stripThinkingBlocks(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStripInstructionEchoes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"here is the translation", "Here is the translation: 你好", "你好"},
		{"here is the json", "Here's the JSON: [1]", "[1]"},
		{"the glossary", "The glossary: {}", "{}"},
		{"sure preamble", "Sure, here is the result: done", "done"},
		{"colon required", "Translation quality matters", "Translation quality matters"},
		{"mid-string untouched", "Note: here is the translation: x", "Note: here is the translation: x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripInstructionEchoes(tt.input); got != tt.expected {
				t.Errorf("stripInstructionEchoes(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStripQuoteWrapping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"double quotes", `"你好世界"`, "你好世界"},
		{"guillemets", "«Bonjour»", "Bonjour"},
		{"curly quotes", "“hello”", "hello"},
		{"mismatched pair kept", `"hello'`, `"hello'`},
		{"json array untouched", `[{"id":1}]`, `[{"id":1}]`},
		{"single rune", `"`, `"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripQuoteWrapping(tt.input); got != tt.expected {
				t.Errorf("stripQuoteWrapping(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			"all phases",
			"<think>reasoning</think>Here is the translation: \"你好\"",
			"你好",
		},
		{
			"fenced json survives",
			"```json\n[{\"id\":1,\"polished\":\"你好\"}]\n```",
			"```json\n[{\"id\":1,\"polished\":\"你好\"}]\n```",
		},
		{"whitespace trimmed", "  result  ", "result"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.expected {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
