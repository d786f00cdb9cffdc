// Package prompts loads the stage prompt templates.
//
// Templates are embedded per target language (zh, en). A missing template is
// a startup failure: the pipeline cannot degrade without its prompts.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Set holds the parsed templates for one target language.
type Set struct {
	termExtract *template.Template
	literal     *template.Template
	polish      *template.Template
}

// Load parses the template set for targetLang ("zh" or "en").
func Load(targetLang string) (*Set, error) {
	load := func(name string) (*template.Template, error) {
		path := fmt.Sprintf("templates/%s_%s.tmpl", name, targetLang)
		raw, err := templateFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("prompt template %s not found: %w", path, err)
		}
		return template.New(name).Parse(string(raw))
	}

	var (
		s   Set
		err error
	)
	if s.termExtract, err = load("term_extract"); err != nil {
		return nil, err
	}
	if s.literal, err = load("literal"); err != nil {
		return nil, err
	}
	if s.polish, err = load("polish"); err != nil {
		return nil, err
	}
	return &s, nil
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

// TermExtract renders the glossary-discovery prompt for one text sample.
func (s *Set) TermExtract(content string) (string, error) {
	return render(s.termExtract, struct{ Content string }{content})
}

// Literal renders the literal-stage prompt for one batch.
func (s *Set) Literal(glossary, input string) (string, error) {
	return render(s.literal, struct{ Glossary, Input string }{glossary, input})
}

// Polish renders the polish-stage prompt for one batch.
func (s *Set) Polish(glossary, input, previousContext string) (string, error) {
	return render(s.polish, struct{ Glossary, Input, PreviousContext string }{glossary, input, previousContext})
}
