// Package prompt composes model instructions and input for translating a
// single catalog string.
package prompt

import (
	"strconv"
	"strings"

	"github.com/minios-linux/potr/placeholder"
)

// DefaultInstructions is the system prompt used for every request.
// {{targetLang}} and {{sourceLang}} are replaced with language names.
const DefaultInstructions = `You are a professional translator specializing in software localization. You translate user interface strings from {{sourceLang}} into {{targetLang}}.

RULES:
- Translate the source text into {{targetLang}}. Use natural, idiomatic {{targetLang}} as used in software interfaces.
- Keep every placeholder, formatting token and markup tag exactly as written, including %s, %d, %1$s, {name}, {0}, ${count} and <b>...</b>. Do not translate, reorder the characters of, or remove them.
- Keep the same number of leading and trailing line breaks as the source text, and keep interior line breaks.
- Keep punctuation that carries meaning, such as trailing colons and ellipses.
- Use the context, when given, only to choose the right meaning. Never translate the context itself.
- Return ONLY the translated text. No quotes, no explanations, no notes.`

// Prompt is a complete model request body.
type Prompt struct {
	Instructions string
	Input        string
}

// Params describes one string to translate.
type Params struct {
	Source       string
	Context      string
	Placeholders placeholder.Set
	// Plural marks a plural form; PluralIndex is the msgstr slot.
	Plural      bool
	PluralIndex int
}

// Builder renders prompts for a fixed language pair.
type Builder struct {
	// Template overrides DefaultInstructions when set.
	Template   string
	TargetLang string
	SourceLang string
}

// Build returns the prompt for p. The output depends only on the builder
// and p, and the source text is embedded verbatim.
func (b Builder) Build(p Params) Prompt {
	tmpl := b.Template
	if tmpl == "" {
		tmpl = DefaultInstructions
	}
	source := b.SourceLang
	if source == "" {
		source = "English"
	}
	instructions := strings.NewReplacer(
		"{{targetLang}}", b.TargetLang,
		"{{sourceLang}}", source,
	).Replace(tmpl)

	var in strings.Builder
	if p.Context != "" {
		in.WriteString("Context: ")
		in.WriteString(p.Context)
		in.WriteString("\n")
	}
	if p.Plural {
		in.WriteString("This is the plural form for msgstr[")
		in.WriteString(strconv.Itoa(p.PluralIndex))
		in.WriteString("].\n")
	}
	if len(p.Placeholders) > 0 {
		in.WriteString("Placeholders to keep unchanged: ")
		in.WriteString(strings.Join(p.Placeholders, " "))
		in.WriteString("\n")
	}
	in.WriteString("Source text:\n")
	in.WriteString(p.Source)

	return Prompt{Instructions: instructions, Input: in.String()}
}
