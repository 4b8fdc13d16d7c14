// Package langmeta resolves language codes used in catalog headers and
// prompts into validated tags and human-readable names.
package langmeta

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes a resolved language.
type Meta struct {
	// Code is the code as written in catalog headers, e.g. "pt_BR".
	Code string
	// Tag is the parsed BCP 47 tag.
	Tag language.Tag
	// Name is the English display name used in prompts, e.g. "Brazilian Portuguese".
	Name string
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		if len(parts[1]) == 4 {
			// Script subtag: Latn, Cyrl
			parts[1] = strings.ToUpper(parts[1][:1]) + strings.ToLower(parts[1][1:])
		} else {
			parts[1] = strings.ToUpper(parts[1])
		}
	}
	return strings.Join(parts, "-")
}

// Resolve validates a language code and returns its metadata. Both gettext
// style ("pt_BR") and BCP 47 style ("pt-BR") codes are accepted.
func Resolve(lang string) (Meta, error) {
	normalized := canonicalize(lang)
	if normalized == "" {
		return Meta{}, fmt.Errorf("empty language code")
	}
	tag, err := language.Parse(normalized)
	if err != nil {
		return Meta{}, fmt.Errorf("invalid language code %q: %w", lang, err)
	}

	m := Meta{
		Code: strings.ReplaceAll(normalized, "-", "_"),
		Tag:  tag,
	}
	m.Name = display.English.Tags().Name(tag)
	if m.Name == "" {
		m.Name = normalized
	}
	return m, nil
}
