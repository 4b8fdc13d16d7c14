// Package placeholder finds formatting tokens that must survive translation
// verbatim: markup tags, brace and dollar-brace interpolations, and printf
// style specifiers.
package placeholder

import (
	"regexp"
	"sort"
	"strings"
)

// tokenRE matches every placeholder kind in one pass so that overlapping
// forms resolve to the leftmost, longest token: "${count}" is one token,
// not "${count}" plus "{count}".
var tokenRE = regexp.MustCompile(strings.Join([]string{
	`%%`,                           // literal percent, discarded
	`</?[A-Za-z][^<>]*>`,           // <b>, </a>, <br/>, <a href="...">
	`\$\{[^{}]+\}`,                 // ${count}
	`\{(?:[A-Za-z_]\w*|\d+)\}`,     // {name}, {0}
	`%\([A-Za-z_]\w*\)[sdifr]`,     // %(name)s
	`%(?:\d+\$?)?[sdifuxXoeEgGc@]`, // %s, %1$s, %2d
}, "|"))

// Set is a sorted, de-duplicated list of placeholder tokens.
type Set []string

// Extract returns the distinct placeholders found in text.
func Extract(text string) Set {
	if text == "" {
		return nil
	}
	uniq := make(map[string]struct{})
	for _, m := range tokenRE.FindAllString(text, -1) {
		if m == "%%" {
			continue
		}
		uniq[m] = struct{}{}
	}
	if len(uniq) == 0 {
		return nil
	}
	out := make(Set, 0, len(uniq))
	for v := range uniq {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Missing returns the members of s that do not occur in text.
func (s Set) Missing(text string) []string {
	var missing []string
	for _, ph := range s {
		if !strings.Contains(text, ph) {
			missing = append(missing, ph)
		}
	}
	return missing
}

// PresentIn reports whether every member of s occurs in text.
func (s Set) PresentIn(text string) bool {
	return len(s.Missing(text)) == 0
}
