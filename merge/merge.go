// Package merge implements PO file merging logic,
// equivalent to the msgmerge utility.
package merge

import (
	po "github.com/minios-linux/potr/pofile"
)

// Options controls how entries missing from the template are handled.
type Options struct {
	// KeepObsolete keeps stale entries as "#~" obsolete entries instead of
	// dropping them.
	KeepObsolete bool
}

// Merge builds the output catalog for a template.
//   - The result has exactly one entry per template entry, in template order.
//   - Existing translations, translator comments and the fuzzy flag are
//     carried over for entries whose (context, msgid) is unchanged.
//   - References, extracted comments and format flags come from the template.
//   - Entries that are no longer in the template are dropped, or kept as
//     obsolete entries with KeepObsolete.
//
// The existing catalog may be nil. Neither input is modified.
func Merge(existing, tmpl *po.File, opts Options) *po.File {
	result := po.NewFile()
	if existing == nil {
		existing = po.NewFile()
	}

	if existing.Header != nil {
		result.Header = cloneEntry(existing.Header)
	}

	live := make(map[po.Key]*po.Entry, len(existing.Entries))
	revivable := make(map[po.Key]*po.Entry)
	for _, e := range existing.Entries {
		if e.IsHeader() {
			continue
		}
		target := live
		if e.Obsolete {
			target = revivable
		}
		if _, dup := target[e.Key()]; !dup {
			target[e.Key()] = e
		}
	}

	matched := make(map[po.Key]bool)
	seen := make(map[po.Key]bool)

	for _, potEntry := range tmpl.Entries {
		if potEntry.IsHeader() || potEntry.Obsolete {
			continue
		}
		key := potEntry.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		merged := &po.Entry{
			ExtractedComments: cloneStrings(potEntry.ExtractedComments),
			References:        cloneStrings(potEntry.References),
			MsgCtxt:           potEntry.MsgCtxt,
			MsgID:             potEntry.MsgID,
			MsgIDPlural:       potEntry.MsgIDPlural,
			MsgStrPlural:      make(map[int]string),
		}

		prev, ok := live[key]
		revived := false
		if !ok {
			prev, ok = revivable[key]
			revived = ok
		}

		if ok {
			matched[key] = true
			merged.TranslatorComments = cloneStrings(prev.TranslatorComments)
			merged.PreviousMsgID = prev.PreviousMsgID
			merged.Flags = mergeFlags(prev.Flags, potEntry.Flags)
			reshaped := carryTranslation(merged, prev)
			if revived || reshaped {
				merged.SetFuzzy(true)
			}
		} else {
			merged.Flags = mergeFlags(nil, potEntry.Flags)
		}

		result.Add(merged)
	}

	if opts.KeepObsolete {
		for _, e := range existing.Entries {
			if e.IsHeader() || matched[e.Key()] {
				continue
			}
			obsolete := cloneEntry(e)
			obsolete.Obsolete = true
			// Clear references for obsolete entries
			obsolete.References = nil
			result.Add(obsolete)
		}
	}

	result.Reindex()
	return result
}

// carryTranslation copies the translated slots of prev into merged. It
// reports whether the plural shape changed between the two.
func carryTranslation(merged, prev *po.Entry) bool {
	switch {
	case merged.IsPlural() && prev.IsPlural():
		for idx, v := range prev.MsgStrPlural {
			merged.MsgStrPlural[idx] = v
		}
		return false
	case !merged.IsPlural() && !prev.IsPlural():
		merged.MsgStr = prev.MsgStr
		return false
	case merged.IsPlural():
		if prev.MsgStr != "" {
			merged.MsgStrPlural[0] = prev.MsgStr
		}
		return true
	default:
		merged.MsgStr = prev.MsgStrPlural[0]
		return true
	}
}

// mergeFlags combines flags from PO and POT: "fuzzy" is kept from the PO
// entry and placed first, all other flags come from the template in
// template order.
func mergeFlags(poFlags, potFlags []string) []string {
	var result []string
	for _, f := range poFlags {
		if f == po.FlagFuzzy {
			result = append(result, po.FlagFuzzy)
			break
		}
	}
	seen := map[string]bool{po.FlagFuzzy: true}
	for _, f := range potFlags {
		if seen[f] {
			continue
		}
		seen[f] = true
		result = append(result, f)
	}
	return result
}

func cloneEntry(e *po.Entry) *po.Entry {
	c := *e
	c.TranslatorComments = cloneStrings(e.TranslatorComments)
	c.ExtractedComments = cloneStrings(e.ExtractedComments)
	c.References = cloneStrings(e.References)
	c.Flags = cloneStrings(e.Flags)
	c.MsgStrPlural = make(map[int]string, len(e.MsgStrPlural))
	for k, v := range e.MsgStrPlural {
		c.MsgStrPlural[k] = v
	}
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
