package pipeline

import (
	"github.com/minios-linux/potr/newlines"
	"github.com/minios-linux/potr/placeholder"
	po "github.com/minios-linux/potr/pofile"
)

// Decision is the outcome of the resume check for one entry.
type Decision int

const (
	// Translate runs the entry through memory and the backend.
	Translate Decision = iota
	// Skip keeps the prior translation.
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "translate"
}

// ResumeMode selects how prior translations are trusted.
type ResumeMode struct {
	// Force retranslates every entry.
	Force bool
	// UntranslatedOnly keeps any non-empty prior translation, reviewed or not.
	UntranslatedOnly bool
}

// Decide reports whether the prior translation held by e can be kept.
// nplurals is the number of msgstr slots for plural entries.
func Decide(e *po.Entry, nplurals int, mode ResumeMode) Decision {
	if mode.Force {
		return Translate
	}
	if mode.UntranslatedOnly {
		if e.Slot(0) != "" {
			return Skip
		}
		return Translate
	}
	if e.IsFuzzy() {
		return Translate
	}
	for slot := 0; slot < e.SlotCount(nplurals); slot++ {
		tr := e.Slot(slot)
		if tr == "" {
			return Translate
		}
		if !placeholder.Extract(e.Source(slot)).PresentIn(tr) {
			return Translate
		}
	}
	return Skip
}

// normalizeKept aligns the edge newlines of every kept slot with the
// current source text. It reports whether anything changed.
func normalizeKept(e *po.Entry, nplurals int) bool {
	changed := false
	for slot := 0; slot < e.SlotCount(nplurals); slot++ {
		tr := e.Slot(slot)
		if tr == "" {
			continue
		}
		if fixed := newlines.Normalize(tr, e.Source(slot)); fixed != tr {
			e.SetSlot(slot, fixed)
			changed = true
		}
	}
	return changed
}
