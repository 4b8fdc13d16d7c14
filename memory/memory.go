// Package memory is the per-run translation memory: source strings mapped
// to translations that were already accepted.
package memory

import (
	"sync"

	"github.com/minios-linux/potr/placeholder"
	po "github.com/minios-linux/potr/pofile"
)

// Memory maps source text to an accepted translation. It is keyed by
// source text only, so identical strings in different contexts share a
// translation. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty memory.
func New() *Memory {
	return &Memory{entries: make(map[string]string)}
}

// Seed loads every reviewed, non-empty singular translation from f and
// returns the number of records added.
func (m *Memory) Seed(f *po.File) int {
	if f == nil {
		return 0
	}
	n := 0
	for _, e := range f.Entries {
		if e.Obsolete || e.IsPlural() || !e.IsTranslated() {
			continue
		}
		if m.Record(e.MsgID, e.MsgStr) {
			n++
		}
	}
	return n
}

// Lookup returns the cached translation for source. A record whose
// translation lost one of the source placeholders is not a hit.
func (m *Memory) Lookup(source string) (string, bool) {
	m.mu.RLock()
	tr, ok := m.entries[source]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !placeholder.Extract(source).PresentIn(tr) {
		return "", false
	}
	return tr, true
}

// Record stores a translation. Empty source or translation is ignored and
// reported as false. A later record for the same source replaces the
// earlier one.
func (m *Memory) Record(source, translation string) bool {
	if source == "" || translation == "" {
		return false
	}
	m.mu.Lock()
	m.entries[source] = translation
	m.mu.Unlock()
	return true
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
