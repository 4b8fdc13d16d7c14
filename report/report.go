// Package report implements the review report: a YAML file listing every
// entry a run left flagged for human review, with the reason.
package report

import (
	"fmt"
	"io"
	"sync"

	"gopkg.in/yaml.v3"

	po "github.com/minios-linux/potr/pofile"
)

// Version is the report format version.
const Version = 1

// Review reasons.
const (
	ReasonMissingPlaceholders = "missing_placeholders"
	ReasonBackendFailed       = "backend_failed"
)

// Item is one entry flagged for review.
type Item struct {
	Context     string   `yaml:"context,omitempty"`
	MsgID       string   `yaml:"msgid"`
	MsgIDPlural string   `yaml:"msgid_plural,omitempty"`
	Slot        int      `yaml:"slot"`
	Reason      string   `yaml:"reason"`
	Missing     []string `yaml:"missing_placeholders,omitempty"`
	Translation string   `yaml:"translation,omitempty"`
	Error       string   `yaml:"error,omitempty"`
}

// Report represents the review report file.
type Report struct {
	Version  int            `yaml:"version"`
	RunID    string         `yaml:"run_id"`
	Language string         `yaml:"language"`
	Template string         `yaml:"template"`
	Output   string         `yaml:"output"`
	Totals   map[string]int `yaml:"totals,omitempty"`
	Items    []Item         `yaml:"items"`

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// New creates an empty report that Save writes to path.
func New(path string) *Report {
	return &Report{Version: Version, Items: []Item{}, path: path}
}

// Add appends an item. Safe to call on a nil report.
func (r *Report) Add(item Item) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(r.Items, item)
}

// Len returns the number of items.
func (r *Report) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Items)
}

// Save writes the report to disk.
func (r *Report) Save() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == "" {
		return fmt.Errorf("report path not set")
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	if err := po.WriteAtomic(r.path, 0644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("writing %s: %w", r.path, err)
	}
	return nil
}

// Path returns the report file path.
func (r *Report) Path() string {
	return r.path
}
