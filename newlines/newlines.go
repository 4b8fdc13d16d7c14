// Package newlines keeps the leading and trailing line breaks of a
// translation in step with its source text.
package newlines

import (
	"fmt"
	"io"
	"os"
	"strings"

	po "github.com/minios-linux/potr/pofile"
)

// Leading counts the "\n" characters at the start of s.
func Leading(s string) int {
	return len(s) - len(strings.TrimLeft(s, "\n"))
}

// Trailing counts the "\n" characters at the end of s.
func Trailing(s string) int {
	return len(s) - len(strings.TrimRight(s, "\n"))
}

// Normalize strips all leading and trailing newlines from candidate and
// re-adds exactly as many as reference has. Interior newlines are left
// alone and an empty candidate stays empty.
func Normalize(candidate, reference string) string {
	if candidate == "" {
		return candidate
	}
	lead, trail := Leading(reference), Trailing(reference)
	return strings.Repeat("\n", lead) + strings.Trim(candidate, "\n") + strings.Repeat("\n", trail)
}

// FixFile normalizes every non-empty translated slot of the live entries in
// f against its source and returns the number of slots changed.
func FixFile(f *po.File) int {
	changed := 0
	for _, e := range f.Entries {
		if e.Obsolete || e.IsHeader() {
			continue
		}
		if !e.IsPlural() {
			if fixed := Normalize(e.MsgStr, e.MsgID); fixed != e.MsgStr {
				e.MsgStr = fixed
				changed++
			}
			continue
		}
		for idx, s := range e.MsgStrPlural {
			if fixed := Normalize(s, e.Source(idx)); fixed != s {
				e.MsgStrPlural[idx] = fixed
				changed++
			}
		}
	}
	return changed
}

// FixOptions controls FixPath.
type FixOptions struct {
	// DryRun reports what would change without touching the file.
	DryRun bool
	// Backup copies the original to path+".bak" before saving.
	Backup bool
}

// FixPath repairs the catalog at path in place. The file is only rewritten
// when at least one slot changed.
func FixPath(path string, opts FixOptions) (int, error) {
	f, err := po.ParseFile(path)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	changed := FixFile(f)
	if changed == 0 || opts.DryRun {
		return changed, nil
	}

	if opts.Backup {
		if err := copyFile(path, path+".bak"); err != nil {
			return 0, fmt.Errorf("backing up %s: %w", path, err)
		}
	}
	if err := f.WriteFile(path); err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return changed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	return po.WriteAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
