package pofile

import (
	"bytes"
	"fmt"

	"github.com/leonelquinteros/gotext"
)

// Mismatch describes an entry that a gettext runtime resolves differently
// from what the catalog model holds.
type Mismatch struct {
	Context string
	MsgID   string
	Want    string
	Got     string
}

func (m Mismatch) String() string {
	if m.Context != "" {
		return fmt.Sprintf("[%s] %q: want %q, got %q", m.Context, m.MsgID, m.Want, m.Got)
	}
	return fmt.Sprintf("%q: want %q, got %q", m.MsgID, m.Want, m.Got)
}

// Verify serializes f, loads the result with the gotext runtime and checks
// that every accepted singular translation resolves to the same string.
// It is a consumer-side check: msgfmt-compatible readers must see exactly
// what was written.
func Verify(f *File) ([]Mismatch, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("serializing catalog: %w", err)
	}

	po := gotext.NewPo()
	po.Parse(buf.Bytes())

	var out []Mismatch
	for _, e := range f.Entries {
		if e.Obsolete || e.IsPlural() || !e.IsTranslated() {
			continue
		}
		var got string
		if e.MsgCtxt != "" {
			got = po.GetC(e.MsgID, e.MsgCtxt)
		} else {
			got = po.Get(e.MsgID)
		}
		if got != e.MsgStr {
			out = append(out, Mismatch{Context: e.MsgCtxt, MsgID: e.MsgID, Want: e.MsgStr, Got: got})
		}
	}
	return out, nil
}

// VerifyFile is Verify for a catalog on disk.
func VerifyFile(path string) ([]Mismatch, error) {
	f, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Verify(f)
}
