package pofile

import (
	"strconv"
	"strings"
	"time"
)

// RevisionDateLayout is the timestamp layout gettext uses in headers.
const RevisionDateLayout = "2006-01-02 15:04-0700"

// Placeholder values xgettext writes into fresh templates.
const (
	templateRevisionDate = "YEAR-MO-DA HO:MI+ZONE"
	templateTranslator   = "FULL NAME <EMAIL@ADDRESS>"
	templateTeam         = "LANGUAGE <LL@li.org>"
	templatePluralForms  = "nplurals=INTEGER; plural=EXPRESSION;"
)

// headerOrder is the field order used when a header is created from scratch.
var headerOrder = []string{
	"Project-Id-Version",
	"Report-Msgid-Bugs-To",
	"POT-Creation-Date",
	"PO-Revision-Date",
	"Last-Translator",
	"Language-Team",
	"Language",
	"MIME-Version",
	"Content-Type",
	"Content-Transfer-Encoding",
	"Plural-Forms",
	"X-Generator",
}

// templateFields are always taken from the template when it declares them.
var templateFields = []string{
	"Project-Id-Version",
	"Report-Msgid-Bugs-To",
	"POT-Creation-Date",
	"MIME-Version",
	"Content-Type",
	"Content-Transfer-Encoding",
}

// HeaderInfo describes the catalog-specific header values.
type HeaderInfo struct {
	Language   string
	Generator  string
	Translator string
	Team       string
	Now        time.Time
}

// RefreshHeader brings the catalog header in line with the template while
// keeping the per-catalog history fields (revision date, translator, team).
// Those are only filled in when missing or still holding template
// placeholders.
func (f *File) RefreshHeader(tmpl *File, info HeaderInfo) {
	fresh := f.Header == nil || strings.TrimSpace(f.Header.MsgStr) == ""
	if fresh {
		f.Header = &Entry{MsgID: "", MsgStr: ""}
		if tmpl != nil && tmpl.Header != nil {
			f.Header.TranslatorComments = append([]string(nil), tmpl.Header.TranslatorComments...)
		}
		for _, name := range headerOrder {
			f.SetHeaderField(name, "")
		}
	}

	if tmpl != nil {
		for _, name := range templateFields {
			if tmpl.HasHeaderField(name) {
				f.SetHeaderField(name, tmpl.HeaderField(name))
			}
		}
	}
	if f.HeaderField("MIME-Version") == "" {
		f.SetHeaderField("MIME-Version", "1.0")
	}
	if ct := f.HeaderField("Content-Type"); ct == "" || strings.Contains(ct, "CHARSET") {
		f.SetHeaderField("Content-Type", "text/plain; charset=UTF-8")
	}
	if f.HeaderField("Content-Transfer-Encoding") == "" {
		f.SetHeaderField("Content-Transfer-Encoding", "8bit")
	}

	if v := f.HeaderField("PO-Revision-Date"); v == "" || v == templateRevisionDate {
		f.SetHeaderField("PO-Revision-Date", info.Now.Format(RevisionDateLayout))
	}
	if v := f.HeaderField("Last-Translator"); (v == "" || v == templateTranslator) && info.Translator != "" {
		f.SetHeaderField("Last-Translator", info.Translator)
	}
	if v := f.HeaderField("Language-Team"); (v == "" || v == templateTeam) && info.Team != "" {
		f.SetHeaderField("Language-Team", info.Team)
	}

	f.SetHeaderField("Language", info.Language)

	var plural string
	if tmpl != nil {
		plural = tmpl.HeaderField("Plural-Forms")
	}
	if !validPluralForms(plural) {
		plural = f.HeaderField("Plural-Forms")
	}
	if !validPluralForms(plural) {
		plural = PluralFormsForLang(info.Language)
	}
	f.SetHeaderField("Plural-Forms", plural)

	if info.Generator != "" {
		f.SetHeaderField("X-Generator", info.Generator)
	}

	f.Header.SetFuzzy(false)
	f.Header.PreviousMsgID = ""
}

// TouchRevisionDate stamps PO-Revision-Date with t.
func (f *File) TouchRevisionDate(t time.Time) {
	f.SetHeaderField("PO-Revision-Date", t.Format(RevisionDateLayout))
}

// NPlurals returns the number of plural forms declared by the header,
// falling back to the language default and finally to 2.
func (f *File) NPlurals() int {
	if n := NPlurals(f.HeaderField("Plural-Forms")); n > 0 {
		return n
	}
	if n := NPlurals(PluralFormsForLang(f.HeaderField("Language"))); n > 0 {
		return n
	}
	return 2
}

// NPlurals parses the nplurals value of a Plural-Forms expression. It
// returns 0 when the value is absent or not a positive integer.
func NPlurals(pluralForms string) int {
	for _, part := range strings.Split(pluralForms, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "nplurals=") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(part, "nplurals=")))
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func validPluralForms(s string) bool {
	return s != "" && s != templatePluralForms && NPlurals(s) > 0
}

// PluralFormsForLang returns the standard Plural-Forms header for a language code.
func PluralFormsForLang(lang string) string {
	// Normalize to base language
	base := lang
	if idx := strings.IndexAny(lang, "_-"); idx > 0 {
		base = lang[:idx]
	}

	switch strings.ToLower(base) {
	case "ja", "ko", "zh", "vi", "th", "id", "ms":
		return "nplurals=1; plural=0;"
	case "fr", "pt":
		return "nplurals=2; plural=(n > 1);"
	case "ru", "uk", "be", "hr", "sr", "bs":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "pl":
		return "nplurals=3; plural=(n==1 ? 0 : n%10>=2 && n%10<=4 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "cs", "sk":
		return "nplurals=3; plural=(n==1 ? 0 : n>=2 && n<=4 ? 1 : 2);"
	case "ro":
		return "nplurals=3; plural=(n==1 ? 0 : (n==0 || (n%100 > 0 && n%100 < 20)) ? 1 : 2);"
	case "lt":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n%10>=2 && (n%100<10 || n%100>=20) ? 1 : 2);"
	case "lv":
		return "nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : n != 0 ? 1 : 2);"
	case "sl":
		return "nplurals=4; plural=(n%100==1 ? 0 : n%100==2 ? 1 : n%100==3 || n%100==4 ? 2 : 3);"
	case "ga":
		return "nplurals=5; plural=(n==1 ? 0 : n==2 ? 1 : n<7 ? 2 : n<11 ? 3 : 4);"
	case "ar":
		return "nplurals=6; plural=(n==0 ? 0 : n==1 ? 1 : n==2 ? 2 : n%100>=3 && n%100<=10 ? 3 : n%100>=11 ? 4 : 5);"
	default:
		return "nplurals=2; plural=(n != 1);"
	}
}
