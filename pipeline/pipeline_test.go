package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/minios-linux/potr/backend"
	"github.com/minios-linux/potr/memory"
	"github.com/minios-linux/potr/metrics"
	po "github.com/minios-linux/potr/pofile"
	"github.com/minios-linux/potr/report"
)

const potHeader = `msgid ""
msgstr ""
"Project-Id-Version: demo 1.0\n"
"POT-Creation-Date: 2026-01-01 10:00+0000\n"
"PO-Revision-Date: YEAR-MO-DA HO:MI+ZONE\n"
"Last-Translator: FULL NAME <EMAIL@ADDRESS>\n"
"Language-Team: LANGUAGE <LL@li.org>\n"
"Language: \n"
"MIME-Version: 1.0\n"
"Content-Type: text/plain; charset=CHARSET\n"
"Content-Transfer-Encoding: 8bit\n"
"Plural-Forms: nplurals=INTEGER; plural=EXPRESSION;\n"

`

// fakeBackend answers every request with reply(model, source).
type fakeBackend struct {
	mu    sync.Mutex
	calls []backend.Request
	reply func(model, source string) (string, error)
}

func (f *fakeBackend) Complete(ctx context.Context, req backend.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.reply(req.Model, sourceOf(req))
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sourceOf(req backend.Request) string {
	_, src, _ := strings.Cut(req.Prompt.Input, "Source text:\n")
	return src
}

func prefixReply(model, source string) (string, error) {
	return "DE:" + source, nil
}

func parsePO(t *testing.T, content string) *po.File {
	t.Helper()
	f, err := po.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func templateOf(t *testing.T, msgids ...string) *po.File {
	t.Helper()
	var b strings.Builder
	b.WriteString(potHeader)
	for _, id := range msgids {
		fmt.Fprintf(&b, "msgid %q\nmsgstr \"\"\n\n", id)
	}
	return parsePO(t, b.String())
}

func fixedNow() time.Time {
	return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
}

func newOrchestrator(b Translator) *Orchestrator {
	return &Orchestrator{
		Backend: b,
		Options: Options{
			Language:        "de",
			LanguageName:    "German",
			Model:           "primary",
			MaxOutputTokens: 512,
			Resume:          true,
			Generator:       "potr test",
		},
		Now: fixedNow,
	}
}

// counterValue returns the counter in family name whose label set contains
// the value label.
func counterValue(t *testing.T, rec *metrics.Recorder, name, label string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func readPO(t *testing.T, path string) *po.File {
	t.Helper()
	f, err := po.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	return f
}

// countTranslated counts the live entries of f with and without an
// accepted translation.
func countTranslated(f *po.File) (translated, untranslated int) {
	for _, e := range f.Entries {
		if e.Obsolete || e.IsHeader() {
			continue
		}
		if e.IsTranslated() {
			translated++
		} else {
			untranslated++
		}
	}
	return translated, untranslated
}

// countSleeps replaces the pacing sleep for the duration of the test and
// records every requested delay.
func countSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &delays
}

func TestRunKeepsPlaceholders(t *testing.T) {
	fb := &fakeBackend{reply: func(model, source string) (string, error) {
		return "Hallo {name}", nil
	}}
	o := newOrchestrator(fb)
	o.Report = report.New(filepath.Join(t.TempDir(), "review.yaml"))
	out := filepath.Join(t.TempDir(), "de.po")

	sum, err := o.Run(context.Background(), templateOf(t, "Hello {name}"), nil, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Translated != 1 || sum.Review != 0 || sum.BackendCalls != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	e := readPO(t, out).Lookup("", "Hello {name}")
	if e.MsgStr != "Hallo {name}" || e.IsFuzzy() {
		t.Fatalf("entry = %q fuzzy=%v", e.MsgStr, e.IsFuzzy())
	}
	if o.Report.Len() != 0 {
		t.Fatalf("report has %d items", o.Report.Len())
	}
}

func TestRunFlagsMissingPlaceholders(t *testing.T) {
	fb := &fakeBackend{reply: func(model, source string) (string, error) {
		return "Hallo", nil
	}}
	o := newOrchestrator(fb)
	o.Report = report.New(filepath.Join(t.TempDir(), "review.yaml"))
	out := filepath.Join(t.TempDir(), "de.po")

	sum, err := o.Run(context.Background(), templateOf(t, "Hello {name}"), nil, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Review != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	e := readPO(t, out).Lookup("", "Hello {name}")
	if e.MsgStr != "Hallo" || !e.IsFuzzy() {
		t.Fatalf("entry = %q fuzzy=%v", e.MsgStr, e.IsFuzzy())
	}
	if o.Report.Len() != 1 {
		t.Fatalf("report has %d items", o.Report.Len())
	}
	item := o.Report.Items[0]
	if item.Reason != report.ReasonMissingPlaceholders || len(item.Missing) != 1 || item.Missing[0] != "{name}" {
		t.Fatalf("item = %+v", item)
	}

	// A fuzzy entry is retried on the next run.
	fb.reply = func(model, source string) (string, error) { return "Hallo {name}", nil }
	sum, err = o.Run(context.Background(), templateOf(t, "Hello {name}"), readPO(t, out), out)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Translated != 1 {
		t.Fatalf("second summary = %+v", sum)
	}
	e = readPO(t, out).Lookup("", "Hello {name}")
	if e.MsgStr != "Hallo {name}" || e.IsFuzzy() {
		t.Fatalf("entry after retry = %q fuzzy=%v", e.MsgStr, e.IsFuzzy())
	}
}

func TestRunFallbackAfterTruncation(t *testing.T) {
	fb := &fakeBackend{reply: func(model, source string) (string, error) {
		if model == "primary" {
			return "", &backend.TruncatedError{Budget: 2048}
		}
		return "Speichern", nil
	}}
	o := newOrchestrator(fb)
	o.Options.FallbackModel = "backup"
	temp := 0.2
	o.Options.Temperature = &temp
	o.Options.ReasoningEffort = "low"
	out := filepath.Join(t.TempDir(), "de.po")

	sum, err := o.Run(context.Background(), templateOf(t, "Save"), nil, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Fallback != 1 || sum.Failed != 0 || sum.BackendCalls != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	last := fb.calls[1]
	if last.Model != "backup" || last.Temperature != nil || last.ReasoningEffort != "" {
		t.Fatalf("fallback request = %+v", last)
	}
	if e := readPO(t, out).Lookup("", "Save"); e.MsgStr != "Speichern" || e.IsFuzzy() {
		t.Fatalf("entry = %+v", e)
	}
}

func TestRunBackendFailure(t *testing.T) {
	fb := &fakeBackend{reply: func(model, source string) (string, error) {
		return "", &backend.BackendError{Status: 500, Message: "boom"}
	}}
	o := newOrchestrator(fb)
	o.Report = report.New(filepath.Join(t.TempDir(), "review.yaml"))
	o.Metrics = metrics.New(nil)
	out := filepath.Join(t.TempDir(), "de.po")

	sum, err := o.Run(context.Background(), templateOf(t, "Save", "Open"), nil, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 2 || sum.Review != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	e := readPO(t, out).Lookup("", "Save")
	if e.MsgStr != "" || !e.IsFuzzy() {
		t.Fatalf("entry = %+v", e)
	}
	if o.Report.Items[0].Reason != report.ReasonBackendFailed || o.Report.Items[0].Error == "" {
		t.Fatalf("item = %+v", o.Report.Items[0])
	}
	if got := counterValue(t, o.Metrics, "potr_entries_total", metrics.OutcomeFailed); got != 2 {
		t.Fatalf("failed counter = %v", got)
	}
}

func TestRunSkipsTranslated(t *testing.T) {
	tmpl := templateOf(t, "Save", "Open")
	existing := parsePO(t, strings.Replace(potHeader, "Language: ", "Language: de", 1)+
		"msgid \"Save\"\nmsgstr \"Speichern\"\n\nmsgid \"Open\"\nmsgstr \"Öffnen\"\n")

	fb := &fakeBackend{reply: prefixReply}
	o := newOrchestrator(fb)
	out := filepath.Join(t.TempDir(), "de.po")

	sum, err := o.Run(context.Background(), tmpl, existing, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fb.count() != 0 || sum.Skipped != 2 || sum.Translated != 0 {
		t.Fatalf("calls=%d summary=%+v", fb.count(), sum)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	tmpl := templateOf(t, "Save", "Open", "Hello %s")
	fb := &fakeBackend{reply: prefixReply}
	out := filepath.Join(t.TempDir(), "de.po")

	o := newOrchestrator(fb)
	if _, err := o.Run(context.Background(), tmpl, nil, out); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	// A later clock must not change anything when nothing is translated.
	o.Now = func() time.Time { return fixedNow().Add(48 * time.Hour) }
	sum, err := o.Run(context.Background(), tmpl, readPO(t, out), out)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum.Translated != 0 || fb.count() != 3 {
		t.Fatalf("calls=%d summary=%+v", fb.count(), sum)
	}
	second, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("second run changed the catalog:\n--- first\n%s\n--- second\n%s", first, second)
	}
}

func TestRunLimitThenResume(t *testing.T) {
	ids := make([]string, 200)
	for i := range ids {
		ids[i] = fmt.Sprintf("String %d", i)
	}
	tmpl := templateOf(t, ids...)
	out := filepath.Join(t.TempDir(), "de.po")

	fb := &fakeBackend{reply: prefixReply}
	o := newOrchestrator(fb)
	o.Options.Limit = 50
	o.Options.FlushEvery = 10

	sum, err := o.Run(context.Background(), tmpl, nil, out)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if fb.count() != 50 || !sum.Stopped {
		t.Fatalf("calls=%d summary=%+v", fb.count(), sum)
	}
	translated, _ := countTranslated(readPO(t, out))
	if translated != 50 {
		t.Fatalf("translated on disk = %d", translated)
	}

	fb2 := &fakeBackend{reply: prefixReply}
	o2 := newOrchestrator(fb2)
	sum, err = o2.Run(context.Background(), tmpl, readPO(t, out), out)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if fb2.count() != 150 || sum.Skipped != 50 {
		t.Fatalf("calls=%d summary=%+v", fb2.count(), sum)
	}
	translated, untranslated := countTranslated(readPO(t, out))
	if translated != 200 || untranslated != 0 {
		t.Fatalf("translated=%d untranslated=%d", translated, untranslated)
	}
}

func TestRunLimitKeepsProcessingSkippedEntries(t *testing.T) {
	tmpl := templateOf(t, "A", "B\n", "C")
	tests := []struct {
		name        string
		existing    string
		wantCalls   int
		wantStopped bool
		wantB       string
	}{
		{
			name:      "only skipped entries after the limit",
			existing:  "msgid \"B\\n\"\nmsgstr \"b\"\n\nmsgid \"C\"\nmsgstr \"c\"\n",
			wantCalls: 1,
			wantB:     "b\n",
		},
		{
			name:        "untranslated entry after the limit",
			existing:    "msgid \"B\\n\"\nmsgstr \"b\"\n",
			wantCalls:   1,
			wantStopped: true,
			wantB:       "b\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBackend{reply: prefixReply}
			o := newOrchestrator(fb)
			o.Options.Limit = 1
			out := filepath.Join(t.TempDir(), "de.po")

			sum, err := o.Run(context.Background(), tmpl, parsePO(t, potHeader+tc.existing), out)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if fb.count() != tc.wantCalls || sum.Stopped != tc.wantStopped || sum.Skipped < 1 {
				t.Fatalf("calls=%d summary=%+v", fb.count(), sum)
			}
			if got := readPO(t, out).Lookup("", "B\n").MsgStr; got != tc.wantB {
				t.Fatalf("kept entry = %q, want %q", got, tc.wantB)
			}
		})
	}
}

func TestRunDelay(t *testing.T) {
	tests := []struct {
		name       string
		delay      time.Duration
		existing   string
		memory     map[string]string
		wantCalls  int
		wantSleeps int
	}{
		{
			name:       "every backend entry",
			delay:      10 * time.Millisecond,
			wantCalls:  3,
			wantSleeps: 3,
		},
		{
			name:       "skipped and memory entries do not wait",
			delay:      10 * time.Millisecond,
			existing:   "msgid \"A\"\nmsgstr \"a\"\n",
			memory:     map[string]string{"B": "b"},
			wantCalls:  1,
			wantSleeps: 1,
		},
		{
			name:      "no delay",
			wantCalls: 3,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			delays := countSleeps(t)
			fb := &fakeBackend{reply: prefixReply}
			o := newOrchestrator(fb)
			o.Options.Delay = tc.delay
			o.Memory = memory.New()
			for src, tr := range tc.memory {
				o.Memory.Record(src, tr)
			}
			out := filepath.Join(t.TempDir(), "de.po")

			if _, err := o.Run(context.Background(), templateOf(t, "A", "B", "C"), parsePO(t, potHeader+tc.existing), out); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if fb.count() != tc.wantCalls || len(*delays) != tc.wantSleeps {
				t.Fatalf("calls=%d sleeps=%v", fb.count(), *delays)
			}
			for _, d := range *delays {
				if d != tc.delay {
					t.Fatalf("slept %v, want %v", d, tc.delay)
				}
			}
		})
	}
}

func TestRunCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return orig(ctx, d)
	}
	t.Cleanup(func() { sleep = orig })

	fb := &fakeBackend{reply: prefixReply}
	o := newOrchestrator(fb)
	o.Options.Delay = time.Hour
	out := filepath.Join(t.TempDir(), "de.po")

	started := time.Now()
	sum, err := o.Run(ctx, templateOf(t, "A", "B"), nil, out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(started) > time.Minute {
		t.Fatal("delay did not end with the context")
	}
	if fb.count() != 1 || sum.Translated != 1 {
		t.Fatalf("calls=%d summary=%+v", fb.count(), sum)
	}
	f := readPO(t, out)
	if f.Lookup("", "A").MsgStr != "DE:A" || f.Lookup("", "B").MsgStr != "" {
		t.Fatal("final write missing after cancellation")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Save", 10, "Save"},
		{"Speichern", 4, "Spei..."},
		{"Сохранить", 3, "Сох..."},
		{"日本語テキスト", 3, "日本語..."},
	}
	for _, tc := range tests {
		got := truncate(tc.in, tc.n)
		if got != tc.want || !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fb := &fakeBackend{}
	fb.reply = func(model, source string) (string, error) {
		if fb.count() == 3 {
			cancel()
			return "", ctx.Err()
		}
		return "DE:" + source, nil
	}
	o := newOrchestrator(fb)
	o.Options.FallbackModel = "backup"
	out := filepath.Join(t.TempDir(), "de.po")

	sum, err := o.Run(ctx, templateOf(t, "A", "B", "C", "D"), nil, out)
	if !errors.Is(err, context.Canceled) || !IsInterrupted(err) {
		t.Fatalf("err = %v", err)
	}
	if sum.Translated != 2 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if fb.count() != 3 {
		t.Fatalf("calls = %d, fallback must not run after cancellation", fb.count())
	}

	f := readPO(t, out)
	if f.Lookup("", "B").MsgStr != "DE:B" {
		t.Fatal("completed entry not written")
	}
	if e := f.Lookup("", "C"); e.MsgStr != "" || e.IsFuzzy() {
		t.Fatalf("interrupted entry touched: %+v", e)
	}
}

func TestRunPluralSlots(t *testing.T) {
	tmpl := parsePO(t, potHeader+
		"msgid \"%d file\"\nmsgid_plural \"%d files\"\nmsgstr[0] \"\"\nmsgstr[1] \"\"\n")

	fb := &fakeBackend{reply: prefixReply}
	o := newOrchestrator(fb)
	o.Options.Language = "ru"
	o.Options.LanguageName = "Russian"
	out := filepath.Join(t.TempDir(), "ru.po")

	sum, err := o.Run(context.Background(), tmpl, nil, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Slot 2 repeats the msgid_plural source and comes from memory.
	if fb.count() != 2 || sum.BackendCalls != 2 {
		t.Fatalf("calls=%d summary=%+v", fb.count(), sum)
	}
	if !strings.Contains(fb.calls[1].Prompt.Input, "msgstr[1]") {
		t.Fatalf("plural prompt = %q", fb.calls[1].Prompt.Input)
	}

	f := readPO(t, out)
	if f.NPlurals() != 3 {
		t.Fatalf("NPlurals = %d", f.NPlurals())
	}
	e := f.Lookup("", "%d file")
	want := map[int]string{0: "DE:%d file", 1: "DE:%d files", 2: "DE:%d files"}
	for slot, s := range want {
		if e.MsgStrPlural[slot] != s {
			t.Errorf("msgstr[%d] = %q, want %q", slot, e.MsgStrPlural[slot], s)
		}
	}
	if e.IsFuzzy() {
		t.Fatal("plural entry left fuzzy")
	}
}

func TestRunUsesMemory(t *testing.T) {
	tmpl := parsePO(t, potHeader+
		"msgctxt \"menu\"\nmsgid \"Open\"\nmsgstr \"\"\n\n"+
		"msgctxt \"button\"\nmsgid \"Open\"\nmsgstr \"\"\n\n"+
		"msgid \"Close\"\nmsgstr \"\"\n")

	mem := memory.New()
	mem.Record("Close", "Schließen")

	fb := &fakeBackend{reply: prefixReply}
	o := newOrchestrator(fb)
	o.Memory = mem
	out := filepath.Join(t.TempDir(), "de.po")

	sum, err := o.Run(context.Background(), tmpl, nil, out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fb.count() != 1 || sum.FromMemory != 2 {
		t.Fatalf("calls=%d summary=%+v", fb.count(), sum)
	}
	f := readPO(t, out)
	if f.Lookup("button", "Open").MsgStr != "DE:Open" || f.Lookup("", "Close").MsgStr != "Schließen" {
		t.Fatal("memory results not written")
	}
}

func TestRunNormalizesNewlines(t *testing.T) {
	fb := &fakeBackend{reply: func(model, source string) (string, error) {
		return "\n\nHallo", nil
	}}
	o := newOrchestrator(fb)
	out := filepath.Join(t.TempDir(), "de.po")

	if _, err := o.Run(context.Background(), templateOf(t, "Hello\n"), nil, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readPO(t, out).Lookup("", "Hello\n").MsgStr; got != "Hallo\n" {
		t.Fatalf("msgstr = %q", got)
	}
}

func TestRunHeader(t *testing.T) {
	fb := &fakeBackend{reply: prefixReply}
	o := newOrchestrator(fb)
	out := filepath.Join(t.TempDir(), "de.po")

	if _, err := o.Run(context.Background(), templateOf(t, "Save"), nil, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f := readPO(t, out)
	if got := f.HeaderField("PO-Revision-Date"); got != "2026-10-15 12:00+0000" {
		t.Fatalf("PO-Revision-Date = %q", got)
	}
	if got := f.HeaderField("Language"); got != "de" {
		t.Fatalf("Language = %q", got)
	}
	if got := f.HeaderField("Content-Type"); got != "text/plain; charset=UTF-8" {
		t.Fatalf("Content-Type = %q", got)
	}
}

func TestRunProgressAndMetrics(t *testing.T) {
	fb := &fakeBackend{reply: prefixReply}
	o := newOrchestrator(fb)
	o.Metrics = metrics.New(nil)
	var seen []int
	o.Options.OnProgress = func(done, total int) {
		if total != 3 {
			t.Errorf("total = %d", total)
		}
		seen = append(seen, done)
	}
	o.Options.Stream = true
	out := filepath.Join(t.TempDir(), "de.po")

	if _, err := o.Run(context.Background(), templateOf(t, "A", "B", "C"), nil, out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("progress = %v", seen)
	}
	if got := counterValue(t, o.Metrics, "potr_entries_total", metrics.OutcomeTranslated); got != 3 {
		t.Fatalf("translated counter = %v", got)
	}
	// Three streamed writes plus the final one.
	if got := counterValue(t, o.Metrics, "potr_catalog_writes_total", "ok"); got != 4 {
		t.Fatalf("write counter = %v", got)
	}
}

func TestRunRequiresTemplate(t *testing.T) {
	o := newOrchestrator(&fakeBackend{reply: prefixReply})
	if _, err := o.Run(context.Background(), nil, nil, filepath.Join(t.TempDir(), "x.po")); err == nil {
		t.Fatal("expected error")
	}
}
