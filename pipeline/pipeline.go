// Package pipeline drives the translation of a catalog: merge with the
// template, decide per entry whether the prior translation can be kept,
// translate the rest through memory and the backend, validate the result
// and persist the catalog incrementally.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/minios-linux/potr/backend"
	"github.com/minios-linux/potr/memory"
	"github.com/minios-linux/potr/merge"
	"github.com/minios-linux/potr/metrics"
	"github.com/minios-linux/potr/newlines"
	"github.com/minios-linux/potr/placeholder"
	po "github.com/minios-linux/potr/pofile"
	"github.com/minios-linux/potr/prompt"
	"github.com/minios-linux/potr/report"
)

// Translator is the model backend. *backend.Client implements it.
type Translator interface {
	Complete(ctx context.Context, req backend.Request) (string, error)
}

// Options controls a run.
type Options struct {
	// Language is the target language code written to the header (e.g. "de", "pt_BR").
	Language string
	// LanguageName is the human-readable target name used in prompts.
	LanguageName string
	// SourceLanguageName is the human-readable source name used in prompts.
	SourceLanguageName string
	// PromptTemplate overrides prompt.DefaultInstructions.
	PromptTemplate string

	Model           string
	FallbackModel   string
	MaxOutputTokens int
	Temperature     *float64
	ReasoningEffort string

	// Limit stops the run after this many entries were translated (0 = no limit).
	Limit int
	// Delay is the pause after every entry that called the backend.
	Delay time.Duration
	// Stream writes the catalog after every translated entry.
	Stream bool
	// FlushEvery writes the catalog after every N translated entries.
	FlushEvery int

	Resume           bool
	Force            bool
	UntranslatedOnly bool
	KeepObsolete     bool

	// Generator is written to X-Generator.
	Generator string
	// LastTranslator fills Last-Translator for new catalogs.
	LastTranslator string
	// LanguageTeam fills Language-Team for new catalogs.
	LanguageTeam string

	// OnProgress is called after each entry.
	OnProgress func(done, total int)
}

func (o *Options) resumeMode() ResumeMode {
	return ResumeMode{
		Force:            o.Force || !o.Resume,
		UntranslatedOnly: o.UntranslatedOnly,
	}
}

// Summary reports what a run did.
type Summary struct {
	Total         int
	Skipped       int
	Translated    int
	FromMemory    int
	Fallback      int
	Failed        int
	Review        int
	BackendCalls  int
	WriteFailures int
	// Stopped is set when the run ended early because of the limit.
	Stopped bool
}

// Totals returns the summary as a flat map for reports.
func (s Summary) Totals() map[string]int {
	return map[string]int{
		"total":          s.Total,
		"skipped":        s.Skipped,
		"translated":     s.Translated,
		"from_memory":    s.FromMemory,
		"fallback":       s.Fallback,
		"failed":         s.Failed,
		"review":         s.Review,
		"backend_calls":  s.BackendCalls,
		"write_failures": s.WriteFailures,
	}
}

// Orchestrator runs the pipeline for one target catalog. Entries are
// processed strictly one at a time in template order.
type Orchestrator struct {
	Backend Translator
	// Memory is shared by reference; callers may pre-seed it.
	Memory  *memory.Memory
	Options Options
	Logger  logrus.FieldLogger
	Metrics *metrics.Recorder
	Report  *report.Report
	// Now defaults to time.Now.
	Now func() time.Time
}

// slotResult is the outcome of translating one msgstr slot.
type slotResult struct {
	text       string
	fromMemory bool
	fallback   bool
	failed     bool
	calls      int
	missing    []string
	err        error
}

// Run merges tmpl with existing (which may be nil), translates what needs
// translating and writes the catalog to outputPath. The final write always
// happens, also when ctx is cancelled; the returned error is then ctx.Err()
// unless the final write failed too.
func (o *Orchestrator) Run(ctx context.Context, tmpl, existing *po.File, outputPath string) (Summary, error) {
	var sum Summary
	if tmpl == nil {
		return sum, fmt.Errorf("template catalog is required")
	}

	log := o.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	mem := o.Memory
	if mem == nil {
		mem = memory.New()
	}
	opts := o.Options
	mode := opts.resumeMode()

	out := merge.Merge(existing, tmpl, merge.Options{KeepObsolete: opts.KeepObsolete})
	out.RefreshHeader(tmpl, po.HeaderInfo{
		Language:   opts.Language,
		Generator:  opts.Generator,
		Translator: opts.LastTranslator,
		Team:       opts.LanguageTeam,
		Now:        now(),
	})
	nplurals := out.NPlurals()

	if seeded := mem.Seed(existing); seeded > 0 {
		log.WithField("records", seeded).Debug("Translation memory seeded")
	}

	builder := prompt.Builder{
		Template:   opts.PromptTemplate,
		TargetLang: opts.LanguageName,
		SourceLang: opts.SourceLanguageName,
	}
	if builder.TargetLang == "" {
		builder.TargetLang = opts.Language
	}

	w := newWriter(outputPath, out, opts, log, o.Metrics)

	for _, e := range out.Entries {
		if !e.Obsolete && !e.IsHeader() {
			sum.Total++
		}
	}

	done := 0
	touched := false
	var runErr error

loop:
	for _, e := range out.Entries {
		if e.Obsolete || e.IsHeader() {
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		entryLog := log.WithFields(logrus.Fields{
			"context": e.MsgCtxt,
			"msgid":   truncate(e.MsgID, 80),
		})

		if Decide(e, nplurals, mode) == Skip {
			normalizeKept(e, nplurals)
			sum.Skipped++
			o.Metrics.Entry(metrics.OutcomeSkipped)
			entryLog.WithField("outcome", "skip").Debug("Keeping prior translation")
			done++
			o.progress(done, sum.Total)
			continue
		}

		if opts.Limit > 0 && sum.Translated >= opts.Limit {
			sum.Stopped = true
			log.WithField("limit", opts.Limit).Info("Entry limit reached, stopping")
			break
		}

		slots := e.SlotCount(nplurals)
		results := make([]slotResult, slots)
		calls := 0
		for slot := 0; slot < slots; slot++ {
			results[slot] = o.translateSlot(ctx, builder, mem, e, slot, entryLog)
			calls += results[slot].calls
			if ctx.Err() != nil {
				// Leave the entry as it was; it is retried on the next run.
				sum.BackendCalls += calls
				runErr = ctx.Err()
				break loop
			}
		}
		sum.BackendCalls += calls

		if !touched {
			out.TouchRevisionDate(now())
			touched = true
		}
		outcome := o.apply(e, results, &sum)
		entryLog.WithField("outcome", outcome).Debug("Entry processed")

		sum.Translated++
		done++
		w.entryDone()
		o.progress(done, sum.Total)

		if calls > 0 && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				runErr = err
				break
			}
		}
	}

	sum.WriteFailures = w.failures
	if err := w.final(); err != nil {
		sum.WriteFailures++
		return sum, fmt.Errorf("writing %s: %w", outputPath, err)
	}

	if o.Report != nil {
		o.Report.Language = opts.Language
		o.Report.Output = outputPath
		o.Report.Totals = sum.Totals()
	}

	log.WithFields(logrus.Fields{
		"total":      sum.Total,
		"skipped":    sum.Skipped,
		"translated": sum.Translated,
		"memory":     sum.FromMemory,
		"fallback":   sum.Fallback,
		"failed":     sum.Failed,
		"review":     sum.Review,
		"tm_records": mem.Len(),
	}).Info("Run finished")

	return sum, runErr
}

// translateSlot produces the translation for one msgstr slot: memory
// first, then the primary model, then the fallback model.
func (o *Orchestrator) translateSlot(ctx context.Context, builder prompt.Builder, mem *memory.Memory, e *po.Entry, slot int, log logrus.FieldLogger) slotResult {
	opts := o.Options
	source := e.Source(slot)
	phs := placeholder.Extract(source)

	var res slotResult
	if cached, ok := mem.Lookup(source); ok {
		res.text = newlines.Normalize(cached, source)
		res.fromMemory = true
		res.missing = phs.Missing(res.text)
		return res
	}

	p := builder.Build(prompt.Params{
		Source:       source,
		Context:      e.MsgCtxt,
		Placeholders: phs,
		Plural:       e.IsPlural(),
		PluralIndex:  slot,
	})
	req := backend.Request{
		Model:           opts.Model,
		Prompt:          p,
		MaxOutputTokens: opts.MaxOutputTokens,
		Temperature:     opts.Temperature,
		ReasoningEffort: opts.ReasoningEffort,
	}

	text, err := o.Backend.Complete(ctx, req)
	res.calls++
	if err != nil && ctx.Err() == nil && opts.FallbackModel != "" && opts.FallbackModel != opts.Model {
		log.WithError(err).WithField("fallback", opts.FallbackModel).Warn("Primary model failed, trying fallback")
		fb := req.Base()
		fb.Model = opts.FallbackModel
		text, err = o.Backend.Complete(ctx, fb)
		res.calls++
		res.fallback = true
	}
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("Translation failed, leaving entry empty for review")
		}
		res.failed = true
		res.err = err
		return res
	}

	res.text = newlines.Normalize(text, source)
	res.missing = phs.Missing(res.text)
	mem.Record(source, res.text)
	return res
}

// apply writes slot results into e, sets or clears the review flag and
// updates the summary. It returns the entry outcome.
func (o *Orchestrator) apply(e *po.Entry, results []slotResult, sum *Summary) string {
	review := false
	failed := false
	fallback := false
	allMemory := true

	for slot, r := range results {
		e.SetSlot(slot, r.text)
		if !r.fromMemory {
			allMemory = false
		}
		if r.fallback && !r.failed {
			fallback = true
		}
		item := report.Item{
			Context:     e.MsgCtxt,
			MsgID:       e.MsgID,
			MsgIDPlural: e.MsgIDPlural,
			Slot:        slot,
		}
		switch {
		case r.failed:
			failed = true
			review = true
			item.Reason = report.ReasonBackendFailed
			item.Error = r.err.Error()
			o.Report.Add(item)
		case len(r.missing) > 0:
			review = true
			item.Reason = report.ReasonMissingPlaceholders
			item.Missing = r.missing
			item.Translation = r.text
			o.Report.Add(item)
		}
	}

	e.SetFuzzy(review)
	e.PreviousMsgID = ""

	outcome := metrics.OutcomeTranslated
	switch {
	case failed:
		outcome = metrics.OutcomeFailed
		sum.Failed++
	case allMemory:
		outcome = metrics.OutcomeMemory
		sum.FromMemory++
	case fallback:
		outcome = metrics.OutcomeFallback
	}
	if fallback {
		sum.Fallback++
	}
	if review {
		sum.Review++
		if !failed {
			o.Metrics.Entry(metrics.OutcomeReview)
		}
	}
	o.Metrics.Entry(outcome)
	return outcome
}

func (o *Orchestrator) progress(done, total int) {
	if o.Options.OnProgress != nil {
		o.Options.OnProgress(done, total)
	}
}

// sleep waits for d or until ctx ends.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncate shortens s to maxLen runes for log fields.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen]) + "..."
}

// IsInterrupted reports whether err is a cancellation, as returned by Run
// when the context ends before all entries were processed.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
