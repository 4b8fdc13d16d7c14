// potr (PO Translator) fills gettext catalogs using an LLM backend.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/minios-linux/potr/backend"
	"github.com/minios-linux/potr/config"
	"github.com/minios-linux/potr/i18n"
	"github.com/minios-linux/potr/memory"
	"github.com/minios-linux/potr/metrics"
	"github.com/minios-linux/potr/newlines"
	"github.com/minios-linux/potr/pipeline"
	po "github.com/minios-linux/potr/pofile"
	"github.com/minios-linux/potr/report"
	"github.com/minios-linux/potr/settings"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitInterrupted is the exit status after SIGINT/SIGTERM, as shells use.
const exitInterrupted = 130

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.Bold, color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, blue("[INFO]")+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, green("[OK]")+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, yellow("[WARN]")+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, red("[ERROR]")+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "potr",
		Short: "Translate gettext PO catalogs with an LLM",
		Long: `potr (PO Translator) fills gettext catalogs using an LLM backend.

Merges a .pot template into the target .po catalog, keeps acceptable prior
translations, translates the rest one entry at a time and writes the catalog
atomically as it goes. Interrupted runs resume where they stopped.

Commands:
  translate      Translate a catalog from its template
  fix-newlines   Repair leading/trailing newline mismatches
  auth           Manage the stored API key

Settings are read from flags, POTR_* environment variables and .potr.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Config file (default: .potr.yaml in the working directory)")
	root.PersistentFlags().String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")

	root.AddCommand(
		newTranslateCmd(),
		newFixNewlinesCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if pipeline.IsInterrupted(err) {
		return exitInterrupted
	}
	return 1
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "potr version %s\n", version)
			fmt.Fprintf(out, "  commit:    %s\n", commit)
			fmt.Fprintf(out, "  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate a PO catalog from its template",
		Long: `Translate a PO catalog using an OpenAI-compatible Responses API.

The template is merged into the output catalog first. Entries whose prior
translation is reviewed, complete and keeps every placeholder are skipped;
everything else is translated. Entries that lose a placeholder or fail are
marked fuzzy for review.

Examples:
  # Translate po/de.po from po/messages.pot
  potr translate -t po/messages.pot -o po/de.po -l de

  # Stop after 50 entries, writing every 10; rerun to continue
  potr translate -t po/messages.pot -o po/de.po -l de --limit 50 --flush-every 10

  # Retranslate everything with a specific model
  potr translate -t po/messages.pot -o po/ru.po -l ru --force --model gpt-4.1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runTranslate(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()

	// Files
	f.StringP("template", "t", "", "POT template file (required)")
	f.StringP("output", "o", "", "PO catalog to create or update (required)")
	f.StringP("language", "l", "", "Target language code, e.g. de, pt_BR (required)")
	f.String("source-language", config.DefaultSourceLanguage, "Source language code")

	// Backend
	f.String("base-url", config.DefaultBaseURL, "API base URL")
	f.String("api-key", "", "API key (or POTR_API_KEY / OPENAI_API_KEY, or 'potr auth login')")
	f.String("model", config.DefaultModel, "Primary model")
	f.String("fallback-model", config.DefaultFallbackModel, "Model used when the primary fails (empty disables)")
	f.Float64("temperature", 0, "Sampling temperature (omitted unless set)")
	f.String("reasoning-effort", "", "Reasoning effort for reasoning models: minimal, low, medium, high")
	f.Int("max-output-tokens", config.DefaultMaxOutputTokens, "Output token budget per request")
	f.String("prompt-file", "", "File with custom instructions (use {{targetLang}} and {{sourceLang}})")

	// Network
	f.Duration("timeout", config.DefaultTimeout, "Per-request timeout")
	f.String("proxy", "", "HTTP/HTTPS proxy URL")
	f.Int("max-retries", config.DefaultMaxRetries, "Maximum retries on rate limit (429) and server errors")

	// Run behavior
	f.Int("limit", 0, "Stop after translating this many entries (0 = no limit)")
	f.Float64("delay", 0, "Seconds to wait after each entry that called the API")
	f.Bool("stream", false, "Write the catalog after every translated entry")
	f.Int("flush-every", 0, "Write the catalog after every N translated entries")
	f.Bool("resume", true, "Keep acceptable prior translations")
	f.Bool("force", false, "Retranslate every entry")
	f.Bool("untranslated-only", false, "Only translate entries with an empty msgstr")
	f.Bool("keep-obsolete", false, "Keep entries missing from the template as #~ obsolete")
	f.String("last-translator", "", "Last-Translator for new catalogs")
	f.String("language-team", "", "Language-Team for new catalogs")

	// Outputs
	f.Bool("verify", false, "Reload the written catalog with a gettext runtime and check it")
	f.String("report", "", "Write a YAML review report to this path")
	f.String("metrics-file", "", "Write Prometheus metrics to this textfile")
	f.Bool("progress", false, "Show a progress bar")

	_ = cmd.RegisterFlagCompletionFunc("reasoning-effort", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"minimal", "low", "medium", "high"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("model", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"gpt-4.1-mini", "gpt-4.1", "gpt-4o-mini", "gpt-5-mini", "gpt-5"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// loadConfig layers defaults, config file, environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, cfgPath); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func newLogger(level string, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func runTranslate(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	log := newLogger(cfg.LogLevel, stderr).WithField("run_id", runID)

	tmpl, err := po.ParseFile(cfg.Template)
	if err != nil {
		return fmt.Errorf("reading template: %w", err)
	}

	var existing *po.File
	if fileExists(cfg.Output) {
		existing, err = po.ParseFile(cfg.Output)
		if err != nil {
			return fmt.Errorf("reading existing catalog: %w", err)
		}
	}

	apiKey := settings.ResolveAPIKey(settings.DefaultProvider, cfg.APIKey)
	if apiKey == "" {
		return fmt.Errorf("no API key: use --api-key, POTR_API_KEY, OPENAI_API_KEY or 'potr auth login'")
	}
	baseURL := cfg.BaseURL
	if baseURL == config.DefaultBaseURL {
		if stored := settings.GetBaseURL(settings.DefaultProvider); stored != "" {
			baseURL = stored
		}
	}

	promptTmpl, err := cfg.PromptTemplate()
	if err != nil {
		return err
	}

	var rec *metrics.Recorder
	var observer backend.Observer
	if cfg.MetricsFile != "" {
		rec = metrics.New(prometheus.Labels{"language": cfg.Language})
		observer = rec
	}

	var rep *report.Report
	if cfg.Report != "" {
		rep = report.New(cfg.Report)
		rep.RunID = runID
		rep.Template = cfg.Template
	}

	client := backend.New(backend.Config{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Proxy:      cfg.Proxy,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     log,
		Observer:   observer,
	})

	var bar *progressbar.ProgressBar
	onProgress := func(done, total int) {
		if !cfg.Progress {
			return
		}
		if bar == nil {
			bar = newProgressBar(total, cfg.Output, stderr)
		}
		_ = bar.Set(done)
	}

	o := &pipeline.Orchestrator{
		Backend: client,
		Memory:  memory.New(),
		Options: pipeline.Options{
			Language:           cfg.Language,
			LanguageName:       cfg.LanguageName,
			SourceLanguageName: cfg.SourceLanguageName,
			PromptTemplate:     promptTmpl,
			Model:              cfg.Model,
			FallbackModel:      cfg.FallbackModel,
			MaxOutputTokens:    cfg.MaxOutputTokens,
			Temperature:        cfg.Temperature,
			ReasoningEffort:    cfg.ReasoningEffort,
			Limit:              cfg.Limit,
			Delay:              cfg.DelayDuration(),
			Stream:             cfg.Stream,
			FlushEvery:         cfg.FlushEvery,
			Resume:             cfg.Resume,
			Force:              cfg.Force,
			UntranslatedOnly:   cfg.UntranslatedOnly,
			KeepObsolete:       cfg.KeepObsolete,
			Generator:          "potr " + version,
			LastTranslator:     cfg.LastTranslator,
			LanguageTeam:       cfg.LanguageTeam,
			OnProgress:         onProgress,
		},
		Logger:  log,
		Metrics: rec,
		Report:  rep,
	}

	log.WithFields(logrus.Fields{
		"template": cfg.Template,
		"output":   cfg.Output,
		"language": cfg.Language,
		"model":    cfg.Model,
	}).Info("Starting translation")

	started := time.Now()
	sum, runErr := o.Run(ctx, tmpl, existing, cfg.Output)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(stderr)
	}

	printSummary(stderr, cfg.Output, sum)

	if rep != nil {
		if err := rep.Save(); err != nil {
			log.WithError(err).Warn("Failed to write review report")
		} else if rep.Len() > 0 {
			logInfo("%s", i18n.T("Review report: %s (%d items)", rep.Path(), rep.Len()))
		}
	}
	if rec != nil {
		rec.Finish(started, time.Now())
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			log.WithError(err).Warn("Failed to write metrics")
		}
	}

	if runErr != nil {
		if pipeline.IsInterrupted(runErr) {
			logWarning("%s", i18n.T("Interrupted; progress saved to %s. Run again to resume.", cfg.Output))
		}
		return runErr
	}

	if cfg.Verify {
		mismatches, err := po.VerifyFile(cfg.Output)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", cfg.Output, err)
		}
		for _, m := range mismatches {
			logError("verify: %s", m)
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("verification failed: %d entries do not resolve to their translation", len(mismatches))
		}
		logSuccess("%s", i18n.T("Verified %s", cfg.Output))
	}

	if sum.Stopped {
		logInfo("%s", i18n.T("Limit of %d entries reached. Run again to continue.", cfg.Limit))
	}
	return nil
}

func newProgressBar(total int, output string, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", output)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}

func printSummary(w io.Writer, output string, sum pipeline.Summary) {
	fmt.Fprintf(w, "\n%s\n", blue(i18n.T("Summary: %s", output)))
	fmt.Fprintln(w, strings.Repeat("─", 40))
	fmt.Fprintf(w, "  %-14s %d\n", i18n.T("Entries:"), sum.Total)
	fmt.Fprintf(w, "  %-14s %d\n", i18n.T("Kept:"), sum.Skipped)
	fmt.Fprintf(w, "  %-14s %s\n", i18n.T("Translated:"), green(sum.Translated))
	fmt.Fprintf(w, "  %-14s %d\n", i18n.T("From memory:"), sum.FromMemory)
	fmt.Fprintf(w, "  %-14s %d\n", i18n.T("Fallback:"), sum.Fallback)
	fmt.Fprintf(w, "  %-14s %d\n", i18n.T("API calls:"), sum.BackendCalls)
	if sum.Review > 0 {
		fmt.Fprintf(w, "  %-14s %s\n", i18n.T("Needs review:"), yellow(sum.Review))
	}
	if sum.Failed > 0 {
		fmt.Fprintf(w, "  %-14s %s\n", i18n.T("Failed:"), red(sum.Failed))
	}
	if sum.WriteFailures > 0 {
		fmt.Fprintf(w, "  %-14s %s\n", i18n.T("Write errors:"), red(sum.WriteFailures))
	}
	fmt.Fprintln(w)
}

// ---------------------------------------------------------------------------
// fix-newlines
// ---------------------------------------------------------------------------

func newFixNewlinesCmd() *cobra.Command {
	var (
		dryRun   bool
		noBackup bool
	)

	cmd := &cobra.Command{
		Use:   "fix-newlines <file.po>...",
		Short: "Repair leading/trailing newline mismatches",
		Long: `Make the leading and trailing newlines of every translation match its
source text. Interior newlines are left alone.

A backup is written to <file>.po.bak before a changed catalog is saved.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFixNewlines(args, newlines.FixOptions{DryRun: dryRun, Backup: !noBackup})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Do not write a .bak copy")

	return cmd
}

func runFixNewlines(paths []string, opts newlines.FixOptions) error {
	failed := 0
	for _, path := range paths {
		n, err := newlines.FixPath(path, opts)
		switch {
		case err != nil:
			logError("%v", err)
			failed++
		case n == 0:
			logInfo("%s", i18n.T("%s: nothing to fix", path))
		case opts.DryRun:
			logInfo("%s", i18n.T("%s: %d translations would be fixed", path, n))
		default:
			logSuccess("%s", i18n.T("%s: fixed %d translations", path, n))
		}
	}
	if failed > 0 {
		return errors.New(i18n.N("%d file failed", "%d files failed", failed, failed))
	}
	return nil
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the stored API key",
		Long: `Manage API keys stored in the potr data directory.

Examples:
  potr auth login                          Store an OpenAI API key
  potr auth login --base-url URL           Store a key for a compatible endpoint
  potr auth logout                         Remove all credentials
  potr auth status                         Show stored credentials`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		provider string
		baseURL  string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key",
		Long:  `Read an API key from standard input and store it for the provider.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return authLogin(cmd.InOrStdin(), cmd.ErrOrStderr(), provider, baseURL)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", settings.DefaultProvider, "Provider ID")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL to use with this key")

	return cmd
}

func authLogin(in io.Reader, w io.Writer, provider, baseURL string) error {
	existing := settings.GetAPIKey(provider)
	if existing != "" {
		fmt.Fprintf(w, "  Current key: %s\n", yellow(settings.MaskKey(existing)))
		fmt.Fprintf(w, "  Enter new key to replace, or press Enter to keep: ")
	} else {
		fmt.Fprintf(w, "  Enter API key: ")
	}

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading key: %w", err)
		}
		return errors.New("no input received")
	}
	key := strings.TrimSpace(scanner.Text())

	if key == "" {
		if existing != "" {
			logInfo("Keeping existing key")
			return nil
		}
		return errors.New("no API key provided")
	}

	if err := settings.SetAPIKey(provider, key, baseURL); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}
	logSuccess("%s API key saved to %s", provider, settings.FilePath())
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long: `Remove stored credentials for one or all providers.

If --provider is not specified, credentials for ALL providers are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider != "" {
				if err := settings.Remove(provider); err != nil {
					return fmt.Errorf("removing %s credentials: %w", provider, err)
				}
				logSuccess("%s credentials removed", provider)
				return nil
			}
			if err := settings.RemoveAll(); err != nil {
				return err
			}
			logSuccess("All stored credentials removed")
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to logout (default: all)")

	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"list", "ls"},
		Short:   "Show stored credentials",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printAuthStatus(cmd.ErrOrStderr())
		},
	}
}

func printAuthStatus(w io.Writer) {
	fmt.Fprintf(w, "\n%s\n", blue("Stored Credentials"))
	fmt.Fprintln(w, strings.Repeat("─", 60))

	store := settings.Load()
	if len(store) == 0 {
		fmt.Fprintf(w, "  %s\n", red("none"))
	}
	for _, id := range store.Providers() {
		entry := store[id]
		status := fmt.Sprintf("%s (key: %s)", green("configured"), settings.MaskKey(entry.Key))
		if entry.BaseURL != "" {
			status += fmt.Sprintf("\n  %14s endpoint: %s", "", entry.BaseURL)
		}
		fmt.Fprintf(w, "  %-14s %s\n", id, status)
	}

	fmt.Fprintf(w, "\n  %s\n", yellow("Environment Variables"))
	for _, name := range []string{"POTR_API_KEY", settings.EnvVarForProvider(settings.DefaultProvider)} {
		if v := os.Getenv(name); v != "" {
			fmt.Fprintf(w, "  %s: %s (overrides stored keys)\n", name, green(settings.MaskKey(v)))
		} else {
			fmt.Fprintf(w, "  %s: %s\n", name, red("not set"))
		}
	}
	fmt.Fprintf(w, "\n  File: %s\n\n", settings.FilePath())
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
