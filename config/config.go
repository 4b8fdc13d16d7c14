// Package config layers run settings from built-in defaults, an optional
// .potr.yaml file, POTR_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/minios-linux/potr/langmeta"
)

// FileName is the base name of the project config file.
const FileName = ".potr"

// EnvPrefix prefixes every environment override, e.g. POTR_MODEL.
const EnvPrefix = "POTR"

// Defaults.
const (
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultModel           = "gpt-4.1-mini"
	DefaultFallbackModel   = "gpt-4o-mini"
	DefaultMaxOutputTokens = 1024
	DefaultTimeout         = 120 * time.Second
	DefaultMaxRetries      = 3
	DefaultSourceLanguage  = "en"
	DefaultLogLevel        = "info"
)

// Config holds the settings of one translate run.
type Config struct {
	Template       string `mapstructure:"template"`
	Output         string `mapstructure:"output"`
	Language       string `mapstructure:"language"`
	SourceLanguage string `mapstructure:"source_language"`

	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	FallbackModel   string        `mapstructure:"fallback_model"`
	ReasoningEffort string        `mapstructure:"reasoning_effort"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Proxy           string        `mapstructure:"proxy"`
	MaxRetries      int           `mapstructure:"max_retries"`
	// Temperature is nil unless set explicitly.
	Temperature *float64 `mapstructure:"-"`

	Limit      int     `mapstructure:"limit"`
	Delay      float64 `mapstructure:"delay"`
	Stream     bool    `mapstructure:"stream"`
	FlushEvery int     `mapstructure:"flush_every"`

	Resume           bool `mapstructure:"resume"`
	Force            bool `mapstructure:"force"`
	UntranslatedOnly bool `mapstructure:"untranslated_only"`
	KeepObsolete     bool `mapstructure:"keep_obsolete"`

	// PromptFile replaces the built-in instructions with the file contents.
	PromptFile     string `mapstructure:"prompt_file"`
	LastTranslator string `mapstructure:"last_translator"`
	LanguageTeam   string `mapstructure:"language_team"`

	Verify      bool   `mapstructure:"verify"`
	Report      string `mapstructure:"report"`
	MetricsFile string `mapstructure:"metrics_file"`
	LogLevel    string `mapstructure:"log_level"`
	Progress    bool   `mapstructure:"progress"`

	// LanguageName and SourceLanguageName are resolved by Validate.
	LanguageName       string `mapstructure:"-"`
	SourceLanguageName string `mapstructure:"-"`
}

// New returns a viper instance with defaults and environment overrides
// configured. Each command uses its own instance.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("source_language", DefaultSourceLanguage)
	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("fallback_model", DefaultFallbackModel)
	v.SetDefault("reasoning_effort", "")
	v.SetDefault("max_output_tokens", DefaultMaxOutputTokens)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("proxy", "")
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("limit", 0)
	v.SetDefault("delay", 0.0)
	v.SetDefault("stream", false)
	v.SetDefault("flush_every", 0)
	v.SetDefault("resume", true)
	v.SetDefault("force", false)
	v.SetDefault("untranslated_only", false)
	v.SetDefault("keep_obsolete", false)
	v.SetDefault("verify", false)
	v.SetDefault("report", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("progress", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	// Keys without a default are only seen by Unmarshal once bound.
	for _, key := range []string{"template", "output", "language", "api_key", "temperature", "prompt_file", "last_translator", "language_team"} {
		_ = v.BindEnv(key)
	}
	return v
}

// BindFlags binds every flag in fs to the key of the same name, with
// dashes mapped to underscores ("max-output-tokens" -> max_output_tokens).
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "config" {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("binding flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// ReadFile loads path, or .potr.yaml from the working directory when path
// is empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if v.IsSet("temperature") {
		t := v.GetFloat64("temperature")
		cfg.Temperature = &t
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys and value ranges and resolves language
// names.
func (c *Config) Validate() error {
	var missing []string
	if c.Template == "" {
		missing = append(missing, "template")
	}
	if c.Output == "" {
		missing = append(missing, "output")
	}
	if c.Language == "" {
		missing = append(missing, "language")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required setting(s): %s", strings.Join(missing, ", "))
	}

	target, err := langmeta.Resolve(c.Language)
	if err != nil {
		return fmt.Errorf("language: %w", err)
	}
	c.Language = target.Code
	c.LanguageName = target.Name

	if c.SourceLanguage == "" {
		c.SourceLanguage = DefaultSourceLanguage
	}
	source, err := langmeta.Resolve(c.SourceLanguage)
	if err != nil {
		return fmt.Errorf("source_language: %w", err)
	}
	c.SourceLanguage = source.Code
	c.SourceLanguageName = source.Name

	switch {
	case c.Model == "":
		return fmt.Errorf("model must not be empty")
	case c.MaxOutputTokens <= 0:
		return fmt.Errorf("max_output_tokens must be positive, got %d", c.MaxOutputTokens)
	case c.Limit < 0:
		return fmt.Errorf("limit must not be negative, got %d", c.Limit)
	case c.FlushEvery < 0:
		return fmt.Errorf("flush_every must not be negative, got %d", c.FlushEvery)
	case c.Delay < 0:
		return fmt.Errorf("delay must not be negative, got %v", c.Delay)
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	case c.Force && c.UntranslatedOnly:
		return fmt.Errorf("force and untranslated_only are mutually exclusive")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", *c.Temperature)
	}
	return nil
}

// DelayDuration returns the pacing delay.
func (c *Config) DelayDuration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// PromptTemplate returns the contents of PromptFile, or "" when unset.
func (c *Config) PromptTemplate() (string, error) {
	if c.PromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.PromptFile)
	if err != nil {
		return "", fmt.Errorf("reading prompt file: %w", err)
	}
	return string(data), nil
}
