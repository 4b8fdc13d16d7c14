package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POTR_TEMPLATE", "po/messages.pot")
	t.Setenv("POTR_OUTPUT", "po/de.po")
	t.Setenv("POTR_LANGUAGE", "de")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"BaseURL", cfg.BaseURL, DefaultBaseURL},
		{"Model", cfg.Model, DefaultModel},
		{"FallbackModel", cfg.FallbackModel, DefaultFallbackModel},
		{"MaxOutputTokens", cfg.MaxOutputTokens, DefaultMaxOutputTokens},
		{"Timeout", cfg.Timeout, DefaultTimeout},
		{"MaxRetries", cfg.MaxRetries, DefaultMaxRetries},
		{"SourceLanguage", cfg.SourceLanguage, "en"},
		{"Resume", cfg.Resume, true},
		{"Force", cfg.Force, false},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LanguageName", cfg.LanguageName, "German"},
		{"SourceLanguageName", cfg.SourceLanguageName, "English"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
	if cfg.Temperature != nil {
		t.Errorf("Temperature = %v, want unset", *cfg.Temperature)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POTR_MODEL", "gpt-5-mini")
	t.Setenv("POTR_FALLBACK_MODEL", "")
	t.Setenv("POTR_TEMPERATURE", "0.3")
	t.Setenv("POTR_TIMEOUT", "45s")
	t.Setenv("POTR_DELAY", "1.5")
	t.Setenv("POTR_LANGUAGE", "pt-br")

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "gpt-5-mini" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.FallbackModel != "" {
		t.Errorf("FallbackModel = %q, want disabled", cfg.FallbackModel)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.3 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Timeout = %s", cfg.Timeout)
	}
	if cfg.DelayDuration() != 1500*time.Millisecond {
		t.Errorf("DelayDuration = %s", cfg.DelayDuration())
	}
	if cfg.Language != "pt_BR" {
		t.Errorf("Language = %q", cfg.Language)
	}
}

func TestLoadFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "potr.yaml")
	content := `template: messages.pot
output: fr.po
language: fr
model: file-model
limit: 25
keep_obsolete: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("translate", pflag.ContinueOnError)
	fs.String("model", DefaultModel, "")
	fs.Int("limit", 0, "")
	fs.Int("max-output-tokens", DefaultMaxOutputTokens, "")
	fs.Float64("temperature", 0, "")
	if err := fs.Parse([]string{"--model", "flag-model", "--max-output-tokens", "2048"}); err != nil {
		t.Fatal(err)
	}

	v := New()
	if err := BindFlags(v, fs); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Model != "flag-model" {
		t.Errorf("Model = %q, flag must win over file", cfg.Model)
	}
	if cfg.Limit != 25 {
		t.Errorf("Limit = %d, file must win over flag default", cfg.Limit)
	}
	if cfg.MaxOutputTokens != 2048 {
		t.Errorf("MaxOutputTokens = %d", cfg.MaxOutputTokens)
	}
	if !cfg.KeepObsolete {
		t.Error("KeepObsolete not read from file")
	}
	if cfg.Temperature != nil {
		t.Errorf("unchanged temperature flag must stay unset, got %v", *cfg.Temperature)
	}
	if cfg.LanguageName != "French" {
		t.Errorf("LanguageName = %q", cfg.LanguageName)
	}
}

func TestReadFileMissingDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if err := ReadFile(New(), ""); err != nil {
		t.Fatalf("missing .potr.yaml must not fail: %v", err)
	}
}

func TestReadFileExplicitMissing(t *testing.T) {
	if err := ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Template:        "a.pot",
			Output:          "a.po",
			Language:        "de",
			Model:           "m",
			MaxOutputTokens: 100,
			Timeout:         time.Second,
		}
	}
	neg := -0.5

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing", mutate: func(c *Config) { c.Template, c.Output = "", "" }, wantErr: "template, output"},
		{name: "bad language", mutate: func(c *Config) { c.Language = "not a language" }, wantErr: "language"},
		{name: "zero budget", mutate: func(c *Config) { c.MaxOutputTokens = 0 }, wantErr: "max_output_tokens"},
		{name: "negative limit", mutate: func(c *Config) { c.Limit = -1 }, wantErr: "limit"},
		{name: "conflicting modes", mutate: func(c *Config) { c.Force, c.UntranslatedOnly = true, true }, wantErr: "mutually exclusive"},
		{name: "temperature range", mutate: func(c *Config) { c.Temperature = &neg }, wantErr: "temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestPromptTemplate(t *testing.T) {
	c := &Config{}
	if s, err := c.PromptTemplate(); err != nil || s != "" {
		t.Fatalf("unset PromptTemplate = %q, %v", s, err)
	}
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("Translate to {{targetLang}}."), 0644); err != nil {
		t.Fatal(err)
	}
	c.PromptFile = path
	s, err := c.PromptTemplate()
	if err != nil || s != "Translate to {{targetLang}}." {
		t.Fatalf("PromptTemplate = %q, %v", s, err)
	}
}
