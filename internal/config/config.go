// Package config loads triage configuration from defaults, an optional
// YAML file, TRIAGE_* environment variables and CLI overrides.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/evidence"
	"github.com/randalmurphal/triage/internal/history"
	"github.com/randalmurphal/triage/internal/source"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// TriageDir is the project configuration directory.
	TriageDir = ".triage"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TRIAGE"
)

// Config is the full runtime configuration.
type Config struct {
	// OutputPath is where the bug record is written. "-" writes to stdout.
	OutputPath string `yaml:"output_path" json:"output_path" mapstructure:"output_path"`

	Source     source.Config    `yaml:"source" json:"source" mapstructure:"source"`
	Evidence   evidence.Config  `yaml:"evidence" json:"evidence" mapstructure:"evidence"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier" mapstructure:"classifier"`
	Validation ValidationConfig `yaml:"validation" json:"validation" mapstructure:"validation"`
	History    history.Config   `yaml:"history" json:"history" mapstructure:"history"`
	Log        LogConfig        `yaml:"log" json:"log" mapstructure:"log"`
}

// ClassifierConfig configures the stack classifier.
type ClassifierConfig struct {
	// Signatures is an optional YAML file of extra signatures.
	Signatures string `yaml:"signatures" json:"signatures,omitempty" mapstructure:"signatures"`
	// PlatformHints adds low-confidence candidates from the platform.
	PlatformHints bool `yaml:"platform_hints" json:"platform_hints" mapstructure:"platform_hints"`
}

// ValidationConfig configures the record validator.
type ValidationConfig struct {
	// EstimateTimestamp substitutes the run time for a missing timestamp.
	EstimateTimestamp bool `yaml:"estimate_timestamp" json:"estimate_timestamp" mapstructure:"estimate_timestamp"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"`
}

// SourceTypes lists the ticket sources triage ships with.
var SourceTypes = []string{"file", string(source.KindGitHub), string(source.KindGitLab), string(source.KindJira)}

// defaults lists every key with its default value. Keys not listed here
// cannot be set from the environment.
var defaults = map[string]any{
	"output_path": "bug_record.json",

	"source.type":          string(source.KindJira),
	"source.base_url":      "",
	"source.email":         "",
	"source.token_env_var": "",
	"source.project":       "",
	"source.dir":           filepath.Join(TriageDir, "tickets"),
	"source.timeout":       30 * time.Second,

	"evidence.analyzer":           evidence.KindNone,
	"evidence.concurrency":        4,
	"evidence.http.endpoint":      "",
	"evidence.http.errors_path":   "errors",
	"evidence.http.token_env_var": "",
	"evidence.http.timeout":       30 * time.Second,
	"evidence.http.retry_max":     2,
	"evidence.command.path":       "tesseract",
	"evidence.command.args":       []string{evidence.FilePlaceholder, "stdout"},
	"evidence.command.timeout":    60 * time.Second,
	"evidence.command.retry_max":  2,

	"classifier.signatures":     "",
	"classifier.platform_hints": true,

	"validation.estimate_timestamp": true,

	"history.enabled": true,
	"history.driver":  "sqlite",
	"history.dsn":     history.DefaultSQLitePath,

	"log.level":  "info",
	"log.format": "console",
}

// Keys returns every configuration key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate checks the configuration and returns the first problem found
// as a CONFIG_INVALID or CONFIG_MISSING error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputPath) == "" {
		return triageerrors.ErrConfigMissing("output_path")
	}

	kind := strings.ToLower(c.Source.Type)
	if kind == "" {
		return triageerrors.ErrConfigMissing("source.type")
	}
	switch kind {
	case string(source.KindJira):
		if c.Source.BaseURL == "" {
			return triageerrors.ErrConfigMissing("source.base_url")
		}
		if c.Source.Email == "" {
			return triageerrors.ErrConfigMissing("source.email")
		}
	case "file":
		if c.Source.Dir == "" {
			return triageerrors.ErrConfigMissing("source.dir")
		}
	case string(source.KindGitHub), string(source.KindGitLab):
	default:
		return triageerrors.ErrSourceUnknown(kind, SourceTypes)
	}
	if c.Source.Timeout < 0 {
		return triageerrors.ErrConfigInvalid("source.timeout", "must not be negative")
	}

	switch strings.ToLower(c.Evidence.Analyzer) {
	case "", evidence.KindNone, evidence.KindCommand, "ocr":
	case evidence.KindHTTP:
		if c.Evidence.HTTP.Endpoint == "" {
			return triageerrors.ErrConfigMissing("evidence.http.endpoint")
		}
	default:
		return triageerrors.ErrConfigInvalid("evidence.analyzer",
			fmt.Sprintf("%q is not one of none, http, command", c.Evidence.Analyzer))
	}
	if c.Evidence.Concurrency < 1 {
		return triageerrors.ErrConfigInvalid("evidence.concurrency", "must be at least 1")
	}
	if c.Evidence.HTTP.RetryMax < 0 || c.Evidence.Command.RetryMax < 0 {
		return triageerrors.ErrConfigInvalid("evidence.retry_max", "must not be negative")
	}

	if c.History.Enabled {
		switch strings.ToLower(c.History.Driver) {
		case "", "sqlite", "sqlite3":
		case "postgres", "postgresql", "pg", "pgx":
			if c.History.DSN == "" {
				return triageerrors.ErrConfigMissing("history.dsn")
			}
		default:
			return triageerrors.ErrConfigInvalid("history.driver",
				fmt.Sprintf("%q is not one of sqlite, postgres", c.History.Driver))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return triageerrors.ErrConfigInvalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return triageerrors.ErrConfigInvalid("log.format", fmt.Sprintf("%q is not one of console, json", c.Log.Format))
	}
	return nil
}
