package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
)

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// ConfigFile is an explicit config file. It must exist.
	ConfigFile string
	// SearchPaths are searched for config.yaml when ConfigFile is empty.
	// Defaults to .triage and $HOME/.triage.
	SearchPaths []string
	// Overrides are applied last, typically from CLI flags.
	Overrides map[string]any
}

// Loaded is a resolved configuration with per-key provenance.
type Loaded struct {
	Config *Config
	// File is the config file that was read, if any.
	File string

	v       *viper.Viper
	sources map[string]TrackedSource
}

// Load resolves configuration. Precedence, lowest first: defaults, config
// file, TRIAGE_* environment, overrides. The result is not validated.
func Load(opts LoadOptions) (*Loaded, error) {
	v := newViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, triageerrors.ErrConfigInvalid("config file", err.Error()).WithCause(err)
		}
	} else {
		paths := opts.SearchPaths
		if len(paths) == 0 {
			paths = []string{TriageDir, filepath.Join("$HOME", TriageDir)}
		}
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		v.SetConfigType("yaml")
		for _, p := range paths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, triageerrors.ErrConfigInvalid("config file", err.Error()).WithCause(err)
			}
		}
	}

	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, triageerrors.ErrConfigInvalid("config", err.Error()).WithCause(err)
	}

	l := &Loaded{
		Config:  &cfg,
		File:    v.ConfigFileUsed(),
		v:       v,
		sources: make(map[string]TrackedSource, len(defaults)),
	}
	for _, k := range Keys() {
		l.sources[k] = l.resolveSource(k, opts.Overrides)
	}
	return l, nil
}

func (l *Loaded) resolveSource(key string, overrides map[string]any) TrackedSource {
	if _, ok := overrides[key]; ok {
		return TrackedSource{Source: SourceFlag}
	}
	if env := EnvVar(key); os.Getenv(env) != "" {
		return TrackedSource{Source: SourceEnv, Path: env}
	}
	if l.File != "" && l.v.InConfig(key) {
		return TrackedSource{Source: SourceFile, Path: l.File}
	}
	return TrackedSource{Source: SourceDefault}
}

// Source returns where key's value came from.
func (l *Loaded) Source(key string) TrackedSource {
	if ts, ok := l.sources[key]; ok {
		return ts
	}
	return TrackedSource{Source: SourceDefault}
}

// Settings returns every key with its resolved value and source, sorted by key.
func (l *Loaded) Settings() []Setting {
	keys := Keys()
	out := make([]Setting, 0, len(keys))
	for _, k := range keys {
		out = append(out, Setting{Key: k, Value: l.v.Get(k), Source: l.Source(k)})
	}
	return out
}

// YAML renders the resolved configuration.
func (l *Loaded) YAML() ([]byte, error) {
	data, err := yaml.Marshal(l.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// WriteDefault writes a starter config file at path unless one exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() *Config {
	var cfg Config
	if err := newViper().Unmarshal(&cfg); err != nil {
		panic("config: decode defaults: " + err.Error())
	}
	return &cfg
}
