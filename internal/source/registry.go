package source

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
)

// Config holds ticket source configuration.
type Config struct {
	// Type selects the backend: "jira", "github", "gitlab", "file".
	Type string `yaml:"type" json:"type" mapstructure:"type"`

	// BaseURL is the instance URL (Jira site, GitHub Enterprise, self-hosted GitLab).
	// Leave empty for github.com / gitlab.com.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty" mapstructure:"base_url"`

	// Email is the Jira account used for basic auth.
	Email string `yaml:"email" json:"email,omitempty" mapstructure:"email"`

	// TokenEnvVar overrides the default token environment variable name.
	TokenEnvVar string `yaml:"token_env_var" json:"token_env_var,omitempty" mapstructure:"token_env_var"`

	// Project scopes searches and bare issue numbers: a Jira project key,
	// GitHub "owner/repo" or GitLab "group/project".
	Project string `yaml:"project" json:"project,omitempty" mapstructure:"project"`

	// Dir is the ticket directory for the file source.
	Dir string `yaml:"dir" json:"dir,omitempty" mapstructure:"dir"`

	// Timeout bounds each API request.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty" mapstructure:"timeout"`
}

// NewSourceFunc constructs a backend. Backends register one at init time
// so this package stays free of SDK imports.
type NewSourceFunc func(cfg Config) (Source, error)

var constructors = map[string]NewSourceFunc{}

// Register registers a backend constructor under kind.
// Called from init() in backend packages.
func Register(kind string, constructor NewSourceFunc) {
	constructors[kind] = constructor
}

// Registered lists the registered backend kinds, sorted.
func Registered() []string {
	kinds := make([]string, 0, len(constructors))
	for k := range constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New creates the backend named by cfg.Type.
func New(cfg Config) (Source, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	constructor, ok := constructors[kind]
	if !ok {
		return nil, triageerrors.ErrSourceUnknown(cfg.Type, Registered())
	}
	src, err := constructor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s source: %w", kind, err)
	}
	return src, nil
}

// ResolveToken reads the API token from cfg.TokenEnvVar if set, otherwise
// from the first non-empty default variable.
func ResolveToken(cfg Config, defaults ...string) (string, error) {
	if cfg.TokenEnvVar != "" {
		token := os.Getenv(cfg.TokenEnvVar)
		if token == "" {
			return "", fmt.Errorf("%s environment variable is not set", cfg.TokenEnvVar)
		}
		return token, nil
	}
	for _, name := range defaults {
		if token := os.Getenv(name); token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("%s environment variable is not set", strings.Join(defaults, " or "))
}

// RequestTimeout returns the configured timeout or a 30s default.
func (c Config) RequestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}
