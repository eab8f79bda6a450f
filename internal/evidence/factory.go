package evidence

import (
	"fmt"
	"strings"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/logging"
)

// Analyzer kinds accepted by New.
const (
	KindNone    = "none"
	KindHTTP    = "http"
	KindCommand = "command"
)

// Config selects and configures an analyzer.
type Config struct {
	// Analyzer is "none", "http" or "command".
	Analyzer string `yaml:"analyzer" json:"analyzer" mapstructure:"analyzer"`
	// Concurrency bounds parallel screenshot analysis.
	Concurrency int           `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
	HTTP        HTTPConfig    `yaml:"http" json:"http" mapstructure:"http"`
	Command     CommandConfig `yaml:"command" json:"command" mapstructure:"command"`
}

// New builds the analyzer named by cfg.Analyzer.
func New(cfg Config, logger *logging.Logger) (Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Analyzer)) {
	case "", KindNone:
		return Nop{}, nil
	case KindHTTP:
		a, err := NewHTTPAnalyzer(cfg.HTTP, logger)
		if err != nil {
			return nil, triageerrors.ErrConfigInvalid("evidence.http", err.Error())
		}
		return a, nil
	case KindCommand, "ocr":
		return NewCommandAnalyzer(cfg.Command, logger), nil
	default:
		return nil, triageerrors.ErrConfigInvalid("evidence.analyzer",
			fmt.Sprintf("unknown analyzer %q (valid: %s, %s, %s)", cfg.Analyzer, KindNone, KindHTTP, KindCommand))
	}
}
