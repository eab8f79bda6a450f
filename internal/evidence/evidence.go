// Package evidence runs image analysis over a draft record's screenshots
// and merges the extracted error strings back into the record.
//
// Each screenshot is analyzed independently. A failure on one screenshot
// becomes a note on the record and never discards what the others found.
// Results are merged in screenshot order, not completion order, so
// parallel runs produce the same record as serial ones.
package evidence

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/logging"
	"github.com/randalmurphal/triage/internal/record"
)

// Analyzer extracts error text from one image.
type Analyzer interface {
	Analyze(ctx context.Context, uri string) ([]string, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, uri string) ([]string, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, uri string) ([]string, error) {
	return f(ctx, uri)
}

// ErrNoAnalyzer is returned by Nop for every screenshot.
var ErrNoAnalyzer = errors.New("no image analyzer configured")

// Nop is the analyzer used when none is configured. Every screenshot is
// reported unreachable so the record says evidence was not gathered.
type Nop struct{}

// Analyze always fails with ErrNoAnalyzer.
func (Nop) Analyze(context.Context, string) ([]string, error) {
	return nil, ErrNoAnalyzer
}

// Outcome is the analysis result for one screenshot.
type Outcome struct {
	URI    string
	Errors []string
	Err    error
}

// Collector fans analysis out over a record's screenshots.
type Collector struct {
	analyzer    Analyzer
	concurrency int
	logger      *logging.Logger
}

// Option configures a Collector.
type Option func(*Collector)

// WithConcurrency bounds how many screenshots are analyzed at once.
// Values below 1 mean serial analysis.
func WithConcurrency(n int) Option {
	return func(c *Collector) { c.concurrency = n }
}

// WithLogger sets the collector's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// NewCollector creates a Collector. A nil analyzer behaves like Nop.
func NewCollector(a Analyzer, opts ...Option) *Collector {
	if a == nil {
		a = Nop{}
	}
	c := &Collector{
		analyzer:    a,
		concurrency: 1,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	return c
}

// Collect analyzes every screenshot on draft and merges the results into
// it: extracted errors are appended in screenshot order and each failure
// adds a "screenshot <uri> unreachable" note. It returns the per-screenshot
// outcomes in the same order.
func (c *Collector) Collect(ctx context.Context, draft *record.BugRecord) []Outcome {
	uris := append([]string(nil), draft.Screenshots...)
	outcomes := make([]Outcome, len(uris))
	if len(uris) == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, uri := range uris {
		g.Go(func() error {
			outcomes[i] = c.analyze(ctx, uri)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			c.logger.Warn().Err(o.Err).Str("uri", o.URI).Msg("screenshot analysis failed")
			draft.AddNote(triageerrors.ErrImageAnalysisFailed(o.URI).What)
			continue
		}
		added := 0
		for _, e := range o.Errors {
			if !utf8.ValidString(e) {
				e = strings.ToValidUTF8(e, "\uFFFD")
				draft.AddNote(record.NoteInvalidUTF8)
			}
			if draft.AppendError(e) {
				added++
			}
		}
		c.logger.Debug().Str("uri", o.URI).Int("errors", added).Msg("screenshot analyzed")
	}
	return outcomes
}

func (c *Collector) analyze(ctx context.Context, uri string) Outcome {
	o := Outcome{URI: uri}
	if err := ctx.Err(); err != nil {
		o.Err = err
		return o
	}
	found, err := c.analyzer.Analyze(ctx, uri)
	if err != nil {
		o.Err = err
		return o
	}
	for _, s := range found {
		if s = strings.TrimSpace(s); s != "" {
			o.Errors = append(o.Errors, s)
		}
	}
	return o
}
