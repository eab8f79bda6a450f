// Package pipeline runs one ticket through the linear triage stages:
// read, extract, collect evidence, classify, validate, emit.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/triage/internal/classify"
	"github.com/randalmurphal/triage/internal/config"
	"github.com/randalmurphal/triage/internal/emit"
	triageerrors "github.com/randalmurphal/triage/internal/errors"
	"github.com/randalmurphal/triage/internal/evidence"
	"github.com/randalmurphal/triage/internal/extract"
	"github.com/randalmurphal/triage/internal/history"
	"github.com/randalmurphal/triage/internal/logging"
	"github.com/randalmurphal/triage/internal/record"
	"github.com/randalmurphal/triage/internal/source"
	"github.com/randalmurphal/triage/internal/validate"
)

// Reader retrieves raw ticket content. *source.Reader implements it.
type Reader interface {
	Read(ctx context.Context, identifier string) (*source.RawContent, error)
}

// Classifier estimates the stack. *classify.Classifier implements it.
type Classifier interface {
	Classify(in classify.Input) classify.Result
}

// Emitter persists records. *emit.Emitter implements it.
type Emitter interface {
	Emit(v *validate.Validated) (*emit.Output, error)
	EmitFailure(rec *record.BugRecord) (*emit.Output, error)
}

// HistoryRecorder stores run outcomes. *history.Store implements it.
type HistoryRecorder interface {
	Record(ctx context.Context, run history.Run, candidates []classify.Candidate) (string, error)
}

// Options wires the stages together. Reader and Emitter are required.
type Options struct {
	Reader     Reader
	Analyzer   evidence.Analyzer
	Classifier Classifier
	Emitter    Emitter
	History    HistoryRecorder
	Config     *config.Config
	Clock      func() time.Time
	Logger     *logging.Logger
}

// Result is what a run produced.
type Result struct {
	// Record is the final record, or the draft when validation failed.
	Record *record.BugRecord
	// Candidates is the classifier evidence behind the estimated stack.
	Candidates []classify.Candidate
	// Outcomes holds one entry per screenshot, in screenshot order.
	Outcomes []evidence.Outcome
	// OutputPath is set when a file was written.
	OutputPath string
	// OutputSHA256 is the digest of the written bytes.
	OutputSHA256 string
	// RunID is the history entry, when history is enabled and succeeded.
	RunID string
}

// Pipeline runs tickets through the stages.
type Pipeline struct {
	reader     Reader
	collector  *evidence.Collector
	classifier Classifier
	emitter    Emitter
	history    HistoryRecorder
	cfg        *config.Config
	clock      func() time.Time
	logger     *logging.Logger
}

// New creates a pipeline. Missing optional parts get defaults: a no-op
// analyzer, the default classifier, default config, time.Now and a
// discarding logger.
func New(opts Options) (*Pipeline, error) {
	if opts.Reader == nil {
		return nil, errors.New("pipeline: reader is required")
	}
	if opts.Emitter == nil {
		return nil, errors.New("pipeline: emitter is required")
	}

	p := &Pipeline{
		reader:     opts.Reader,
		classifier: opts.Classifier,
		emitter:    opts.Emitter,
		history:    opts.History,
		cfg:        opts.Config,
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
	if p.cfg == nil {
		p.cfg = config.Default()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.classifier == nil {
		c, err := classify.New(classify.WithPlatformHints(p.cfg.Classifier.PlatformHints))
		if err != nil {
			return nil, err
		}
		p.classifier = c
	}
	p.collector = evidence.NewCollector(opts.Analyzer,
		evidence.WithConcurrency(p.cfg.Evidence.Concurrency),
		evidence.WithLogger(p.logger.Sub("evidence")),
	)
	p.logger = p.logger.Sub("pipeline")
	return p, nil
}

// Run processes one ticket. The returned error is a *errors.TriageError
// with code RETRIEVAL_FAILED, VALIDATION_FAILED or PERSISTENCE_FAILED.
// Non-fatal problems end up in the record's notes instead.
//
// On retrieval failure the minimal error record is emitted. On validation
// failure nothing is emitted and Result.Record holds the rejected draft.
func (p *Pipeline) Run(ctx context.Context, identifier string) (*Result, error) {
	raw, err := p.reader.Read(ctx, identifier)
	if err != nil {
		return p.retrievalFailed(ctx, identifier, err)
	}

	draft := extract.Extract(raw)
	p.logger.Debug().
		Str("bug_id", draft.ID).
		Str("platform", string(draft.Environment.Platform)).
		Str("reporter", logging.Redact(draft.Reporter)).
		Int("screenshots", len(draft.Screenshots)).
		Int("errors", len(draft.ExtractedErrors)).
		Msg("fields extracted")

	res := &Result{Record: draft}
	res.Outcomes = p.collector.Collect(ctx, draft)

	classified := p.classifier.Classify(classify.InputFrom(draft))
	draft.SetStack(classified.Labels)
	res.Candidates = classified.Candidates

	now := raw.FetchedAt
	if now.IsZero() {
		now = p.clock()
	}
	validate.ApplyTimestampFallback(draft, now, p.cfg.Validation.EstimateTimestamp)

	run := history.Run{Ticket: identifier, BugID: draft.ID, Source: raw.Source, Stack: draft.EstimatedStack}

	validated, err := validate.Validate(draft)
	if err != nil {
		p.logger.Error().Err(err).Str("bug_id", draft.ID).Msg("bug record rejected")
		run.Status = history.StatusValidationFailed
		run.Error = err.Error()
		res.RunID = p.recordHistory(ctx, run, res.Candidates)
		return res, err
	}
	res.Record = validated.Record()

	out, err := p.emitter.Emit(validated)
	if err != nil {
		run.Status = history.StatusPersistenceFailed
		run.Error = err.Error()
		res.RunID = p.recordHistory(ctx, run, res.Candidates)
		return res, err
	}
	res.OutputPath = out.Path
	res.OutputSHA256 = out.SHA256

	run.Status = history.StatusEmitted
	run.OutputPath = out.Path
	run.OutputSHA256 = out.SHA256
	res.RunID = p.recordHistory(ctx, run, res.Candidates)

	p.logger.Info().
		Str("bug_id", draft.ID).
		Strs("stack", draft.EstimatedStack).
		Int("notes", len(draft.Notes)).
		Str("path", out.Path).
		Msg("bug record emitted")
	return res, nil
}

func (p *Pipeline) retrievalFailed(ctx context.Context, identifier string, cause error) (*Result, error) {
	key := source.ParseIdentifier(identifier).Key
	if key == "" {
		key = identifier
	}
	p.logger.Error().Err(cause).Str("ticket", key).Msg("ticket retrieval failed")

	if triageerrors.AsTriageError(cause) == nil {
		cause = triageerrors.ErrRetrievalFailed(key).WithCause(cause)
	}

	rec := record.RetrievalFailure(key)
	res := &Result{Record: rec}
	run := history.Run{
		Ticket: identifier,
		BugID:  key,
		Status: history.StatusRetrievalFailed,
		Stack:  rec.EstimatedStack,
		Error:  cause.Error(),
	}

	out, emitErr := p.emitter.EmitFailure(rec)
	if emitErr != nil {
		p.logger.Error().Err(emitErr).Msg("failure record not written")
		res.RunID = p.recordHistory(ctx, run, nil)
		return res, errors.Join(cause, emitErr)
	}
	res.OutputPath = out.Path
	res.OutputSHA256 = out.SHA256
	run.OutputPath = out.Path
	run.OutputSHA256 = out.SHA256
	res.RunID = p.recordHistory(ctx, run, nil)
	return res, cause
}

// recordHistory stores the run. Failures are logged, never returned.
func (p *Pipeline) recordHistory(ctx context.Context, run history.Run, candidates []classify.Candidate) string {
	if p.history == nil {
		return ""
	}
	id, err := p.history.Record(ctx, run, candidates)
	if err != nil {
		p.logger.Warn().Err(err).Str("ticket", run.Ticket).Msg("run history not recorded")
		return ""
	}
	return id
}
